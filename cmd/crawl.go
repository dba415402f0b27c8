package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/politecrawler/internal/server"
)

const closeTimeout = 15 * time.Second

type crawlFlags struct {
	untilIdle bool
	idleGrace time.Duration
	addr      string
	workers   int
}

// newCrawlCmd creates the 'crawl' subcommand. Positional arguments are seed
// URLs added to crawler.seeds from the configuration.
func newCrawlCmd() *cobra.Command {
	flags := &crawlFlags{}
	cmd := &cobra.Command{
		Use:   "crawl [seed-url...]",
		Short: "Starts the crawler",
		Long: `Starts the crawl engine and the admin API. The crawl runs until the process
receives SIGINT or SIGTERM, or, with --until-idle, until no queued, in-flight
or scheduled retry work remains.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCrawl(cmd, args, flags)
		},
	}
	cmd.Flags().BoolVar(&flags.untilIdle, "until-idle", false, "exit once the crawl has no work left")
	cmd.Flags().DurationVar(&flags.idleGrace, "idle-grace", 5*time.Second, "how long the crawl must stay idle before --until-idle exits")
	cmd.Flags().StringVar(&flags.addr, "addr", "", "admin API listen address; overrides server.addr, \"-\" disables the API")
	cmd.Flags().IntVar(&flags.workers, "workers", 0, "worker count; overrides crawler.workers")
	return cmd
}

func runCrawl(cmd *cobra.Command, seeds []string, flags *crawlFlags) error {
	cfg, err := resolveConfig(cmd.Context())
	if err != nil {
		return err
	}
	switch flags.addr {
	case "":
	case "-":
		cfg.Server.Addr = ""
	default:
		cfg.Server.Addr = flags.addr
	}
	if flags.workers > 0 {
		cfg.Crawler.Workers = flags.workers
	}
	if len(seeds) == 0 && len(cfg.Crawler.Seeds) == 0 && cfg.Server.Addr == "" {
		return fmt.Errorf("no seeds given and the admin API is disabled; nothing to crawl")
	}

	app, err := newApp(cmd.Context(), cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize application services: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		_ = app.Close(ctx)
	}()

	err = app.Run(cmd.Context(), server.RunOptions{
		Seeds:        seeds,
		ExitWhenIdle: flags.untilIdle,
		IdleGrace:    flags.idleGrace,
	})
	if err != nil {
		return fmt.Errorf("run crawler: %w", err)
	}
	return nil
}
