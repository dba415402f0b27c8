// Package cmd defines and implements the CLI commands for the politecrawler
// executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/politecrawler/internal/config"
	"github.com/JakeFAU/politecrawler/internal/server"
)

type configKeyType struct{}

// App is the application surface commands drive. It is satisfied by
// *server.App and replaced in tests.
type App interface {
	Run(ctx context.Context, opts server.RunOptions) error
	Close(ctx context.Context) error
}

// newApp is the application factory. It's a variable so tests can swap it.
var newApp = func(ctx context.Context, cfg config.Config) (App, error) {
	return server.Build(ctx, cfg)
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "politecrawler",
		Short: "A polite, extensible web crawler.",
		Long: `politecrawler crawls the web from a set of seed URLs, honouring robots.txt
and per-host delays, extracting items with configurable HTML strategies and
writing them to the configured storage backend.`,
		SilenceUsage: true,

		// Loads configuration before any subcommand runs so flags and
		// environment overrides are resolved once.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), configKeyType{}, cfg))
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML, JSON or TOML); CRAWLER_* env vars override it")

	cmd.AddCommand(newCrawlCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newVersionCmd())
	return cmd
}

func resolveConfig(ctx context.Context) (config.Config, error) {
	cfg, ok := ctx.Value(configKeyType{}).(config.Config)
	if !ok {
		return config.Config{}, errors.New("configuration not loaded")
	}
	return cfg, nil
}

// Execute is the main entry point. SIGINT and SIGTERM cancel the command
// context, which stops a running crawl gracefully.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}
