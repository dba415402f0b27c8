// Package server builds the crawler service: it resolves configuration into
// concrete dependencies, runs the engine next to the admin API, and tears
// everything down in order.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/politecrawler/internal/api"
	"github.com/JakeFAU/politecrawler/internal/config"
	"github.com/JakeFAU/politecrawler/internal/engine"
	"github.com/JakeFAU/politecrawler/internal/fetcher"
	collyfetcher "github.com/JakeFAU/politecrawler/internal/fetcher/colly"
	"github.com/JakeFAU/politecrawler/internal/fetcher/headless"
	"github.com/JakeFAU/politecrawler/internal/logging"
	"github.com/JakeFAU/politecrawler/internal/metrics"
	"github.com/JakeFAU/politecrawler/internal/policy/ratelimit"
	"github.com/JakeFAU/politecrawler/internal/policy/robots"
	"github.com/JakeFAU/politecrawler/internal/policy/scope"
	"github.com/JakeFAU/politecrawler/internal/progress"
	"github.com/JakeFAU/politecrawler/internal/progress/listeners"
	"github.com/JakeFAU/politecrawler/internal/proxy"
	gcppublisher "github.com/JakeFAU/politecrawler/internal/publisher/pubsub"
	"github.com/JakeFAU/politecrawler/internal/retry"
	"github.com/JakeFAU/politecrawler/internal/storage"
	"github.com/JakeFAU/politecrawler/internal/storage/postgres"
	"github.com/JakeFAU/politecrawler/internal/strategy"
	"github.com/JakeFAU/politecrawler/internal/telemetry"
)

// Version is stamped into traces; the release build overrides it.
var Version = "dev"

const (
	shutdownTimeout   = 10 * time.Second
	readHeaderTimeout = 5 * time.Second
	defaultIdleGrace  = 2 * time.Second
)

// App contains the application's dependencies.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	registry  *prometheus.Registry
	engine    *engine.Engine
	fetcher   fetcher.Closer
	sink      storage.Sink
	blobs     storage.Blobs
	publisher *gcppublisher.Publisher
	apiServer *api.Server
	tracer    *sdktrace.TracerProvider
	sites     *listeners.Sites
	recent    *listeners.Recent
}

// RunOptions controls a single crawl run.
type RunOptions struct {
	// Seeds are queued in addition to crawler.seeds from the configuration.
	Seeds []string
	// ExitWhenIdle stops the crawl once the engine has had no queued,
	// in-flight, or pending retry work for IdleGrace.
	ExitWhenIdle bool
	IdleGrace    time.Duration
}

// Build creates the application's dependencies. On error everything built
// so far is released.
func Build(ctx context.Context, cfg config.Config) (_ *App, err error) {
	if err = cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	logger, err := logging.New(logging.Config{
		Development: cfg.Logging.Development,
		Level:       cfg.Logging.Level,
	})
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)

	app := &App{
		cfg:      cfg,
		logger:   logger,
		registry: prometheus.NewRegistry(),
		sites:    listeners.NewSites(),
		recent:   listeners.NewRecent(listeners.DefaultRecentCapacity),
	}
	defer func() {
		if err != nil {
			closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			app.closeInfrastructure(closeCtx)
			app.closeObservability(closeCtx)
		}
	}()
	app.logger.Info("building application dependencies",
		zap.String("fetcher", cfg.Fetcher.Type),
		zap.String("storage", cfg.Storage.Type),
		zap.String("archive", cfg.Archive.Type),
		zap.Int("workers", cfg.Crawler.Workers),
	)

	app.tracer, err = telemetry.InitTracerProvider(ctx, telemetry.Config{
		ServiceName: cfg.Telemetry.ServiceName,
		Version:     Version,
		Exporter:    cfg.Telemetry.Exporter,
	})
	if err != nil {
		return nil, fmt.Errorf("tracer init failed: %w", err)
	}
	app.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	opts, err := app.setupEngineOptions(ctx)
	if err != nil {
		return nil, err
	}
	app.engine, err = engine.New(cfg.Engine(), opts...)
	if err != nil {
		return nil, fmt.Errorf("engine init failed: %w", err)
	}

	httpMetrics, err := metrics.NewHTTP(app.registry)
	if err != nil {
		return nil, fmt.Errorf("http metrics init failed: %w", err)
	}
	app.apiServer = api.NewServer(api.Deps{
		Crawler:  app.engine,
		Sites:    app.sites,
		Recent:   app.recent,
		Config:   cfg,
		Gatherer: app.registry,
		Metrics:  httpMetrics,
		Logger:   logger.Named("api"),
	})
	return app, nil
}

func (a *App) setupEngineOptions(ctx context.Context) ([]engine.Option, error) {
	throttleMetrics, err := metrics.NewThrottle(a.registry)
	if err != nil {
		return nil, fmt.Errorf("throttle metrics init failed: %w", err)
	}
	limiter := ratelimit.New(ratelimit.Config{
		OnDelay: throttleMetrics.Observe,
	})

	if err := a.setupFetcher(); err != nil {
		return nil, err
	}
	if err := a.setupStorage(ctx); err != nil {
		return nil, err
	}
	registry, err := a.setupStrategies()
	if err != nil {
		return nil, err
	}
	ls, err := a.setupListeners(ctx)
	if err != nil {
		return nil, err
	}

	policy := retry.DefaultPolicy()
	policy.MaxRetries = a.cfg.Crawler.MaxRetries
	return []engine.Option{
		engine.WithLogger(a.logger.Named("engine")),
		engine.WithFetcher(a.fetcher),
		engine.WithStrategies(registry),
		engine.WithClassifier(retry.NewClassifier(policy)),
		engine.WithRobots(robots.New(a.cfg.Crawler.RespectRobots, a.cfg.Crawler.UserAgent, a.logger.Named("robots"))),
		engine.WithThrottle(limiter),
		engine.WithScope(scope.New(a.cfg.Crawler.BlockedHosts)),
		engine.WithItemSink(a.sink.ItemSink),
		engine.WithArchive(a.blobs.BlobStore, a.cfg.Archive.Prefix),
		engine.WithListeners(ls...),
		engine.WithMetrics(a.registry),
		engine.WithTracerProvider(a.tracer),
	}, nil
}

func (a *App) setupFetcher() error {
	var rotator *proxy.Rotator
	var proxyServer string
	if a.cfg.Proxy.Enabled {
		entries, err := a.cfg.ProxyEntries()
		if err != nil {
			return fmt.Errorf("proxy config: %w", err)
		}
		rotator = proxy.NewRotator(entries, a.cfg.Proxy.MaxUses)
		if len(entries) > 0 {
			proxyServer = entries[0].URL().String()
		}
		a.logger.Info("proxy rotation enabled",
			zap.Int("entries", len(entries)),
			zap.Int("max_uses", a.cfg.Proxy.MaxUses),
		)
	}
	f, err := fetcher.New(fetcher.Config{
		Backend: a.cfg.Fetcher.Type,
		HTTP: collyfetcher.Config{
			UserAgent:      a.cfg.Crawler.UserAgent,
			ConnectTimeout: a.cfg.Crawler.ConnectTimeout,
			Timeout:        a.cfg.Crawler.SocketTimeout,
			MaxConnections: a.cfg.Crawler.MaxConnections,
			MaxBodySize:    a.cfg.Crawler.MaxPageSize,
			Proxies:        rotator,
			Logger:         a.logger.Named("colly"),
		},
		Headless: headless.Config{
			MaxParallel:       a.cfg.Fetcher.Headless.MaxParallel,
			UserAgent:         a.cfg.Crawler.UserAgent,
			NavigationTimeout: a.cfg.Fetcher.Headless.NavTimeout,
			ProxyServer:       proxyServer,
		},
		PromoteThreshold: a.cfg.Fetcher.Headless.PromoteThreshold,
		Logger:           a.logger.Named("fetcher"),
	})
	if err != nil {
		return fmt.Errorf("fetcher init failed: %w", err)
	}
	a.fetcher = f
	return nil
}

func (a *App) setupStorage(ctx context.Context) error {
	var err error
	a.sink, err = storage.NewSink(ctx, storage.SinkConfig{
		Type: a.cfg.Storage.Type,
		Path: a.cfg.Storage.Path,
		Postgres: postgres.Config{
			DSN:   a.cfg.Storage.Postgres.DSN,
			Table: a.cfg.Storage.Postgres.Table,
		},
		SQLitePath: a.cfg.Storage.SQLite.Path,
	})
	if err != nil {
		return fmt.Errorf("item sink init failed: %w", err)
	}
	a.logger.Info("item sink ready", zap.String("type", a.cfg.Storage.Type))

	a.blobs, err = storage.NewBlobs(ctx, storage.BlobConfig{
		Type:      a.cfg.Archive.Type,
		LocalDir:  a.cfg.Archive.Local.BaseDir,
		GCSBucket: a.cfg.Archive.GCS.Bucket,
	})
	if err != nil {
		return fmt.Errorf("archive init failed: %w", err)
	}
	if a.blobs.BlobStore == nil {
		a.logger.Info("page archiving disabled")
	} else {
		a.logger.Info("page archive ready",
			zap.String("type", a.cfg.Archive.Type),
			zap.String("prefix", a.cfg.Archive.Prefix),
		)
	}
	return nil
}

// setupStrategies compiles the configured strategies. Without any, a single
// catch-all strategy follows every link and records page titles.
func (a *App) setupStrategies() (*strategy.Registry, error) {
	registry := strategy.NewRegistry()
	if len(a.cfg.Strategies) == 0 {
		// A zero crawler.delay means no spacing; strategies treat zero as
		// "use the default" and negative as none.
		delay := a.cfg.Crawler.Delay
		if delay == 0 {
			delay = -1
		}
		s, err := strategy.NewHTML(strategy.HTMLConfig{
			Name:       "default",
			Delay:      delay,
			MaxRetries: a.cfg.Crawler.MaxRetries,
			UserAgent:  a.cfg.Crawler.UserAgent,
		})
		if err != nil {
			return nil, fmt.Errorf("default strategy: %w", err)
		}
		registry.Register(s)
		a.logger.Info("no strategies configured; using default")
		return registry, nil
	}
	for _, sc := range a.cfg.Strategies {
		s, err := strategy.NewHTML(strategy.HTMLConfig{
			Name:         sc.Name,
			Hosts:        sc.Hosts,
			Priority:     sc.Priority,
			Delay:        sc.Delay,
			MaxRetries:   sc.MaxRetries,
			UserAgent:    a.cfg.Crawler.UserAgent,
			Headers:      sc.Headers,
			SameHost:     sc.SameHost,
			LinkSelector: sc.LinkSelector,
			Fields:       sc.Fields,
			Required:     sc.Required,
		})
		if err != nil {
			return nil, fmt.Errorf("strategy init failed: %w", err)
		}
		registry.Register(s)
		a.logger.Debug("strategy registered",
			zap.String("name", sc.Name),
			zap.Strings("hosts", sc.Hosts),
			zap.Int("priority", sc.Priority),
		)
	}
	return registry, nil
}

func (a *App) setupListeners(ctx context.Context) ([]progress.Listener, error) {
	ls := []progress.Listener{a.sites, a.recent}
	if a.cfg.Events.Log {
		ls = append(ls, listeners.NewLog(a.logger.Named("events")))
	}
	if a.cfg.Events.Metrics {
		p, err := listeners.NewPrometheus(a.registry)
		if err != nil {
			return nil, fmt.Errorf("event metrics init failed: %w", err)
		}
		ls = append(ls, p)
	}
	if a.cfg.PubSub.Enabled {
		pub, err := gcppublisher.New(ctx, gcppublisher.Config{ProjectID: a.cfg.PubSub.ProjectID})
		if err != nil {
			return nil, fmt.Errorf("pubsub publisher init failed: %w", err)
		}
		a.publisher = pub
		ls = append(ls, listeners.NewForwarder(pub, a.cfg.PubSub.TopicID))
		a.logger.Info("Pub/Sub forwarding enabled",
			zap.String("project", a.cfg.PubSub.ProjectID),
			zap.String("topic", a.cfg.PubSub.TopicID),
		)
	}
	return ls, nil
}

// Engine exposes the crawl engine.
func (a *App) Engine() *engine.Engine {
	return a.engine
}

// Handler returns the admin API handler.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Run starts the engine and the admin API, then blocks until ctx is canceled,
// the API server fails, or, with ExitWhenIdle, the crawl runs dry.
func (a *App) Run(ctx context.Context, opts RunOptions) error {
	seeds := append(append([]string(nil), a.cfg.Crawler.Seeds...), opts.Seeds...)
	if err := a.engine.Start(seeds); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}
	a.logger.Info("application started", zap.Int("seeds", len(seeds)))

	g, gctx := errgroup.WithContext(ctx)
	if a.cfg.Server.Addr != "" {
		srv := &http.Server{
			Addr:              a.cfg.Server.Addr,
			Handler:           a.apiServer.Handler(),
			ReadHeaderTimeout: readHeaderTimeout,
		}
		g.Go(func() error {
			a.logger.Info("http server started", zap.String("addr", a.cfg.Server.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				a.logger.Error("server shutdown error", zap.Error(err))
			}
			return nil
		})
	}
	if opts.ExitWhenIdle {
		g.Go(func() error {
			return a.waitIdle(gctx, opts.IdleGrace)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutdown initiated")
		a.engine.Stop()
		return nil
	})

	err := g.Wait()
	if errors.Is(err, errCrawlIdle) {
		return nil
	}
	return err
}

var errCrawlIdle = errors.New("crawl idle")

// waitIdle returns errCrawlIdle, which cancels the group, once the engine
// has stayed idle for grace.
func (a *App) waitIdle(ctx context.Context, grace time.Duration) error {
	if grace <= 0 {
		grace = defaultIdleGrace
	}
	poll := min(grace/4, a.cfg.Crawler.PollInterval)
	if poll <= 0 {
		poll = grace / 4
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	var since time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			if !a.engine.Idle() {
				since = time.Time{}
				continue
			}
			if since.IsZero() {
				since = now
			}
			if now.Sub(since) >= grace {
				report := a.engine.Statistics()
				a.logger.Info("crawl finished; no work left",
					zap.Int64("fetched", report.Fetched),
					zap.Int64("fetch_errors", report.FetchErrors),
				)
				return errCrawlIdle
			}
		}
	}
}

// Close stops the engine if needed and releases every dependency.
func (a *App) Close(ctx context.Context) error {
	if a.engine != nil {
		a.engine.Stop()
	}
	a.closeInfrastructure(ctx)
	a.closeObservability(ctx)
	a.logger.Info("shutdown complete")
	return nil
}

func (a *App) closeInfrastructure(_ context.Context) {
	if a.fetcher != nil {
		if err := a.fetcher.Close(); err != nil {
			a.logger.Warn("fetcher close failed", zap.Error(err))
		}
	}
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.sink.Close != nil {
		if err := a.sink.Close(); err != nil {
			a.logger.Warn("item sink close failed", zap.Error(err))
		}
	}
	if a.blobs.Close != nil {
		if err := a.blobs.Close(); err != nil {
			a.logger.Warn("archive close failed", zap.Error(err))
		}
	}
}

func (a *App) closeObservability(ctx context.Context) {
	if a.tracer != nil {
		if err := a.tracer.Shutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}
