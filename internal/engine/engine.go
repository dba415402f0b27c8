// Package engine orchestrates a crawl: it owns the frontier, the worker
// pool, the processing pipeline, and the event bus, and turns retry
// decisions into bounded, delayed re-enqueues.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/politecrawler/internal/frontier"
	"github.com/JakeFAU/politecrawler/internal/metrics"
	"github.com/JakeFAU/politecrawler/internal/pipeline"
	"github.com/JakeFAU/politecrawler/internal/progress"
	"github.com/JakeFAU/politecrawler/internal/progress/listeners"
	"github.com/JakeFAU/politecrawler/internal/retry"
	"github.com/JakeFAU/politecrawler/internal/strategy"
)

// ErrClosed is returned by Start once the engine has been stopped.
var ErrClosed = errors.New("engine stopped")

const forceCancelGrace = time.Second

// Engine runs a crawl. The zero value is not usable; build one with New.
type Engine struct {
	cfg        Config
	logger     *zap.Logger
	bus        *progress.Bus
	frontier   *frontier.Frontier
	pipeline   *pipeline.Pipeline
	strategies *strategy.Registry
	classifier *retry.Classifier
	stats      *listeners.Stats
	metrics    *metrics.Engine
	tracer     trace.Tracer

	mu      sync.Mutex
	closed  bool
	running atomic.Bool
	live    atomic.Int32
	// pending counts tasks being processed plus retries waiting to re-enqueue.
	pending atomic.Int64

	stopCtx    context.Context
	stopCancel context.CancelFunc
	workCtx    context.Context
	workCancel context.CancelFunc
	workers    sync.WaitGroup
	retries    sync.WaitGroup
}

// New validates cfg and assembles an engine. Unless WithPipeline is given,
// the pipeline is robots (optional), fetch, archive (optional), parse.
func New(cfg Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid engine config: %w", err)
	}
	cfg = cfg.withDefaults()

	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.strategies == nil {
		o.strategies = strategy.NewRegistry()
	}
	if o.classifier == nil {
		o.classifier = retry.NewClassifier(retry.DefaultPolicy())
	}
	if o.tracer == nil {
		o.tracer = otel.GetTracerProvider()
	}

	stats := listeners.NewStats()
	mode := progress.Sync
	if cfg.AsyncEvents {
		mode = progress.Async
	}
	bus := progress.NewBus(progress.Config{
		Mode:       mode,
		Workers:    cfg.EventWorkers,
		BufferSize: cfg.EventBuffer,
		Logger:     o.logger.Named("events"),
	}, stats)
	for _, l := range o.listeners {
		if !bus.Subscribe(l) {
			o.logger.Warn("listener not subscribed", zap.String("listener", listenerName(l)))
		}
	}

	queue := frontier.New(frontier.Config{
		Capacity:     cfg.QueueCapacity,
		OfferTimeout: cfg.EnqueueTimeout,
		Publisher:    bus,
		Logger:       o.logger.Named("frontier"),
	})

	e := &Engine{
		cfg:        cfg,
		logger:     o.logger,
		bus:        bus,
		frontier:   queue,
		strategies: o.strategies,
		classifier: o.classifier,
		stats:      stats,
		tracer:     o.tracer.Tracer("github.com/JakeFAU/politecrawler/internal/engine"),
	}
	if o.registerer != nil {
		m, err := metrics.NewEngine(o.registerer, metrics.EngineSource{
			QueueDepth: queue.Len,
			Dropped:    queue.Dropped,
		})
		if err != nil {
			return nil, fmt.Errorf("engine metrics: %w", err)
		}
		e.metrics = m
	}

	e.pipeline = o.pipeline
	if e.pipeline == nil {
		e.pipeline = e.defaultPipeline(o)
	}
	return e, nil
}

func (e *Engine) defaultPipeline(o options) *pipeline.Pipeline {
	p := pipeline.New()
	if o.robots != nil {
		p.Add(pipeline.NewRobotsStage(o.robots, e.logger.Named("robots")))
	}
	p.Add(pipeline.NewFetchStage(pipeline.FetchConfig{
		Fetcher:    o.fetcher,
		Strategies: e.strategies,
		Throttle:   o.throttle,
		UserAgent:  e.cfg.UserAgent,
		Logger:     e.logger.Named("fetch"),
	}))
	if o.archive != nil {
		p.Add(pipeline.NewArchiveStage(o.archive, o.archivePrefix, e.logger.Named("archive")))
	}
	p.Add(pipeline.NewParseStage(pipeline.ParseConfig{
		Strategies: e.strategies,
		Enqueuer:   e.frontier,
		Seen:       frontier.NewSeen(),
		Scope:      o.scope,
		Sink:       o.sink,
		Publisher:  e.bus,
		Logger:     e.logger.Named("parse"),
	}))
	return p
}

// Start moves the engine to running, publishes CRAWLER_STARTED, queues the
// seeds, and launches the workers. Calling Start while running is a no-op.
func (e *Engine) Start(seeds []string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	if e.running.Load() {
		e.logger.Debug("start ignored; engine already running")
		return nil
	}
	e.stopCtx, e.stopCancel = context.WithCancel(context.Background())
	e.workCtx, e.workCancel = context.WithCancel(context.Background())
	e.running.Store(true)

	e.bus.Publish(progress.NewEvent(progress.CrawlerStarted).
		With("workers", e.cfg.Workers).
		With("seeds", len(seeds)))
	for _, seed := range seeds {
		e.frontier.AddURL(seed)
	}
	for id := range e.cfg.Workers {
		e.workers.Add(1)
		e.live.Add(1)
		go e.runWorker(id)
	}
	e.logger.Info("crawler started",
		zap.Int("workers", e.cfg.Workers),
		zap.Int("seeds", len(seeds)),
		zap.Strings("stages", e.pipeline.Names()),
	)
	return nil
}

// Stop halts the crawl. Workers finish their current task and exit at the
// next poll; after ShutdownTimeout in-flight work is canceled. Stop then
// publishes CRAWLER_STOPPED and closes the event bus. It is idempotent and
// safe to call before Start.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running.Load() {
		return
	}
	e.running.Store(false)
	e.stopCancel()

	done := make(chan struct{})
	go func() {
		e.workers.Wait()
		e.retries.Wait()
		close(done)
	}()
	timer := time.NewTimer(e.cfg.ShutdownTimeout)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		e.logger.Warn("workers did not stop in time; canceling in-flight work",
			zap.Duration("timeout", e.cfg.ShutdownTimeout))
		e.workCancel()
		select {
		case <-done:
		case <-time.After(forceCancelGrace):
			e.logger.Error("workers still running after cancellation", zap.Int32("live", e.live.Load()))
		}
	}
	e.workCancel()
	e.closed = true

	e.bus.Publish(progress.NewEvent(progress.CrawlerStopped).With(progress.KeyMessage, "stopped"))
	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.EventCloseTimeout)
	defer cancel()
	if err := e.bus.Close(ctx); err != nil {
		e.logger.Warn("event bus did not drain", zap.Error(err))
	}
	report := e.stats.Report()
	e.logger.Info("crawler stopped",
		zap.Int64("fetched", report.Fetched),
		zap.Int64("fetch_errors", report.FetchErrors),
		zap.Int("queued", e.frontier.Len()),
	)
}

// AddURL queues url for crawling. Blank URLs are ignored; a full queue
// drops the URL after the enqueue timeout.
func (e *Engine) AddURL(url string) bool {
	return e.frontier.AddURL(url)
}

// QueueSize returns the number of pending tasks.
func (e *Engine) QueueSize() int {
	return e.frontier.Len()
}

// Idle reports whether the engine has no queued, in-flight, or scheduled
// retry work. A worker that has just dequeued a task may not be counted yet,
// so callers should require Idle to hold across more than one poll.
func (e *Engine) Idle() bool {
	return e.frontier.Len() == 0 && e.pending.Load() == 0
}

// IsRunning reports whether the engine is running.
func (e *Engine) IsRunning() bool {
	return e.running.Load()
}

// Workers returns the number of live worker goroutines.
func (e *Engine) Workers() int {
	return int(e.live.Load())
}

// Statistics returns the crawl counters.
func (e *Engine) Statistics() listeners.Report {
	return e.stats.Report()
}

// Config returns the effective configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// Pipeline exposes the pipeline so stages can be added or removed.
func (e *Engine) Pipeline() *pipeline.Pipeline {
	return e.pipeline
}

// Bus exposes the event bus so listeners can be subscribed.
func (e *Engine) Bus() *progress.Bus {
	return e.bus
}

// Strategies exposes the strategy registry.
func (e *Engine) Strategies() *strategy.Registry {
	return e.strategies
}

func listenerName(l progress.Listener) string {
	if l == nil {
		return "<nil>"
	}
	return l.Name()
}
