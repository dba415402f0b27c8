package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/politecrawler/internal/crawler"
	"github.com/JakeFAU/politecrawler/internal/pipeline"
	"github.com/JakeFAU/politecrawler/internal/policy/robots"
	"github.com/JakeFAU/politecrawler/internal/policy/scope"
	"github.com/JakeFAU/politecrawler/internal/progress"
	"github.com/JakeFAU/politecrawler/internal/retry"
	"github.com/JakeFAU/politecrawler/internal/strategy"
)

type options struct {
	logger        *zap.Logger
	fetcher       crawler.Fetcher
	pipeline      *pipeline.Pipeline
	strategies    *strategy.Registry
	listeners     []progress.Listener
	classifier    *retry.Classifier
	sink          crawler.ItemSink
	archive       crawler.BlobStore
	archivePrefix string
	robots        robots.Policy
	throttle      pipeline.Throttle
	scope         *scope.Policy
	registerer    prometheus.Registerer
	tracer        trace.TracerProvider
}

// Option customizes an Engine.
type Option func(*options)

// WithLogger sets the engine logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithFetcher sets the fetch capability used by the default pipeline.
func WithFetcher(f crawler.Fetcher) Option {
	return func(o *options) { o.fetcher = f }
}

// WithPipeline replaces the default pipeline entirely.
func WithPipeline(p *pipeline.Pipeline) Option {
	return func(o *options) { o.pipeline = p }
}

// WithStrategies sets the strategy registry.
func WithStrategies(r *strategy.Registry) Option {
	return func(o *options) { o.strategies = r }
}

// WithListeners subscribes listeners to the event bus.
func WithListeners(ls ...progress.Listener) Option {
	return func(o *options) { o.listeners = append(o.listeners, ls...) }
}

// WithClassifier sets the error classifier consulted on failures.
func WithClassifier(c *retry.Classifier) Option {
	return func(o *options) { o.classifier = c }
}

// WithItemSink sets where extracted items are stored.
func WithItemSink(s crawler.ItemSink) Option {
	return func(o *options) { o.sink = s }
}

// WithArchive adds an archive stage writing raw pages under prefix.
func WithArchive(store crawler.BlobStore, prefix string) Option {
	return func(o *options) {
		o.archive = store
		o.archivePrefix = prefix
	}
}

// WithRobots adds a robots.txt stage ahead of the fetch.
func WithRobots(p robots.Policy) Option {
	return func(o *options) { o.robots = p }
}

// WithThrottle sets the per-host politeness throttle.
func WithThrottle(t pipeline.Throttle) Option {
	return func(o *options) { o.throttle = t }
}

// WithScope filters discovered URLs.
func WithScope(p *scope.Policy) Option {
	return func(o *options) { o.scope = p }
}

// WithMetrics registers engine collectors with reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithTracerProvider sets the provider used for per-task spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) { o.tracer = tp }
}
