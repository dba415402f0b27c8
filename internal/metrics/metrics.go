// Package metrics exposes Prometheus collectors for the crawl engine, the
// politeness throttle, and the admin HTTP API. Collectors are registered
// against an injected Registerer so tests and embedders can isolate them.
package metrics

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// EngineSource exposes the queue figures sampled at scrape time.
type EngineSource struct {
	QueueDepth func() int
	Dropped    func() int64
}

// Engine tracks worker activity and retries. A nil *Engine is a no-op.
type Engine struct {
	active  prometheus.Gauge
	retries prometheus.Counter
	errors  prometheus.Counter
}

// NewEngine registers the engine collectors.
func NewEngine(reg prometheus.Registerer, src EngineSource) (*Engine, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Engine{
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "crawler_active_workers",
			Help: "Number of workers currently processing a task.",
		}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crawler_retries_scheduled_total",
			Help: "Total number of failed tasks scheduled for another attempt.",
		}),
		errors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crawler_worker_errors_total",
			Help: "Total number of unexpected errors recovered inside worker loops.",
		}),
	}
	collectors := []prometheus.Collector{m.active, m.retries, m.errors}
	if src.QueueDepth != nil {
		collectors = append(collectors, prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "crawler_queue_depth",
			Help: "Number of tasks waiting in the frontier.",
		}, func() float64 { return float64(src.QueueDepth()) }))
	}
	if src.Dropped != nil {
		collectors = append(collectors, prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "crawler_queue_dropped_total",
			Help: "Total number of URLs dropped because the frontier stayed full.",
		}, func() float64 { return float64(src.Dropped()) }))
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register engine collector: %w", err)
		}
	}
	return m, nil
}

// WorkerBusy marks a worker as processing a task.
func (m *Engine) WorkerBusy() {
	if m != nil {
		m.active.Inc()
	}
}

// WorkerIdle marks a worker as done with its task.
func (m *Engine) WorkerIdle() {
	if m != nil {
		m.active.Dec()
	}
}

// RetryScheduled counts a retry.
func (m *Engine) RetryScheduled() {
	if m != nil {
		m.retries.Inc()
	}
}

// WorkerError counts a recovered worker failure.
func (m *Engine) WorkerError() {
	if m != nil {
		m.errors.Inc()
	}
}

// Throttle records politeness waits per host.
type Throttle struct {
	delays *prometheus.HistogramVec
}

// NewThrottle registers the throttle histogram.
func NewThrottle(reg prometheus.Registerer) (*Throttle, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	t := &Throttle{
		delays: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "crawler_rate_limit_delays_seconds",
			Help:    "Histogram of per-host politeness wait durations.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		}, []string{"host"}),
	}
	if err := reg.Register(t.delays); err != nil {
		return nil, fmt.Errorf("register throttle collector: %w", err)
	}
	return t, nil
}

// Observe records one wait. It matches the ratelimit OnDelay hook.
func (t *Throttle) Observe(host string, waited time.Duration) {
	if t == nil {
		return
	}
	t.delays.WithLabelValues(SanitizeSite(host)).Observe(waited.Seconds())
}

// SanitizeSite reduces a URL or host to a lowercase hostname label.
func SanitizeSite(raw string) string {
	if !strings.HasPrefix(raw, "http") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}
