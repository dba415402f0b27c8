package listeners

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/politecrawler/internal/progress"
)

// Prometheus exports crawl event metrics. It owns all collectors for event
// counts, fetch latency, downloaded bytes, and the running flag.
type Prometheus struct {
	events        *prometheus.CounterVec
	fetchDuration *prometheus.HistogramVec
	pageBytes     prometheus.Counter
	running       prometheus.Gauge
}

// NewPrometheus registers the collectors against the provided registry.
func NewPrometheus(reg prometheus.Registerer) (*Prometheus, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	p := &Prometheus{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawler_events_total",
			Help: "Crawl events partitioned by type.",
		}, []string{"type"}),
		fetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "crawler_page_duration_seconds",
			Help:    "Pipeline duration per page partitioned by result.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		}, []string{"result"}),
		pageBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crawler_page_bytes_total",
			Help: "Bytes of page content fetched.",
		}),
		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "crawler_running",
			Help: "1 while the crawler is running.",
		}),
	}
	for _, collector := range []prometheus.Collector{p.events, p.fetchDuration, p.pageBytes, p.running} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register event collector: %w", err)
		}
	}
	return p, nil
}

// Name implements progress.Listener.
func (p *Prometheus) Name() string { return "prometheus" }

// Interests implements progress.Listener.
func (p *Prometheus) Interests() []progress.Type { return nil }

// OnEvent implements progress.Listener.
func (p *Prometheus) OnEvent(_ context.Context, evt progress.Event) error {
	p.events.WithLabelValues(string(evt.Type)).Inc()
	switch evt.Type {
	case progress.CrawlerStarted:
		p.running.Set(1)
	case progress.CrawlerStopped:
		p.running.Set(0)
	case progress.PageFetchSuccess:
		p.observe(evt, "success")
		if v, ok := evt.Value(progress.KeyBytes); ok {
			if n, ok := v.(int); ok && n > 0 {
				p.pageBytes.Add(float64(n))
			}
		}
	case progress.PageFetchFailed:
		p.observe(evt, "failure")
	}
	return nil
}

func (p *Prometheus) observe(evt progress.Event, result string) {
	if d := evt.Duration(progress.KeyElapsed); d > 0 {
		p.fetchDuration.WithLabelValues(result).Observe(d.Seconds())
	}
}
