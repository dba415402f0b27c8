// Package frontier provides the bounded URL work queue shared by all crawl
// workers, plus the tracker used to suppress rediscovered URLs.
package frontier

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/politecrawler/internal/crawler"
	"github.com/JakeFAU/politecrawler/internal/progress"
)

const defaultOfferTimeout = time.Second

// Config controls queue capacity and backpressure.
type Config struct {
	// Capacity bounds the number of pending tasks.
	Capacity int
	// OfferTimeout is how long Enqueue waits for room before dropping.
	OfferTimeout time.Duration
	// Publisher receives URL_QUEUED events.
	Publisher progress.Publisher
	Logger    *zap.Logger
}

// Frontier is a bounded FIFO of crawl tasks. A full queue drops new work
// after OfferTimeout rather than growing without bound.
type Frontier struct {
	ch        chan crawler.Task
	timeout   time.Duration
	publisher progress.Publisher
	logger    *zap.Logger
	dropped   atomic.Int64
}

// New constructs a Frontier. Capacity below one is raised to one.
func New(cfg Config) *Frontier {
	if cfg.Capacity <= 0 {
		cfg.Capacity = 1
	}
	if cfg.OfferTimeout <= 0 {
		cfg.OfferTimeout = defaultOfferTimeout
	}
	if cfg.Publisher == nil {
		cfg.Publisher = progress.Discard
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Frontier{
		ch:        make(chan crawler.Task, cfg.Capacity),
		timeout:   cfg.OfferTimeout,
		publisher: cfg.Publisher,
		logger:    cfg.Logger,
	}
}

// AddURL enqueues a first-attempt task for url.
func (f *Frontier) AddURL(url string) bool {
	return f.Enqueue(crawler.NewTask(url))
}

// Enqueue offers task to the queue. Blank URLs are ignored silently. When
// the queue stays full for the offer timeout the task is dropped with a
// warning. URL_QUEUED is published only for accepted tasks.
func (f *Frontier) Enqueue(task crawler.Task) bool {
	task.URL = strings.TrimSpace(task.URL)
	if task.URL == "" {
		return false
	}
	if task.EnqueuedAt.IsZero() {
		task.EnqueuedAt = time.Now().UTC()
	}
	if !f.offer(task) {
		f.dropped.Add(1)
		f.logger.Warn("frontier full; dropping url",
			zap.String("url", task.URL),
			zap.Int("retry", task.Retry),
			zap.Int("capacity", cap(f.ch)),
		)
		return false
	}
	evt := progress.NewEvent(progress.URLQueued).WithURL(task.URL)
	if task.Retry > 0 {
		evt = evt.With(progress.KeyRetry, task.Retry)
	}
	f.publisher.Publish(evt)
	return true
}

func (f *Frontier) offer(task crawler.Task) bool {
	select {
	case f.ch <- task:
		return true
	default:
	}
	timer := time.NewTimer(f.timeout)
	defer timer.Stop()
	select {
	case f.ch <- task:
		return true
	case <-timer.C:
		return false
	}
}

// Dequeue waits up to wait for the next task. It returns false on timeout or
// when ctx ends so callers can re-check their own state.
func (f *Frontier) Dequeue(ctx context.Context, wait time.Duration) (crawler.Task, bool) {
	select {
	case task := <-f.ch:
		return task, true
	default:
	}
	if wait <= 0 {
		return crawler.Task{}, false
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case task := <-f.ch:
		return task, true
	case <-timer.C:
		return crawler.Task{}, false
	case <-ctx.Done():
		return crawler.Task{}, false
	}
}

// Len returns the number of pending tasks.
func (f *Frontier) Len() int {
	return len(f.ch)
}

// Cap returns the queue capacity.
func (f *Frontier) Cap() int {
	return cap(f.ch)
}

// Dropped returns how many tasks were rejected because the queue was full.
func (f *Frontier) Dropped() int64 {
	return f.dropped.Load()
}
