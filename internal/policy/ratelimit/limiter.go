// Package ratelimit throttles requests per host so that consecutive fetches
// against the same site honour the configured request delay.
package ratelimit

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config holds limiter defaults.
type Config struct {
	// Burst is the number of requests allowed back to back. Defaults to 1.
	Burst int
	// OnDelay, if set, observes waits longer than a millisecond.
	OnDelay func(host string, waited time.Duration)
}

// Limiter manages one token bucket per host.
type Limiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	cfg      Config
}

// New creates a Limiter.
func New(cfg Config) *Limiter {
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	return &Limiter{
		limiters: make(map[string]*rate.Limiter),
		cfg:      cfg,
	}
}

// Wait blocks until rawURL's host may be fetched again, spacing requests by
// interval. A non-positive interval leaves the host unthrottled. The most
// recent interval for a host wins.
func (l *Limiter) Wait(ctx context.Context, rawURL string, interval time.Duration) error {
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	host := hostKey(rawURL)

	l.mu.Lock()
	limiter, ok := l.limiters[host]
	if !ok {
		limiter = rate.NewLimiter(limit, l.cfg.Burst)
		l.limiters[host] = limiter
	} else if limiter.Limit() != limit {
		limiter.SetLimit(limit)
	}
	l.mu.Unlock()

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond && l.cfg.OnDelay != nil {
		l.cfg.OnDelay(host, waited)
	}
	return nil
}

// Hosts returns the number of hosts seen so far.
func (l *Limiter) Hosts() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

func hostKey(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}
