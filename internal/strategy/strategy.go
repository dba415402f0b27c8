// Package strategy holds site strategies and the registry that selects one
// for a URL. Strategies are shared and immutable; they are built once at
// startup and never owned by a task.
package strategy

import (
	"time"

	"github.com/JakeFAU/politecrawler/internal/crawler"
)

// Defaults applied by Base when a field is left zero.
const (
	DefaultPriority     = 100
	DefaultMaxRetries   = 3
	DefaultRequestDelay = time.Second
	DefaultUserAgent    = "SimpleCrawler/1.0"
)

// Strategy is a site-specific policy for matching, politeness, and extraction.
// Lower Priority values win.
type Strategy interface {
	Name() string
	Matches(url string) bool
	Headers(url string) map[string]string
	RequestDelay(url string) time.Duration
	ExtractURLs(cc *crawler.CrawlContext) ([]string, error)
	ExtractData(cc *crawler.CrawlContext) (*crawler.Item, error)
	MaxRetries() int
	Priority() int
}

// Base supplies default implementations for everything except Matches.
// Embed it and override what differs. Negative Delay or Retries mean zero.
type Base struct {
	StrategyName string
	Delay        time.Duration
	Retries      int
	Rank         int
	UserAgent    string
}

// Name implements Strategy.
func (b Base) Name() string { return b.StrategyName }

// Headers implements Strategy.
func (b Base) Headers(string) map[string]string {
	ua := b.UserAgent
	if ua == "" {
		ua = DefaultUserAgent
	}
	return map[string]string{"User-Agent": ua}
}

// RequestDelay implements Strategy.
func (b Base) RequestDelay(string) time.Duration {
	switch {
	case b.Delay < 0:
		return 0
	case b.Delay == 0:
		return DefaultRequestDelay
	default:
		return b.Delay
	}
}

// ExtractURLs implements Strategy.
func (b Base) ExtractURLs(*crawler.CrawlContext) ([]string, error) { return nil, nil }

// ExtractData implements Strategy.
func (b Base) ExtractData(*crawler.CrawlContext) (*crawler.Item, error) { return nil, nil }

// MaxRetries implements Strategy.
func (b Base) MaxRetries() int {
	switch {
	case b.Retries < 0:
		return 0
	case b.Retries == 0:
		return DefaultMaxRetries
	default:
		return b.Retries
	}
}

// Priority implements Strategy.
func (b Base) Priority() int {
	if b.Rank == 0 {
		return DefaultPriority
	}
	return b.Rank
}
