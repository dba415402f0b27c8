package engine

import (
	"fmt"
	"strings"
	"time"

	"github.com/JakeFAU/politecrawler/internal/strategy"
)

// Config is the engine's configuration surface. Timeouts and connection
// limits are consumed by the fetch capability; the engine validates them so
// a misconfigured crawl fails at construction.
type Config struct {
	ConnectTimeout  time.Duration
	SocketTimeout   time.Duration
	MaxConnections  int
	UserAgent       string
	Workers         int
	QueueCapacity   int
	Delay           time.Duration
	EnqueueTimeout  time.Duration
	PollInterval    time.Duration
	ShutdownTimeout time.Duration
	// MaxRetries caps re-attempts of a failed task. Zero disables retries.
	MaxRetries int
	// MaxRetryDelay caps the backoff between attempts.
	MaxRetryDelay time.Duration

	AsyncEvents       bool
	EventWorkers      int
	EventBuffer       int
	EventCloseTimeout time.Duration
}

// DefaultConfig returns the stock configuration.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout:    30 * time.Second,
		SocketTimeout:     60 * time.Second,
		MaxConnections:    100,
		UserAgent:         strategy.DefaultUserAgent,
		Workers:           10,
		QueueCapacity:     1000,
		Delay:             time.Second,
		EnqueueTimeout:    time.Second,
		PollInterval:      time.Second,
		ShutdownTimeout:   10 * time.Second,
		MaxRetries:        3,
		MaxRetryDelay:     time.Minute,
		AsyncEvents:       true,
		EventWorkers:      4,
		EventBuffer:       1024,
		EventCloseTimeout: 5 * time.Second,
	}
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if c.ConnectTimeout <= 0 {
		return fmt.Errorf("connect timeout must be > 0")
	}
	if c.SocketTimeout <= 0 {
		return fmt.Errorf("socket timeout must be > 0")
	}
	if c.MaxConnections <= 0 {
		return fmt.Errorf("max connections must be > 0")
	}
	if c.Workers <= 0 {
		return fmt.Errorf("worker pool size must be > 0")
	}
	if strings.TrimSpace(c.UserAgent) == "" {
		return fmt.Errorf("user agent must not be empty")
	}
	if c.QueueCapacity <= 0 {
		return fmt.Errorf("queue capacity must be > 0")
	}
	if c.Delay < 0 {
		return fmt.Errorf("inter-request delay must be >= 0")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries must be >= 0")
	}
	if c.AsyncEvents && c.EventWorkers < 0 {
		return fmt.Errorf("event workers must be >= 0")
	}
	return nil
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.EnqueueTimeout <= 0 {
		c.EnqueueTimeout = d.EnqueueTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = d.ShutdownTimeout
	}
	if c.MaxRetryDelay <= 0 {
		c.MaxRetryDelay = d.MaxRetryDelay
	}
	if c.EventWorkers <= 0 {
		c.EventWorkers = d.EventWorkers
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = d.EventBuffer
	}
	if c.EventCloseTimeout <= 0 {
		c.EventCloseTimeout = d.EventCloseTimeout
	}
	return c
}
