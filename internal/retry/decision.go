// Package retry classifies crawl failures into retry, abort, or ignore
// decisions and computes the backoff before a retried attempt. It never
// re-enqueues work itself.
package retry

import "time"

// Action is what a caller should do about a failure.
type Action int

// Supported actions.
const (
	Abort Action = iota
	Retry
	Ignore
)

func (a Action) String() string {
	switch a {
	case Retry:
		return "retry"
	case Ignore:
		return "ignore"
	default:
		return "abort"
	}
}

// Decision is the outcome of classifying one failure.
type Decision struct {
	Action     Action
	Message    string
	Delay      time.Duration
	MaxRetries int
}

// ShouldRetry reports whether the decision asks for another attempt.
func (d Decision) ShouldRetry() bool {
	return d.Action == Retry
}

// Policy holds the delays and attempt budget handed out by the rules.
type Policy struct {
	DefaultDelay  time.Duration
	ExtendedDelay time.Duration
	MaxRetries    int
}

// DefaultPolicy returns the stock delays: 1s, 5s for block or rate-limit
// signals, and three retries.
func DefaultPolicy() Policy {
	return Policy{
		DefaultDelay:  time.Second,
		ExtendedDelay: 5 * time.Second,
		MaxRetries:    3,
	}
}

func (p Policy) retry(msg string, delay time.Duration) Decision {
	return Decision{Action: Retry, Message: msg, Delay: delay, MaxRetries: p.MaxRetries}
}

func abort(msg string) Decision {
	return Decision{Action: Abort, Message: msg}
}
