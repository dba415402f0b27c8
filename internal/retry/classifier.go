package retry

import (
	"cmp"
	"context"
	"errors"
	"net"
	"net/http"
	"slices"
	"sync"

	"github.com/JakeFAU/politecrawler/internal/crawler"
)

// Rule classifies the errors it supports. When several rules support the
// same error the one with the lowest Priority wins.
type Rule interface {
	Name() string
	Priority() int
	Supports(err *crawler.Error) bool
	Classify(err *crawler.Error) Decision
}

// Classifier dispatches failures to the highest-priority supporting rule.
type Classifier struct {
	mu    sync.RWMutex
	rules []Rule
}

// NewClassifier builds a classifier with the fetch, parse, and storage rules
// configured from policy, plus any extra rules.
func NewClassifier(policy Policy, extra ...Rule) *Classifier {
	c := &Classifier{}
	c.Add(FetchRule{Policy: policy})
	c.Add(ParseRule{Policy: policy})
	c.Add(StorageRule{Policy: policy})
	for _, r := range extra {
		c.Add(r)
	}
	return c
}

// Add registers a rule, keeping rules sorted by priority. Rules with equal
// priority keep their registration order.
func (c *Classifier) Add(r Rule) {
	if r == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rules = append(c.rules, r)
	slices.SortStableFunc(c.rules, func(a, b Rule) int {
		return cmp.Compare(a.Priority(), b.Priority())
	})
}

// Classify turns err into a decision. Cancellation is ignored, bare network
// errors are treated as fetch failures, and anything no rule supports is
// aborted.
func (c *Classifier) Classify(err error) Decision {
	if err == nil {
		return Decision{Action: Ignore, Message: "no error"}
	}
	if errors.Is(err, context.Canceled) {
		return Decision{Action: Ignore, Message: "canceled"}
	}
	ce := normalize(err)
	if ce == nil {
		return abort("unclassified failure: " + err.Error())
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, r := range c.rules {
		if r.Supports(ce) {
			return r.Classify(ce)
		}
	}
	return abort("no rule for " + ce.Kind.String() + " failure")
}

func normalize(err error) *crawler.Error {
	if ce, ok := crawler.AsError(err); ok {
		return ce
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return crawler.NewTimeoutError("", err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return crawler.NewTimeoutError("", err)
		}
		return crawler.NewNetworkError("", err)
	}
	return nil
}

// FetchRule handles network, HTTP status, and timeout failures.
type FetchRule struct {
	Policy Policy
}

// Name implements Rule.
func (FetchRule) Name() string { return "fetch" }

// Priority implements Rule.
func (FetchRule) Priority() int { return 10 }

// Supports implements Rule.
func (FetchRule) Supports(err *crawler.Error) bool {
	return err.Kind.Category() == crawler.CategoryFetch
}

// Classify implements Rule.
func (r FetchRule) Classify(err *crawler.Error) Decision {
	switch err.Kind {
	case crawler.KindHTTPStatus:
		return r.status(err.StatusCode)
	case crawler.KindTimeout:
		return r.Policy.retry("request timed out", r.Policy.DefaultDelay)
	default:
		return r.Policy.retry("network failure", r.Policy.DefaultDelay)
	}
}

func (r FetchRule) status(code int) Decision {
	switch {
	case code == http.StatusNotFound:
		return abort("resource does not exist")
	case code == http.StatusForbidden:
		return r.Policy.retry("access forbidden; backing off", r.Policy.ExtendedDelay)
	case code == http.StatusTooManyRequests:
		return r.Policy.retry("rate limited; backing off", r.Policy.ExtendedDelay)
	case code >= http.StatusInternalServerError:
		return r.Policy.retry("server error", r.Policy.DefaultDelay)
	default:
		return abort("unexpected status " + http.StatusText(code))
	}
}

// ParseRule handles content, selector, and extraction failures.
type ParseRule struct {
	Policy Policy
}

// Name implements Rule.
func (ParseRule) Name() string { return "parse" }

// Priority implements Rule.
func (ParseRule) Priority() int { return 20 }

// Supports implements Rule.
func (ParseRule) Supports(err *crawler.Error) bool {
	return err.Kind.Category() == crawler.CategoryParse
}

// Classify implements Rule.
func (r ParseRule) Classify(err *crawler.Error) Decision {
	switch err.Kind {
	case crawler.KindContentFormat:
		return abort("content format not supported")
	case crawler.KindSelector:
		return abort("selector configuration error")
	default:
		return r.Policy.retry("data extraction failed", r.Policy.DefaultDelay)
	}
}

// StorageRule retries every storage failure.
type StorageRule struct {
	Policy Policy
}

// Name implements Rule.
func (StorageRule) Name() string { return "storage" }

// Priority implements Rule.
func (StorageRule) Priority() int { return 30 }

// Supports implements Rule.
func (StorageRule) Supports(err *crawler.Error) bool {
	return err.Kind.Category() == crawler.CategoryStorage
}

// Classify implements Rule.
func (r StorageRule) Classify(err *crawler.Error) Decision {
	if err.Kind == crawler.KindDatabase {
		return r.Policy.retry("database write failed", r.Policy.DefaultDelay)
	}
	return r.Policy.retry("file write failed", r.Policy.DefaultDelay)
}
