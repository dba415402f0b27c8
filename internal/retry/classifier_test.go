package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/politecrawler/internal/crawler"
)

func TestClassifyHTTPStatus(t *testing.T) {
	t.Parallel()

	policy := DefaultPolicy()
	c := NewClassifier(policy)

	notFound := c.Classify(crawler.NewHTTPStatusError("http://a/", 404))
	require.Equal(t, Abort, notFound.Action)
	require.Equal(t, "resource does not exist", notFound.Message)

	serverErr := c.Classify(crawler.NewHTTPStatusError("http://a/", 500))
	require.Equal(t, Retry, serverErr.Action)
	require.Equal(t, policy.DefaultDelay, serverErr.Delay)
	require.Equal(t, policy.MaxRetries, serverErr.MaxRetries)

	for _, code := range []int{403, 429} {
		d := c.Classify(crawler.NewHTTPStatusError("http://a/", code))
		require.True(t, d.ShouldRetry(), code)
		require.Greater(t, d.Delay, policy.DefaultDelay, code)
	}

	require.Equal(t, Abort, c.Classify(crawler.NewHTTPStatusError("http://a/", 400)).Action)
}

func TestClassifyTaxonomy(t *testing.T) {
	t.Parallel()

	c := NewClassifier(DefaultPolicy())
	cases := []struct {
		name string
		err  error
		want Action
	}{
		{"network", crawler.NewNetworkError("http://a/", errors.New("refused")), Retry},
		{"timeout", crawler.NewTimeoutError("http://a/", context.DeadlineExceeded), Retry},
		{"content format", crawler.NewContentFormatError("http://a/", "binary"), Abort},
		{"selector", crawler.NewSelectorError("http://a/", ".x", nil), Abort},
		{"extraction", crawler.NewExtractionError("http://a/", errors.New("bad")), Retry},
		{"file", crawler.NewFileError("/data/x", errors.New("disk full")), Retry},
		{"database", crawler.NewDatabaseError("items", errors.New("conn reset")), Retry},
		{"wrapped", fmt.Errorf("stage parse: %w", crawler.NewSelectorError("http://a/", ".x", nil)), Abort},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, c.Classify(tc.err).Action, tc.name)
	}
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassifyUnclassifiedErrors(t *testing.T) {
	t.Parallel()

	c := NewClassifier(DefaultPolicy())

	require.Equal(t, Ignore, c.Classify(nil).Action)
	require.Equal(t, Ignore, c.Classify(fmt.Errorf("fetch: %w", context.Canceled)).Action)
	require.Equal(t, Retry, c.Classify(context.DeadlineExceeded).Action)

	var netErr net.Error = timeoutErr{}
	require.Equal(t, Retry, c.Classify(netErr).Action)
	require.Equal(t, Retry, c.Classify(&net.OpError{Op: "dial", Err: errors.New("refused")}).Action)

	d := c.Classify(errors.New("mystery"))
	require.Equal(t, Abort, d.Action)
	require.Contains(t, d.Message, "unclassified")
}

type overrideRule struct{}

func (overrideRule) Name() string  { return "override" }
func (overrideRule) Priority() int { return 1 }
func (overrideRule) Supports(err *crawler.Error) bool {
	return err.Kind == crawler.KindHTTPStatus && err.StatusCode == 404
}
func (overrideRule) Classify(*crawler.Error) Decision {
	return Decision{Action: Ignore, Message: "soft 404"}
}

func TestLowestPriorityRuleWins(t *testing.T) {
	t.Parallel()

	c := NewClassifier(DefaultPolicy(), overrideRule{})
	require.Equal(t, Ignore, c.Classify(crawler.NewHTTPStatusError("http://a/", 404)).Action)
	require.Equal(t, Retry, c.Classify(crawler.NewHTTPStatusError("http://a/", 503)).Action)
}

type catchAllRule struct {
	priority int
	action   Action
}

func (catchAllRule) Name() string { return "catch-all" }

func (r catchAllRule) Priority() int { return r.priority }

func (catchAllRule) Supports(*crawler.Error) bool { return true }

func (r catchAllRule) Classify(*crawler.Error) Decision {
	return Decision{Action: r.action}
}

func TestExtremePrioritiesStayOrdered(t *testing.T) {
	t.Parallel()

	c := NewClassifier(DefaultPolicy(),
		catchAllRule{priority: math.MaxInt, action: Retry},
		catchAllRule{priority: math.MinInt, action: Ignore},
	)
	require.Equal(t, Ignore, c.Classify(crawler.NewHTTPStatusError("http://a/", 503)).Action)
}

func TestBackoffBounds(t *testing.T) {
	t.Parallel()

	require.Zero(t, Backoff(0, 3, time.Second))
	for attempt := range 6 {
		d := Backoff(100*time.Millisecond, attempt, time.Second)
		full := min(100*time.Millisecond<<attempt, time.Second)
		require.GreaterOrEqual(t, d, full/2)
		require.LessOrEqual(t, d, full)
	}
}
