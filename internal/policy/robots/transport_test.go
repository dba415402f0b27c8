package robots

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type roundTripResult struct {
	resp *http.Response
	err  error
}

type stubRoundTripper struct {
	results []roundTripResult
	calls   int
}

func (s *stubRoundTripper) RoundTrip(*http.Request) (*http.Response, error) {
	r := s.results[s.calls]
	s.calls++
	return r.resp, r.err
}

func fastTransport(base http.RoundTripper, logger *zap.Logger) *retryTransport {
	t := newRetryTransport(base, logger)
	t.backoff = []time.Duration{time.Millisecond, time.Millisecond, time.Millisecond}
	return t
}

func TestRetryTransportFallsBackToAllowAll(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.WarnLevel)
	base := &stubRoundTripper{results: []roundTripResult{
		{err: context.DeadlineExceeded},
		{err: context.DeadlineExceeded},
		{err: context.DeadlineExceeded},
		{err: context.DeadlineExceeded},
	}}
	transport := fastTransport(base, zap.New(core))

	req := httptest.NewRequest(http.MethodGet, "https://example.com/robots.txt", nil)
	resp, err := transport.RoundTrip(req)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, resp.Body.Close()) })

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, allowAllBody, string(body))
	require.Equal(t, 4, base.calls)
	require.Equal(t, 1, logs.FilterMessage("robots.txt unreachable; assuming allow-all").Len())
}

func TestRetryTransportStopsAfterSuccess(t *testing.T) {
	t.Parallel()

	ok := &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(strings.NewReader("User-agent: *\nDisallow: /"))}
	base := &stubRoundTripper{results: []roundTripResult{
		{err: context.DeadlineExceeded},
		{resp: ok},
	}}
	transport := fastTransport(base, zap.NewNop())

	resp, err := transport.RoundTrip(httptest.NewRequest(http.MethodGet, "https://example.com/robots.txt", nil))
	require.NoError(t, err)
	require.Same(t, ok, resp)
	require.Equal(t, 2, base.calls)
}

func TestRetryTransportFailsFastOnPermanentErrors(t *testing.T) {
	t.Parallel()

	base := &stubRoundTripper{results: []roundTripResult{{err: errors.New("connection refused")}}}
	transport := fastTransport(base, zap.NewNop())

	_, err := transport.RoundTrip(httptest.NewRequest(http.MethodGet, "https://example.com/robots.txt", nil))
	require.ErrorContains(t, err, "connection refused")
	require.Equal(t, 1, base.calls)
}
