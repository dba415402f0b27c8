package collyfetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/politecrawler/internal/crawler"
	"github.com/JakeFAU/politecrawler/internal/proxy"
)

func TestFetchForwardsHeaders(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "politecrawler-test", r.Header.Get("User-Agent"))
		require.Equal(t, "yes", r.Header.Get("X-Trace"))
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte("<html><body>ok</body></html>"))
	}))
	t.Cleanup(srv.Close)

	f := New(Config{UserAgent: "default-agent", Timeout: time.Second})
	page, err := f.Fetch(context.Background(), crawler.FetchRequest{
		URL:     srv.URL,
		Headers: map[string]string{"User-Agent": "politecrawler-test", "X-Trace": "yes"},
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, page.StatusCode)
	require.Equal(t, "utf-8", page.Charset)
	require.Contains(t, page.Content, "ok")
	require.Equal(t, "text/html; charset=utf-8", page.ContentType)
}

func TestFetchDecodesUndeclaredCharset(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html><head><meta charset=\"iso-8859-1\"></head><body>caf\xe9</body></html>"))
	}))
	t.Cleanup(srv.Close)

	page, err := New(Config{Timeout: time.Second}).Fetch(context.Background(), crawler.FetchRequest{URL: srv.URL})
	require.NoError(t, err)
	require.Contains(t, page.Content, "café")
	require.Equal(t, "windows-1252", page.Charset)
}

func TestFetchMapsHTTPStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(srv.Close)

	page, err := New(Config{Timeout: time.Second}).Fetch(context.Background(), crawler.FetchRequest{URL: srv.URL})
	require.Nil(t, page)
	cerr, ok := crawler.AsError(err)
	require.True(t, ok)
	require.Equal(t, crawler.KindHTTPStatus, cerr.Kind)
	require.Equal(t, http.StatusNotFound, cerr.StatusCode)
}

func TestFetchRotatesProxyOnForbidden(t *testing.T) {
	t.Parallel()

	var hits [2]atomic.Int32
	newProxy := func(idx int) *httptest.Server {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			hits[idx].Add(1)
			w.WriteHeader(http.StatusForbidden)
		}))
		t.Cleanup(srv.Close)
		return srv
	}
	entries := make([]proxy.Entry, 0, 2)
	for i := range 2 {
		u, err := url.Parse(newProxy(i).URL)
		require.NoError(t, err)
		entry, err := proxy.ParseEntry(u.Host)
		require.NoError(t, err)
		entries = append(entries, entry)
	}

	f := New(Config{Timeout: time.Second, Proxies: proxy.NewRotator(entries, 100)})
	for range 2 {
		_, err := f.Fetch(context.Background(), crawler.FetchRequest{URL: "http://target.invalid/page"})
		cerr, ok := crawler.AsError(err)
		require.True(t, ok)
		require.Equal(t, http.StatusForbidden, cerr.StatusCode)
	}
	require.Equal(t, int32(1), hits[0].Load())
	require.Equal(t, int32(1), hits[1].Load())
}

func TestFetchTimeout(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})

	_, err := New(Config{Timeout: 50 * time.Millisecond}).Fetch(context.Background(), crawler.FetchRequest{URL: srv.URL})
	cerr, ok := crawler.AsError(err)
	require.True(t, ok)
	require.Equal(t, crawler.KindTimeout, cerr.Kind)
}

func TestFetchNetworkError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	target := srv.URL
	srv.Close()

	_, err := New(Config{Timeout: time.Second}).Fetch(context.Background(), crawler.FetchRequest{URL: target})
	cerr, ok := crawler.AsError(err)
	require.True(t, ok)
	require.Equal(t, crawler.KindNetwork, cerr.Kind)
}

func TestFetchCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(Config{Timeout: time.Second}).Fetch(ctx, crawler.FetchRequest{URL: "http://127.0.0.1:1/"})
	require.Error(t, err)
	require.True(t, errors.Is(err, context.Canceled))
}

func TestFetchTruncatesLargeBodies(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte(strings.Repeat("a", 4096)))
	}))
	t.Cleanup(srv.Close)

	page, err := New(Config{Timeout: time.Second, MaxBodySize: 100}).Fetch(context.Background(), crawler.FetchRequest{URL: srv.URL})
	require.NoError(t, err)
	require.Equal(t, 100, page.Size())
}

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	f := New(Config{})
	state := &fetchState{}
	hooks := &stubHooks{}
	f.configureCollectorHooks(hooks, crawler.FetchRequest{
		URL:     "https://example.com",
		Headers: map[string]string{"X-Trace": "yes"},
	}, state)
	require.NotNil(t, hooks.onRequest)
	require.NotNil(t, hooks.onResponse)
	require.NotNil(t, hooks.onError)

	collyReq := &colly.Request{Headers: &http.Header{}}
	hooks.onRequest(collyReq)
	require.Equal(t, "yes", collyReq.Headers.Get("X-Trace"))

	target, err := url.Parse("https://example.com/final")
	require.NoError(t, err)
	hooks.onResponse(&colly.Response{
		StatusCode: http.StatusCreated,
		Body:       []byte("body"),
		Headers:    &http.Header{"Content-Type": {"text/plain; charset=utf-8"}},
		Request:    &colly.Request{URL: target},
	})
	require.Equal(t, "https://example.com/final", state.page.URL)
	require.Equal(t, "body", state.page.Content)
	require.Equal(t, http.StatusCreated, state.page.StatusCode)

	hooks.onError(nil, errors.New("boom"))
	require.EqualError(t, state.err, "boom")
}

func TestDecodeBody(t *testing.T) {
	t.Parallel()

	content, name, err := decodeBody([]byte("plain ascii"), "")
	require.NoError(t, err)
	require.Equal(t, "plain ascii", content)
	require.Equal(t, "utf-8", name)

	content, name, err = decodeBody([]byte("déjà"), "text/html")
	require.NoError(t, err)
	require.Equal(t, "déjà", content)
	require.Equal(t, "utf-8", name)

	_, name, err = decodeBody([]byte("x"), "text/html; charset=Latin1")
	require.NoError(t, err)
	require.Equal(t, "windows-1252", name)
}

type stubHooks struct {
	onRequest  colly.RequestCallback
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnRequest(cb colly.RequestCallback)   { s.onRequest = cb }
func (s *stubHooks) OnResponse(cb colly.ResponseCallback) { s.onResponse = cb }
func (s *stubHooks) OnError(cb colly.ErrorCallback)       { s.onError = cb }
