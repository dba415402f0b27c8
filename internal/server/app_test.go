package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/politecrawler/internal/config"
	"github.com/JakeFAU/politecrawler/internal/progress/listeners"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Crawler.Workers = 2
	cfg.Crawler.Delay = 0
	cfg.Crawler.PollInterval = 20 * time.Millisecond
	cfg.Crawler.ShutdownTimeout = time.Second
	cfg.Crawler.RespectRobots = false
	cfg.Events.Log = false
	cfg.Storage.Type = "memory"
	cfg.Archive.Type = "memory"
	cfg.Server.Addr = ""
	cfg.Logging.Development = false
	cfg.Logging.Level = "error"
	return cfg
}

func newSite(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, `<html><head><title>Home</title></head><body><a href="/a">a</a><a href="/missing">x</a></body></html>`)
	})
	mux.HandleFunc("/a", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, `<html><head><title>A</title></head><body><a href="/">home</a></body></html>`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestBuildRejectsInvalidConfig(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Crawler.Workers = 0
	_, err := Build(context.Background(), cfg)
	require.ErrorContains(t, err, "crawler.workers")
}

func TestBuildFailsOnUnusableSink(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Storage.Type = "postgres"
	cfg.Storage.Postgres.DSN = "://not a dsn"
	_, err := Build(context.Background(), cfg)
	require.ErrorContains(t, err, "item sink init failed")
}

func TestRunCrawlsUntilIdle(t *testing.T) {
	t.Parallel()

	site := newSite(t)
	cfg := testConfig(t)
	cfg.Crawler.MaxRetries = 0
	app, err := Build(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close(context.Background()) })

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err = app.Run(ctx, RunOptions{
		Seeds:        []string{site.URL + "/"},
		ExitWhenIdle: true,
		IdleGrace:    200 * time.Millisecond,
	})
	require.NoError(t, err)
	require.NoError(t, ctx.Err())
	require.False(t, app.Engine().IsRunning())

	report := app.Engine().Statistics()
	require.EqualValues(t, 2, report.Fetched)
	require.EqualValues(t, 1, report.FetchErrors)

	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/sites", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Sites []listeners.SiteStats `json:"sites"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Sites, 1)
	require.EqualValues(t, 3, body.Sites[0].Visits)
	require.EqualValues(t, 1, body.Sites[0].Fetch4xx)
}

func TestRunStopsOnCancel(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Storage.Type = "file"
	cfg.Storage.Path = t.TempDir()
	app, err := Build(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close(context.Background()) })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx, RunOptions{}) }()

	require.Eventually(t, app.Engine().IsRunning, time.Second, 5*time.Millisecond)
	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after cancel")
	}
	require.False(t, app.Engine().IsRunning())
}
