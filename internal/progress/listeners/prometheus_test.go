package listeners

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/politecrawler/internal/progress"
)

// TestPrometheusListenerRecordsMetrics ensures counters and histograms are incremented from events.
func TestPrometheusListenerRecordsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	listener, err := NewPrometheus(reg)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, listener.OnEvent(ctx, progress.NewEvent(progress.CrawlerStarted)))
	require.NoError(t, listener.OnEvent(ctx, progress.NewEvent(progress.PageFetchSuccess).
		With(progress.KeyElapsed, 200*time.Millisecond).
		With(progress.KeyBytes, 1024)))
	require.NoError(t, listener.OnEvent(ctx, progress.NewEvent(progress.PageFetchFailed)))

	require.InDelta(t, 1.0, testutil.ToFloat64(listener.events.WithLabelValues(string(progress.PageFetchSuccess))), 1e-9)
	require.InDelta(t, 1.0, testutil.ToFloat64(listener.events.WithLabelValues(string(progress.PageFetchFailed))), 1e-9)
	require.InDelta(t, 1024.0, testutil.ToFloat64(listener.pageBytes), 1e-9)
	require.InDelta(t, 1.0, testutil.ToFloat64(listener.running), 1e-9)
	require.Equal(t, 1, testutil.CollectAndCount(listener.fetchDuration, "crawler_page_duration_seconds"))

	_, err = NewPrometheus(reg)
	require.Error(t, err)
}
