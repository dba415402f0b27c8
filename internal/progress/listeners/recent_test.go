package listeners

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/politecrawler/internal/progress"
)

func TestRecentKeepsNewestFirst(t *testing.T) {
	t.Parallel()

	recent := NewRecent(3)
	for i := range 5 {
		evt := progress.NewEvent(progress.URLQueued).WithURL(fmt.Sprintf("https://example.com/%d", i))
		require.NoError(t, recent.OnEvent(context.Background(), evt))
	}

	events := recent.Events("", 10)
	require.Len(t, events, 3)
	require.Equal(t, "https://example.com/4", events[0].URL)
	require.Equal(t, "https://example.com/2", events[2].URL)
	require.Len(t, recent.Events("", 1), 1)
}

func TestRecentFiltersByType(t *testing.T) {
	t.Parallel()

	recent := NewRecent(0)
	ctx := context.Background()
	require.NoError(t, recent.OnEvent(ctx, progress.NewEvent(progress.CrawlerStarted)))
	require.NoError(t, recent.OnEvent(ctx, progress.NewEvent(progress.URLQueued)))
	require.NoError(t, recent.OnEvent(ctx, progress.NewEvent(progress.CrawlerStopped)))

	events := recent.Events(progress.URLQueued, 10)
	require.Len(t, events, 1)
	require.Equal(t, progress.URLQueued, events[0].Type)
	require.Empty(t, recent.Events(progress.PageFetchFailed, 10))
}
