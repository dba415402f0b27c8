package listeners

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/politecrawler/internal/crawler"
	"github.com/JakeFAU/politecrawler/internal/progress"
)

func TestSitesAggregatesPerHost(t *testing.T) {
	t.Parallel()

	sites := NewSites()
	ctx := context.Background()
	events := []progress.Event{
		progress.NewEvent(progress.PageFetchSuccess).WithURL("https://Example.com/a").
			With(progress.KeyStatusCode, 200).With(progress.KeyBytes, 100),
		progress.NewEvent(progress.PageFetchSuccess).WithURL("https://example.com/b").
			With(progress.KeyStatusCode, 200).With(progress.KeyBytes, 50),
		progress.NewEvent(progress.PageFetchFailed).WithURL("https://example.com/missing").
			WithErr(crawler.NewHTTPStatusError("https://example.com/missing", 404)),
		progress.NewEvent(progress.PageFetchFailed).WithURL("https://other.org/").
			WithErr(crawler.NewTimeoutError("https://other.org/", context.DeadlineExceeded)),
		progress.NewEvent(progress.PageFetchSuccess),
	}
	for _, evt := range events {
		require.NoError(t, sites.OnEvent(ctx, evt))
	}

	list := sites.List(10, 0)
	require.Len(t, list, 2)
	require.Equal(t, "example.com", list[0].Site)
	require.EqualValues(t, 3, list[0].Visits)
	require.EqualValues(t, 1, list[0].Failures)
	require.EqualValues(t, 150, list[0].BytesTotal)
	require.EqualValues(t, 2, list[0].Fetch2xx)
	require.EqualValues(t, 1, list[0].Fetch4xx)

	other, ok := sites.Get("other.org")
	require.True(t, ok)
	require.EqualValues(t, 1, other.Failures)
	require.Zero(t, other.Fetch2xx+other.Fetch3xx+other.Fetch4xx+other.Fetch5xx)
}

func TestSitesListPaging(t *testing.T) {
	t.Parallel()

	sites := NewSites()
	for _, u := range []string{"https://a.com/", "https://b.com/", "https://b.com/2", "https://c.com/"} {
		evt := progress.NewEvent(progress.PageFetchSuccess).WithURL(u).With(progress.KeyStatusCode, 301)
		require.NoError(t, sites.OnEvent(context.Background(), evt))
	}

	require.Equal(t, "b.com", sites.List(1, 0)[0].Site)
	page := sites.List(2, 1)
	require.Len(t, page, 2)
	require.Equal(t, "a.com", page[0].Site)
	require.Equal(t, "c.com", page[1].Site)
	require.Empty(t, sites.List(10, 5))
	require.EqualValues(t, 2, sites.List(1, 0)[0].Fetch3xx)
}
