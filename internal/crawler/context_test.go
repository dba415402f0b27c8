package crawler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCrawlContextPageIsSetOnce(t *testing.T) {
	t.Parallel()

	cc := NewCrawlContext(NewTask(" http://example.com/ "))
	require.Equal(t, "http://example.com/", cc.URL())

	_, ok := cc.Page()
	require.False(t, ok)

	require.NoError(t, cc.SetPage(RawPage{URL: cc.URL(), Content: "first"}))
	require.ErrorIs(t, cc.SetPage(RawPage{URL: cc.URL(), Content: "second"}), ErrPageAlreadySet)

	page, ok := cc.Page()
	require.True(t, ok)
	require.Equal(t, "first", page.Content)

	_, ok = cc.Marked(MarkFetched)
	require.True(t, ok)
}

func TestCrawlContextAttributesAreCopied(t *testing.T) {
	t.Parallel()

	cc := NewCrawlContext(NewTask("http://example.com/"))
	cc.Set("strategy", "html")
	require.Equal(t, "html", cc.GetString("strategy"))
	require.Empty(t, cc.GetString("missing"))

	attrs := cc.Attributes()
	attrs["strategy"] = "changed"
	v, ok := cc.Get("strategy")
	require.True(t, ok)
	require.Equal(t, "html", v)
}

func TestTaskNextIncrementsRetry(t *testing.T) {
	t.Parallel()

	task := NewTask("http://example.com/")
	next := task.Next()
	require.Equal(t, task.URL, next.URL)
	require.Equal(t, 1, next.Retry)
	require.False(t, next.EnqueuedAt.Before(task.EnqueuedAt.Add(-time.Second)))
}
