package frontier

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/politecrawler/internal/crawler"
	"github.com/JakeFAU/politecrawler/internal/progress"
)

type eventLog struct {
	mu     sync.Mutex
	events []progress.Event
}

func (l *eventLog) Publish(evt progress.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, evt)
}

func (l *eventLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.events)
}

func TestEnqueueAcceptsAndPublishes(t *testing.T) {
	t.Parallel()

	events := &eventLog{}
	f := New(Config{Capacity: 4, Publisher: events})

	for i, url := range []string{"http://a/", "http://b/", " http://c/ "} {
		require.True(t, f.AddURL(url))
		require.Equal(t, i+1, f.Len())
		require.Equal(t, i+1, events.Len())
	}
	require.Equal(t, progress.URLQueued, events.events[0].Type)
	require.Equal(t, "http://a/", events.events[0].URL)

	task, ok := f.Dequeue(context.Background(), 0)
	require.True(t, ok)
	require.Equal(t, "http://a/", task.URL)
	require.False(t, task.EnqueuedAt.IsZero())
}

func TestEnqueueIgnoresBlankURLs(t *testing.T) {
	t.Parallel()

	events := &eventLog{}
	f := New(Config{Capacity: 4, Publisher: events})

	for _, url := range []string{"", "   ", "\t\n"} {
		require.False(t, f.AddURL(url))
	}
	require.Zero(t, f.Len())
	require.Zero(t, events.Len())
	require.Zero(t, f.Dropped())
}

func TestEnqueueDropsWhenFull(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.WarnLevel)
	events := &eventLog{}
	f := New(Config{Capacity: 1, OfferTimeout: 10 * time.Millisecond, Publisher: events, Logger: zap.New(core)})

	require.True(t, f.AddURL("http://a/"))
	require.False(t, f.AddURL("http://b/"))
	require.Equal(t, 1, f.Len())
	require.Equal(t, 1, events.Len())
	require.EqualValues(t, 1, f.Dropped())
	require.Equal(t, 1, logs.FilterMessage("frontier full; dropping url").Len())
}

func TestEnqueueRetryCarriesAttempt(t *testing.T) {
	t.Parallel()

	events := &eventLog{}
	f := New(Config{Capacity: 2, Publisher: events})

	require.True(t, f.Enqueue(crawler.NewTask("http://a/").Next()))
	retry, ok := events.events[0].Value(progress.KeyRetry)
	require.True(t, ok)
	require.Equal(t, 1, retry)
}

func TestDequeueTimesOut(t *testing.T) {
	t.Parallel()

	f := New(Config{Capacity: 1})
	start := time.Now()
	_, ok := f.Dequeue(context.Background(), 20*time.Millisecond)
	require.False(t, ok)
	require.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestDequeueReturnsOnCancel(t *testing.T) {
	t.Parallel()

	f := New(Config{Capacity: 1})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, ok := f.Dequeue(ctx, time.Minute)
	require.False(t, ok)
}

func TestSeenMarksNormalizedURLsOnce(t *testing.T) {
	t.Parallel()

	seen := NewSeen()
	require.True(t, seen.MarkIfNew("http://Example.com/a#top"))
	require.False(t, seen.MarkIfNew("http://example.com/a"))
	require.True(t, seen.MarkIfNew("http://example.com/b"))
	require.False(t, seen.MarkIfNew(""))
	require.Equal(t, 2, seen.Len())
}

func TestSeenForgetAllowsRediscovery(t *testing.T) {
	t.Parallel()

	seen := NewSeen()
	require.True(t, seen.MarkIfNew("http://example.com/a"))
	seen.Forget("http://Example.com/a#frag")
	require.Equal(t, 0, seen.Len())
	require.True(t, seen.MarkIfNew("http://example.com/a"))

	seen.Forget("http://example.com/never-marked")
	seen.Forget("")
	require.Equal(t, 1, seen.Len())
}
