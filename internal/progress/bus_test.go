package progress

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type recorder struct {
	name  string
	types []Type
	delay time.Duration

	mu     sync.Mutex
	events []Event
}

func (r *recorder) Name() string      { return r.name }
func (r *recorder) Interests() []Type { return r.types }

func (r *recorder) OnEvent(_ context.Context, evt Event) error {
	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
	return nil
}

func (r *recorder) Types() []Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Type, 0, len(r.events))
	for _, evt := range r.events {
		out = append(out, evt.Type)
	}
	return out
}

type panicker struct{}

func (panicker) Name() string      { return "panicker" }
func (panicker) Interests() []Type { return nil }
func (panicker) OnEvent(context.Context, Event) error {
	panic("listener exploded")
}

type failing struct{}

func (*failing) Name() string      { return "failing" }
func (*failing) Interests() []Type { return nil }
func (*failing) OnEvent(context.Context, Event) error {
	return errors.New("listener failed")
}

type sliceListener []string

func (sliceListener) Name() string                         { return "slice" }
func (sliceListener) Interests() []Type                    { return nil }
func (sliceListener) OnEvent(context.Context, Event) error { return nil }

// TestSyncPublishWaitsForListeners verifies Publish returns only after slow listeners finish.
func TestSyncPublishWaitsForListeners(t *testing.T) {
	t.Parallel()

	slow := &recorder{name: "slow", delay: 20 * time.Millisecond}
	bus := NewBus(Config{Mode: Sync}, slow)
	defer func() { require.NoError(t, bus.Close(context.Background())) }()

	bus.Publish(NewEvent(CrawlerStarted))
	require.Equal(t, []Type{CrawlerStarted}, slow.Types())
}

// TestFailingListenersDoNotBlockOthers ensures panics and errors stay isolated to their listener.
func TestFailingListenersDoNotBlockOthers(t *testing.T) {
	t.Parallel()

	last := &recorder{name: "last"}
	bus := NewBus(Config{Mode: Sync}, panicker{}, &failing{}, last)
	defer func() { require.NoError(t, bus.Close(context.Background())) }()

	bus.Publish(NewEvent(PageFetchFailed).WithURL("http://a/"))
	require.Equal(t, []Type{PageFetchFailed}, last.Types())
}

// TestSubscribeIgnoresDuplicates verifies the same listener instance is only registered once.
func TestSubscribeIgnoresDuplicates(t *testing.T) {
	t.Parallel()

	rec := &recorder{name: "rec"}
	bus := NewBus(Config{Mode: Sync})
	require.True(t, bus.Subscribe(rec))
	require.False(t, bus.Subscribe(rec))
	require.False(t, bus.Subscribe(nil))
	require.False(t, bus.Subscribe(sliceListener{"x"}))
	require.Equal(t, []string{"rec"}, bus.Listeners())

	bus.Publish(NewEvent(URLQueued))
	require.Len(t, rec.Types(), 1)

	require.True(t, bus.Unsubscribe(rec))
	require.False(t, bus.Unsubscribe(rec))
	bus.Publish(NewEvent(URLQueued))
	require.Len(t, rec.Types(), 1)
}

// TestInterestsFilterDelivery ensures listeners only see the types they asked for.
func TestInterestsFilterDelivery(t *testing.T) {
	t.Parallel()

	fetchOnly := &recorder{name: "fetch", types: []Type{PageFetchSuccess, PageFetchFailed}}
	all := &recorder{name: "all"}
	bus := NewBus(Config{Mode: Sync}, fetchOnly, all)

	for _, typ := range []Type{CrawlerStarted, PageFetchSuccess, URLQueued, PageFetchFailed} {
		bus.Publish(NewEvent(typ))
	}
	require.Equal(t, []Type{PageFetchSuccess, PageFetchFailed}, fetchOnly.Types())
	require.Len(t, all.Types(), 4)
}

// TestSubscribeDuringFanOut verifies registry mutation does not disturb an in-flight delivery.
func TestSubscribeDuringFanOut(t *testing.T) {
	t.Parallel()

	late := &recorder{name: "late"}
	var bus *Bus
	trigger := &FuncListener{
		ListenerName: "trigger",
		Fn: func(context.Context, Event) error {
			bus.Subscribe(late)
			return nil
		},
	}
	bus = NewBus(Config{Mode: Sync}, trigger)

	bus.Publish(NewEvent(CrawlerStarted))
	require.Empty(t, late.Types())

	bus.Publish(NewEvent(CrawlerStopped))
	require.Equal(t, []Type{CrawlerStopped}, late.Types())
}

// TestAsyncPublishDelivers verifies background delivery reaches listeners.
func TestAsyncPublishDelivers(t *testing.T) {
	t.Parallel()

	rec := &recorder{name: "rec"}
	bus := NewBus(Config{Mode: Async, Workers: 2, BufferSize: 16}, rec)
	require.Equal(t, Async, bus.Mode())

	for range 5 {
		bus.Publish(NewEvent(URLQueued))
	}
	require.Eventually(t, func() bool {
		return len(rec.Types()) == 5
	}, time.Second, 5*time.Millisecond)
	require.NoError(t, bus.Close(context.Background()))
}

// TestAsyncPublishNeverBlocks asserts Publish returns even when listeners are stuck.
func TestAsyncPublishNeverBlocks(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	blocked := &FuncListener{
		ListenerName: "blocked",
		Fn: func(context.Context, Event) error {
			<-release
			return nil
		},
	}
	bus := NewBus(Config{Mode: Async, Workers: 1, BufferSize: 1}, blocked)

	start := time.Now()
	for range 50 {
		bus.Publish(NewEvent(URLQueued))
	}
	require.Less(t, time.Since(start), 100*time.Millisecond)

	close(release)
	require.NoError(t, bus.Close(context.Background()))
}

// TestPublishAfterCloseIsDropped ensures a closed bus ignores new events.
func TestPublishAfterCloseIsDropped(t *testing.T) {
	t.Parallel()

	rec := &recorder{name: "rec"}
	bus := NewBus(Config{Mode: Sync}, rec)
	require.NoError(t, bus.Close(context.Background()))
	require.NoError(t, bus.Close(context.Background()))

	bus.Publish(NewEvent(CrawlerStopped))
	require.Empty(t, rec.Types())
}

// TestEventWithCopiesData verifies events stay immutable when derived.
func TestEventWithCopiesData(t *testing.T) {
	t.Parallel()

	base := NewEvent(PageFetchSuccess).With(KeyStatusCode, 200)
	derived := base.With(KeyStatusCode, 404).With(KeyElapsed, time.Second)

	code, ok := base.Value(KeyStatusCode)
	require.True(t, ok)
	require.Equal(t, 200, code)
	require.Equal(t, time.Duration(0), base.Duration(KeyElapsed))
	require.Equal(t, time.Second, derived.Duration(KeyElapsed))

	data := derived.Data()
	data[KeyStatusCode] = 500
	code, _ = derived.Value(KeyStatusCode)
	require.Equal(t, 404, code)

	require.NoError(t, base.Validate())
	require.Error(t, Event{Type: URLQueued}.Validate())
	require.Error(t, NewEvent(Type("BOGUS")).Validate())
}
