package listeners

import (
	"context"
	"sync"

	"github.com/JakeFAU/politecrawler/internal/progress"
)

// DefaultRecentCapacity bounds the Recent ring buffer when no capacity is set.
const DefaultRecentCapacity = 256

// Recent retains the most recent events in a fixed-size ring buffer.
type Recent struct {
	mu   sync.Mutex
	buf  []progress.Event
	next int
	full bool
}

// NewRecent builds a ring buffer holding up to capacity events.
func NewRecent(capacity int) *Recent {
	if capacity <= 0 {
		capacity = DefaultRecentCapacity
	}
	return &Recent{buf: make([]progress.Event, capacity)}
}

// Name implements progress.Listener.
func (r *Recent) Name() string { return "recent" }

// Interests implements progress.Listener.
func (r *Recent) Interests() []progress.Type { return nil }

// OnEvent implements progress.Listener.
func (r *Recent) OnEvent(_ context.Context, evt progress.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf[r.next] = evt
	r.next = (r.next + 1) % len(r.buf)
	if r.next == 0 {
		r.full = true
	}
	return nil
}

// Events returns up to limit retained events, newest first. A non-empty typ
// keeps only events of that type.
func (r *Recent) Events(typ progress.Type, limit int) []progress.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := r.next
	if r.full {
		n = len(r.buf)
	}
	out := make([]progress.Event, 0, min(n, max(limit, 0)))
	for i := 1; i <= n && len(out) < limit; i++ {
		evt := r.buf[(r.next-i+len(r.buf))%len(r.buf)]
		if typ != "" && evt.Type != typ {
			continue
		}
		out = append(out, evt)
	}
	return out
}
