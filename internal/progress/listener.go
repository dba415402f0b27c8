package progress

import "context"

// Listener receives events from a Bus. Interests lists the event types the
// listener wants; an empty list means every type. Implementations must be
// comparable (typically pointers) so duplicate registration can be detected,
// and must be safe for concurrent calls when the bus runs asynchronously.
type Listener interface {
	Name() string
	Interests() []Type
	OnEvent(ctx context.Context, evt Event) error
}

// Publisher publishes individual events; Bus satisfies this interface so
// stages and queues stay agnostic about delivery.
type Publisher interface {
	Publish(evt Event)
}

// FuncListener adapts a function to the Listener interface.
type FuncListener struct {
	ListenerName string
	Types        []Type
	Fn           func(ctx context.Context, evt Event) error
}

// Name implements Listener.
func (f *FuncListener) Name() string { return f.ListenerName }

// Interests implements Listener.
func (f *FuncListener) Interests() []Type { return f.Types }

// OnEvent implements Listener.
func (f *FuncListener) OnEvent(ctx context.Context, evt Event) error {
	if f.Fn == nil {
		return nil
	}
	return f.Fn(ctx, evt)
}

// Discard is a Publisher that drops every event.
var Discard Publisher = discard{}

type discard struct{}

func (discard) Publish(Event) {}
