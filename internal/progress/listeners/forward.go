package listeners

import (
	"context"
	"fmt"
	"time"

	"github.com/JakeFAU/politecrawler/internal/crawler"
	"github.com/JakeFAU/politecrawler/internal/progress"
)

// Message is the wire form of a forwarded event.
type Message struct {
	ID    string         `json:"id"`
	Type  string         `json:"type"`
	TS    time.Time      `json:"ts"`
	URL   string         `json:"url,omitempty"`
	Error string         `json:"error,omitempty"`
	Data  map[string]any `json:"data,omitempty"`
}

// Forwarder republishes events to a message topic.
type Forwarder struct {
	publisher crawler.Publisher
	topic     string
	types     []progress.Type
}

// NewForwarder forwards events of the given types (all when empty) to topic.
func NewForwarder(publisher crawler.Publisher, topic string, types ...progress.Type) *Forwarder {
	return &Forwarder{publisher: publisher, topic: topic, types: types}
}

// Name implements progress.Listener.
func (f *Forwarder) Name() string { return "forwarder:" + f.topic }

// Interests implements progress.Listener.
func (f *Forwarder) Interests() []progress.Type { return f.types }

// OnEvent implements progress.Listener.
func (f *Forwarder) OnEvent(ctx context.Context, evt progress.Event) error {
	if f.publisher == nil {
		return fmt.Errorf("forwarder publisher is not configured")
	}
	msg := Message{
		ID:   evt.ID.String(),
		Type: string(evt.Type),
		TS:   evt.TS,
		URL:  evt.URL,
		Data: evt.Data(),
	}
	if evt.Err != nil {
		msg.Error = evt.Err.Error()
	}
	if _, err := f.publisher.Publish(ctx, f.topic, msg); err != nil {
		return fmt.Errorf("forward event: %w", err)
	}
	return nil
}
