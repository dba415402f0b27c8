package progress

import (
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/google/uuid"
)

// Type denotes the lifecycle or outcome milestone represented by an Event.
type Type string

// Supported event types.
const (
	CrawlerStarted   Type = "CRAWLER_STARTED"
	CrawlerStopped   Type = "CRAWLER_STOPPED"
	PageFetchStarted Type = "PAGE_FETCH_STARTED"
	PageFetchSuccess Type = "PAGE_FETCH_SUCCESS"
	PageFetchFailed  Type = "PAGE_FETCH_FAILED"
	PageParseStarted Type = "PAGE_PARSE_STARTED"
	PageParseSuccess Type = "PAGE_PARSE_SUCCESS"
	PageParseFailed  Type = "PAGE_PARSE_FAILED"
	URLQueued        Type = "URL_QUEUED"
	ErrorOccurred    Type = "ERROR_OCCURRED"
)

// Types lists every supported event type.
func Types() []Type {
	return []Type{
		CrawlerStarted, CrawlerStopped,
		PageFetchStarted, PageFetchSuccess, PageFetchFailed,
		PageParseStarted, PageParseSuccess, PageParseFailed,
		URLQueued, ErrorOccurred,
	}
}

// Valid reports whether t is a supported event type.
func (t Type) Valid() bool {
	switch t {
	case CrawlerStarted, CrawlerStopped,
		PageFetchStarted, PageFetchSuccess, PageFetchFailed,
		PageParseStarted, PageParseSuccess, PageParseFailed,
		URLQueued, ErrorOccurred:
		return true
	}
	return false
}

// Common data keys attached to events.
const (
	KeyElapsed    = "elapsed"
	KeyMessage    = "message"
	KeyRetry      = "retry"
	KeyStatusCode = "status_code"
	KeyBytes      = "bytes"
	KeyLinks      = "links"
	KeyItems      = "items"
	KeyStrategy   = "strategy"
)

// Event is an immutable record of something that happened during a crawl.
// The With* helpers return modified copies and never touch the receiver.
type Event struct {
	ID   uuid.UUID
	Type Type
	TS   time.Time
	URL  string
	Err  error
	data map[string]any
}

// NewEvent stamps a new event of type t with an ID and the current UTC time.
func NewEvent(t Type) Event {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return Event{ID: id, Type: t, TS: time.Now().UTC()}
}

// WithURL returns a copy of e scoped to url.
func (e Event) WithURL(url string) Event {
	e.URL = url
	return e
}

// WithErr returns a copy of e carrying err as its cause.
func (e Event) WithErr(err error) Event {
	e.Err = err
	return e
}

// With returns a copy of e with key set to value.
func (e Event) With(key string, value any) Event {
	data := maps.Clone(e.data)
	if data == nil {
		data = make(map[string]any, 1)
	}
	data[key] = value
	e.data = data
	return e
}

// Value returns a data entry.
func (e Event) Value(key string) (any, bool) {
	v, ok := e.data[key]
	return v, ok
}

// Data returns a copy of the event data.
func (e Event) Data() map[string]any {
	return maps.Clone(e.data)
}

// Duration returns the duration stored under key, or zero.
func (e Event) Duration(key string) time.Duration {
	d, _ := e.data[key].(time.Duration)
	return d
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.ID == uuid.Nil {
		return errors.New("event id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	if !e.Type.Valid() {
		return fmt.Errorf("unknown event type %q", e.Type)
	}
	return nil
}
