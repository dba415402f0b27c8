package crawler

import (
	"context"
	"io"
)

// Fetcher retrieves a page. A nil page with a nil error is treated as a
// failed fetch by callers.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (*RawPage, error)
}

// ItemSink persists extracted items.
type ItemSink interface {
	Store(ctx context.Context, item Item) error
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// Publisher pushes payloads to a message topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}
