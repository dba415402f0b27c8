package headless

import (
	"context"
	"errors"

	"github.com/JakeFAU/politecrawler/internal/crawler"
)

// ErrUnavailable reports that no browser backend is configured.
var ErrUnavailable = errors.New("headless fetcher not configured")

// Noop implements crawler.Fetcher but always fails.
type Noop struct{}

// NewNoop creates a new Noop fetcher.
func NewNoop() *Noop {
	return &Noop{}
}

// Fetch always returns a network error wrapping ErrUnavailable.
func (Noop) Fetch(_ context.Context, request crawler.FetchRequest) (*crawler.RawPage, error) {
	return nil, crawler.NewNetworkError(request.URL, ErrUnavailable)
}
