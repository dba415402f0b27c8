package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/JakeFAU/politecrawler/internal/crawler"
)

// ItemSink collects extracted items in insertion order.
type ItemSink struct {
	mu    sync.RWMutex
	items []crawler.Item
}

// NewItemSink returns an empty sink.
func NewItemSink() *ItemSink {
	return &ItemSink{}
}

// Store implements crawler.ItemSink.
func (s *ItemSink) Store(_ context.Context, item crawler.Item) error {
	s.mu.Lock()
	s.items = append(s.items, item)
	s.mu.Unlock()
	return nil
}

// Items returns a snapshot of stored items.
func (s *ItemSink) Items() []crawler.Item {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.items)
}

// Len reports how many items were stored.
func (s *ItemSink) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}
