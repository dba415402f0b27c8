package frontier

import (
	"sync"
	"sync/atomic"

	"github.com/JakeFAU/politecrawler/internal/crawler"
)

// Seen records normalized URLs so discovered links are only queued once.
type Seen struct {
	urls  sync.Map
	count atomic.Int64
}

// NewSeen returns an empty tracker.
func NewSeen() *Seen {
	return &Seen{}
}

// MarkIfNew stores the URL if it has not been seen before and returns true.
func (s *Seen) MarkIfNew(url string) bool {
	key, err := crawler.NormalizeURL(url)
	if err != nil || key == "" {
		return false
	}
	if _, loaded := s.urls.LoadOrStore(key, struct{}{}); loaded {
		return false
	}
	s.count.Add(1)
	return true
}

// Forget removes the URL so a later discovery can queue it again.
func (s *Seen) Forget(url string) {
	key, err := crawler.NormalizeURL(url)
	if err != nil || key == "" {
		return
	}
	if _, loaded := s.urls.LoadAndDelete(key); loaded {
		s.count.Add(-1)
	}
}

// Len returns the number of distinct URLs recorded.
func (s *Seen) Len() int {
	return int(s.count.Load())
}
