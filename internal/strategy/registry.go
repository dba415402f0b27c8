package strategy

import (
	"cmp"
	"reflect"
	"slices"
	"sync"
)

type entry struct {
	strategy Strategy
	seq      uint64
}

// Registry keeps strategies ordered by ascending priority, ties broken by
// registration order. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries []entry
	seq     uint64
}

// NewRegistry builds a registry holding strategies.
func NewRegistry(strategies ...Strategy) *Registry {
	r := &Registry{}
	for _, s := range strategies {
		r.Register(s)
	}
	return r
}

// Register adds s. Registering the same instance twice is a no-op that
// returns false.
func (r *Registry) Register(s Strategy) bool {
	if s == nil || !reflect.TypeOf(s).Comparable() {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		if e.strategy == s {
			return false
		}
	}
	r.seq++
	r.entries = append(r.entries, entry{strategy: s, seq: r.seq})
	slices.SortFunc(r.entries, func(a, b entry) int {
		if c := cmp.Compare(a.strategy.Priority(), b.strategy.Priority()); c != 0 {
			return c
		}
		return cmp.Compare(a.seq, b.seq)
	})
	return true
}

// Remove deletes s and reports whether it was registered.
func (r *Registry) Remove(s Strategy) bool {
	if s == nil || !reflect.TypeOf(s).Comparable() {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	before := len(r.entries)
	r.entries = slices.DeleteFunc(r.entries, func(e entry) bool { return e.strategy == s })
	return len(r.entries) != before
}

// Select returns the highest-priority strategy matching url, or nil.
func (r *Registry) Select(url string) Strategy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.entries {
		if e.strategy.Matches(url) {
			return e.strategy
		}
	}
	return nil
}

// Matching returns every strategy matching url in priority order.
func (r *Registry) Matching(url string) []Strategy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Strategy
	for _, e := range r.entries {
		if e.strategy.Matches(url) {
			out = append(out, e.strategy)
		}
	}
	return out
}

// All returns the registered strategies in priority order.
func (r *Registry) All() []Strategy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Strategy, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.strategy)
	}
	return out
}

// Len returns the number of registered strategies.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
