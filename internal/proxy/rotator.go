// Package proxy rotates outbound requests across a list of HTTP proxies.
package proxy

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
)

// DefaultPort is used for entries configured without a port.
const DefaultPort = 8080

// Entry is one rotation candidate.
type Entry struct {
	Host string
	Port int
}

// String returns host:port.
func (e Entry) String() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// URL returns the entry as an http proxy URL.
func (e Entry) URL() *url.URL {
	return &url.URL{Scheme: "http", Host: e.String()}
}

// ParseEntry parses "host" or "host:port".
func ParseEntry(raw string) (Entry, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Entry{}, fmt.Errorf("proxy entry is empty")
	}
	host, portText, err := net.SplitHostPort(raw)
	if err != nil {
		return Entry{Host: raw, Port: DefaultPort}, nil
	}
	port, err := strconv.Atoi(portText)
	if err != nil || port <= 0 || port > 65535 {
		return Entry{}, fmt.Errorf("proxy entry %q: invalid port", raw)
	}
	if host == "" {
		return Entry{}, fmt.Errorf("proxy entry %q: missing host", raw)
	}
	return Entry{Host: host, Port: port}, nil
}

// Rotator hands out proxies round-robin. Next always advances; Current
// sticks to one entry until it has been used more than maxUses times or
// Forbidden is reported. It is safe for concurrent use by all workers.
type Rotator struct {
	entries  []Entry
	maxUses  int64
	position atomic.Uint64

	mu      sync.Mutex
	current int
	uses    int64
}

// NewRotator builds a rotator. maxUses <= 0 disables usage-based rotation.
func NewRotator(entries []Entry, maxUses int) *Rotator {
	return &Rotator{
		entries: append([]Entry(nil), entries...),
		maxUses: int64(maxUses),
		current: -1,
	}
}

// Len returns the number of entries.
func (r *Rotator) Len() int {
	return len(r.entries)
}

// Next returns the entry at the current position and advances it. It
// returns false when the list is empty, meaning a direct connection.
func (r *Rotator) Next() (Entry, bool) {
	if len(r.entries) == 0 {
		return Entry{}, false
	}
	pos := r.position.Add(1) - 1
	return r.entries[pos%uint64(len(r.entries))], true
}

// Current returns the sticky entry and counts one use against it, rotating
// first once its use count has exceeded maxUses.
func (r *Rotator) Current() (Entry, bool) {
	if len(r.entries) == 0 {
		return Entry{}, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current < 0 || (r.maxUses > 0 && r.uses > r.maxUses) {
		r.rotateLocked()
	}
	r.uses++
	return r.entries[r.current], true
}

// Forbidden forces rotation away from the sticky entry, typically after a
// 403 response.
func (r *Rotator) Forbidden() {
	if len(r.entries) == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rotateLocked()
}

func (r *Rotator) rotateLocked() {
	pos := r.position.Add(1) - 1
	r.current = int(pos % uint64(len(r.entries)))
	r.uses = 0
}

// ProxyFunc adapts Current to http.Transport.Proxy. A nil or empty rotator
// yields a direct connection.
func (r *Rotator) ProxyFunc() func(*http.Request) (*url.URL, error) {
	return func(*http.Request) (*url.URL, error) {
		if r == nil {
			return nil, nil
		}
		entry, ok := r.Current()
		if !ok {
			return nil, nil
		}
		return entry.URL(), nil
	}
}
