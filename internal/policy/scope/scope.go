// Package scope decides which discovered URLs are eligible for crawling.
package scope

import (
	"net/url"
	"slices"
	"strings"
)

// Policy filters URLs by scheme and host. The zero value allows every
// http(s) URL.
type Policy struct {
	exact    map[string]struct{}
	suffixes []string
}

// New builds a Policy from blocked host patterns. "example.org" blocks the
// exact host; "*.ru" and ".ru" block the domain and all subdomains.
func New(blocked []string) *Policy {
	p := &Policy{exact: make(map[string]struct{})}
	for _, raw := range blocked {
		value := strings.TrimSpace(strings.ToLower(raw))
		switch {
		case value == "":
		case strings.HasPrefix(value, "*."):
			p.addSuffix(strings.TrimPrefix(value, "*."))
		case strings.HasPrefix(value, "."):
			p.addSuffix(strings.TrimPrefix(value, "."))
		default:
			p.exact[value] = struct{}{}
		}
	}
	return p
}

func (p *Policy) addSuffix(suffix string) {
	if suffix == "" || slices.Contains(p.suffixes, suffix) {
		return
	}
	p.suffixes = append(p.suffixes, suffix)
}

// Blocked reports whether host matches a blocked pattern.
func (p *Policy) Blocked(host string) bool {
	if p == nil {
		return false
	}
	host = strings.TrimSpace(strings.ToLower(host))
	if host == "" {
		return false
	}
	if _, ok := p.exact[host]; ok {
		return true
	}
	for _, suffix := range p.suffixes {
		if host == suffix || strings.HasSuffix(host, "."+suffix) {
			return true
		}
	}
	return false
}

// Allow reports whether rawURL is an http(s) URL on a host that is not blocked.
func (p *Policy) Allow(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	return u.Hostname() != "" && !p.Blocked(u.Hostname())
}
