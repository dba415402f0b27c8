package listeners

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/JakeFAU/politecrawler/internal/crawler"
	"github.com/JakeFAU/politecrawler/internal/metrics"
	"github.com/JakeFAU/politecrawler/internal/progress"
)

// SiteStats aggregates fetch outcomes for a single host.
type SiteStats struct {
	Site       string    `json:"site"`
	LastUpdate time.Time `json:"last_update"`
	Visits     int64     `json:"visits"`
	Failures   int64     `json:"failures"`
	BytesTotal int64     `json:"bytes_total"`
	Fetch2xx   int64     `json:"fetch_2xx"`
	Fetch3xx   int64     `json:"fetch_3xx"`
	Fetch4xx   int64     `json:"fetch_4xx"`
	Fetch5xx   int64     `json:"fetch_5xx"`
}

// Sites keeps per-host fetch counters for the admin API.
type Sites struct {
	mu    sync.Mutex
	sites map[string]*SiteStats
}

// NewSites builds an empty per-host listener.
func NewSites() *Sites {
	return &Sites{sites: make(map[string]*SiteStats)}
}

// Name implements progress.Listener.
func (s *Sites) Name() string { return "sites" }

// Interests implements progress.Listener.
func (s *Sites) Interests() []progress.Type {
	return []progress.Type{progress.PageFetchSuccess, progress.PageFetchFailed}
}

// OnEvent implements progress.Listener. Failed fetches count as visits; an
// HTTP status failure is also bucketed by its status class.
func (s *Sites) OnEvent(_ context.Context, evt progress.Event) error {
	if evt.URL == "" {
		return nil
	}
	site := metrics.SanitizeSite(evt.URL)

	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.sites[site]
	if !ok {
		st = &SiteStats{Site: site}
		s.sites[site] = st
	}
	st.Visits++
	if evt.TS.After(st.LastUpdate) {
		st.LastUpdate = evt.TS
	}

	status := 0
	switch evt.Type {
	case progress.PageFetchSuccess:
		if v, ok := evt.Value(progress.KeyStatusCode); ok {
			status, _ = v.(int)
		}
		if v, ok := evt.Value(progress.KeyBytes); ok {
			if n, ok := v.(int); ok && n > 0 {
				st.BytesTotal += int64(n)
			}
		}
	case progress.PageFetchFailed:
		st.Failures++
		if ce, ok := crawler.AsError(evt.Err); ok && ce.Kind == crawler.KindHTTPStatus {
			status = ce.StatusCode
		}
	}
	switch {
	case status >= 500:
		st.Fetch5xx++
	case status >= 400:
		st.Fetch4xx++
	case status >= 300:
		st.Fetch3xx++
	case status >= 200:
		st.Fetch2xx++
	}
	return nil
}

// List returns a page of site stats ordered by visits, busiest first.
func (s *Sites) List(limit, offset int) []SiteStats {
	s.mu.Lock()
	out := make([]SiteStats, 0, len(s.sites))
	for _, st := range s.sites {
		out = append(out, *st)
	}
	s.mu.Unlock()

	slices.SortFunc(out, func(a, b SiteStats) int {
		if c := cmp.Compare(b.Visits, a.Visits); c != 0 {
			return c
		}
		return cmp.Compare(a.Site, b.Site)
	})
	if offset >= len(out) {
		return []SiteStats{}
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out
}

// Get returns the stats for one host.
func (s *Sites) Get(site string) (SiteStats, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.sites[metrics.SanitizeSite(site)]
	if !ok {
		return SiteStats{}, false
	}
	return *st, true
}
