package listeners

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/JakeFAU/politecrawler/internal/progress"
)

// Report is a point-in-time snapshot of crawl statistics.
type Report struct {
	Fetched     int64         `json:"fetched"`
	Parsed      int64         `json:"parsed"`
	FetchErrors int64         `json:"fetch_errors"`
	ParseErrors int64         `json:"parse_errors"`
	Queued      int64         `json:"queued"`
	Elapsed     time.Duration `json:"-"`
	ElapsedMS   int64         `json:"elapsed_ms"`
	SuccessRate float64       `json:"success_rate"`
}

// Stats counts crawl outcomes from the event stream.
type Stats struct {
	fetched     atomic.Int64
	parsed      atomic.Int64
	fetchErrors atomic.Int64
	parseErrors atomic.Int64
	queued      atomic.Int64
	started     atomic.Int64
	stopped     atomic.Int64
	now         func() time.Time
}

// NewStats builds an empty statistics listener.
func NewStats() *Stats {
	return &Stats{now: time.Now}
}

// Name implements progress.Listener.
func (s *Stats) Name() string { return "statistics" }

// Interests implements progress.Listener.
func (s *Stats) Interests() []progress.Type {
	return []progress.Type{
		progress.CrawlerStarted,
		progress.CrawlerStopped,
		progress.PageFetchSuccess,
		progress.PageFetchFailed,
		progress.PageParseSuccess,
		progress.PageParseFailed,
		progress.URLQueued,
	}
}

// OnEvent implements progress.Listener. The first CRAWLER_STARTED fixes the
// start time; counters are only cleared through Reset so that deliveries
// reordered by an asynchronous bus are never lost.
func (s *Stats) OnEvent(_ context.Context, evt progress.Event) error {
	switch evt.Type {
	case progress.CrawlerStarted:
		s.started.CompareAndSwap(0, evt.TS.UnixNano())
	case progress.CrawlerStopped:
		s.stopped.Store(evt.TS.UnixNano())
	case progress.PageFetchSuccess:
		s.fetched.Add(1)
	case progress.PageFetchFailed:
		s.fetchErrors.Add(1)
	case progress.PageParseSuccess:
		s.parsed.Add(1)
	case progress.PageParseFailed:
		s.parseErrors.Add(1)
	case progress.URLQueued:
		s.queued.Add(1)
	}
	return nil
}

// Reset clears every counter and timestamp.
func (s *Stats) Reset() {
	s.fetched.Store(0)
	s.parsed.Store(0)
	s.fetchErrors.Store(0)
	s.parseErrors.Store(0)
	s.queued.Store(0)
	s.started.Store(0)
	s.stopped.Store(0)
}

// Report returns the current counters.
func (s *Stats) Report() Report {
	r := Report{
		Fetched:     s.fetched.Load(),
		Parsed:      s.parsed.Load(),
		FetchErrors: s.fetchErrors.Load(),
		ParseErrors: s.parseErrors.Load(),
		Queued:      s.queued.Load(),
	}
	started, stopped := s.started.Load(), s.stopped.Load()
	switch {
	case started > 0 && stopped > 0:
		r.Elapsed = time.Duration(stopped - started)
	case started > 0:
		r.Elapsed = s.now().Sub(time.Unix(0, started))
	}
	if r.Elapsed < 0 {
		r.Elapsed = 0
	}
	r.ElapsedMS = r.Elapsed.Milliseconds()
	if total := r.Fetched + r.FetchErrors; total > 0 {
		r.SuccessRate = float64(r.Fetched) / float64(total)
	}
	return r
}
