package pipeline

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/politecrawler/internal/crawler"
	"github.com/JakeFAU/politecrawler/internal/strategy"
)

var errNoPage = errors.New("fetcher returned no page")

// Throttle spaces requests to the same host.
type Throttle interface {
	Wait(ctx context.Context, rawURL string, interval time.Duration) error
}

// FetchConfig wires a FetchStage.
type FetchConfig struct {
	Fetcher    crawler.Fetcher
	Strategies *strategy.Registry
	Throttle   Throttle
	// UserAgent is sent when no strategy matches the URL.
	UserAgent string
	Logger    *zap.Logger
}

// FetchStage downloads the task URL and stores the page on the context.
type FetchStage struct {
	cfg FetchConfig
}

// NewFetchStage builds a FetchStage.
func NewFetchStage(cfg FetchConfig) *FetchStage {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = strategy.DefaultUserAgent
	}
	return &FetchStage{cfg: cfg}
}

// Name implements Stage.
func (s *FetchStage) Name() string { return "fetch" }

// Process implements Stage.
func (s *FetchStage) Process(ctx context.Context, cc *crawler.CrawlContext) Result {
	if s.cfg.Fetcher == nil {
		return Fail("no fetcher configured", crawler.NewNetworkError(cc.URL(), errNoPage))
	}
	target := cc.URL()
	headers := map[string]string{"User-Agent": s.cfg.UserAgent}
	var interval time.Duration
	if st := s.strategyFor(target); st != nil {
		headers = st.Headers(target)
		interval = st.RequestDelay(target)
		cc.Set(AttrStrategy, st.Name())
	}

	if s.cfg.Throttle != nil {
		if err := s.cfg.Throttle.Wait(ctx, target, interval); err != nil {
			return Fail("throttle wait", err)
		}
	}

	page, err := s.cfg.Fetcher.Fetch(ctx, crawler.FetchRequest{URL: target, Headers: headers})
	if err != nil {
		return Fail("fetch failed", err)
	}
	if page == nil {
		return Fail("fetch failed", crawler.NewNetworkError(target, errNoPage))
	}
	if page.URL == "" {
		page.URL = target
	}
	if err := cc.SetPage(*page); err != nil {
		return Fail("store page", err)
	}
	s.cfg.Logger.Debug("page fetched",
		zap.String("url", target),
		zap.Int("status", page.StatusCode),
		zap.Int("bytes", page.Size()),
	)
	return Succeed()
}

func (s *FetchStage) strategyFor(url string) strategy.Strategy {
	if s.cfg.Strategies == nil {
		return nil
	}
	return s.cfg.Strategies.Select(url)
}
