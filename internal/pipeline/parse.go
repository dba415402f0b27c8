package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/politecrawler/internal/crawler"
	"github.com/JakeFAU/politecrawler/internal/frontier"
	"github.com/JakeFAU/politecrawler/internal/policy/scope"
	"github.com/JakeFAU/politecrawler/internal/progress"
	"github.com/JakeFAU/politecrawler/internal/strategy"
)

// Enqueuer accepts newly discovered URLs.
type Enqueuer interface {
	AddURL(url string) bool
}

// ParseConfig wires a ParseStage.
type ParseConfig struct {
	Strategies *strategy.Registry
	Enqueuer   Enqueuer
	// Seen suppresses URLs that were already discovered. Nil disables it.
	Seen *frontier.Seen
	// Scope filters discovered URLs. Nil allows every http(s) URL.
	Scope     *scope.Policy
	Sink      crawler.ItemSink
	Publisher progress.Publisher
	Logger    *zap.Logger
}

// ParseStage runs every matching strategy over the fetched page, queues the
// links they discover, and hands extracted items to the sink.
type ParseStage struct {
	cfg ParseConfig
}

// NewParseStage builds a ParseStage.
func NewParseStage(cfg ParseConfig) *ParseStage {
	if cfg.Publisher == nil {
		cfg.Publisher = progress.Discard
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &ParseStage{cfg: cfg}
}

// Name implements Stage.
func (s *ParseStage) Name() string { return "parse" }

// Process implements Stage.
func (s *ParseStage) Process(ctx context.Context, cc *crawler.CrawlContext) Result {
	target := cc.URL()
	if _, ok := cc.Page(); !ok {
		return Fail("parse", crawler.NewContentFormatError(target, "no page fetched"))
	}
	if s.cfg.Seen != nil {
		s.cfg.Seen.MarkIfNew(target)
	}
	start := time.Now()
	s.cfg.Publisher.Publish(progress.NewEvent(progress.PageParseStarted).WithURL(target))

	var strategies []strategy.Strategy
	if s.cfg.Strategies != nil {
		strategies = s.cfg.Strategies.Matching(target)
	}
	var links, items int
	for _, st := range strategies {
		queued, stored, err := s.apply(ctx, st, cc)
		links += queued
		items += stored
		if err != nil {
			s.cfg.Publisher.Publish(progress.NewEvent(progress.PageParseFailed).
				WithURL(target).
				WithErr(err).
				With(progress.KeyStrategy, st.Name()).
				With(progress.KeyElapsed, time.Since(start)))
			return Fail(fmt.Sprintf("strategy %s", st.Name()), err)
		}
	}

	cc.Mark(crawler.MarkParsed)
	s.cfg.Publisher.Publish(progress.NewEvent(progress.PageParseSuccess).
		WithURL(target).
		With(progress.KeyLinks, links).
		With(progress.KeyItems, items).
		With(progress.KeyElapsed, time.Since(start)))
	return Succeed()
}

func (s *ParseStage) apply(ctx context.Context, st strategy.Strategy, cc *crawler.CrawlContext) (int, int, error) {
	target := cc.URL()
	urls, err := extractURLs(st, cc)
	if err != nil {
		return 0, 0, err
	}
	queued := 0
	for _, u := range urls {
		if !s.cfg.Scope.Allow(u) {
			continue
		}
		if s.cfg.Seen != nil && !s.cfg.Seen.MarkIfNew(u) {
			continue
		}
		if s.cfg.Enqueuer == nil {
			continue
		}
		if !s.cfg.Enqueuer.AddURL(u) {
			if s.cfg.Seen != nil {
				s.cfg.Seen.Forget(u)
			}
			continue
		}
		queued++
	}

	item, err := extractData(st, cc)
	if err != nil {
		return queued, 0, err
	}
	if item == nil || item.Empty() || s.cfg.Sink == nil {
		return queued, 0, nil
	}
	if item.URL == "" {
		item.URL = target
	}
	if item.Strategy == "" {
		item.Strategy = st.Name()
	}
	if item.ExtractedAt.IsZero() {
		item.ExtractedAt = time.Now().UTC()
	}
	if err := s.cfg.Sink.Store(ctx, *item); err != nil {
		if _, ok := crawler.AsError(err); !ok {
			err = crawler.NewFileError("item sink", err)
		}
		return queued, 0, err
	}
	s.cfg.Logger.Debug("item stored", zap.String("url", target), zap.String("strategy", st.Name()))
	return queued, 1, nil
}

func extractURLs(st strategy.Strategy, cc *crawler.CrawlContext) (urls []string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = crawler.NewExtractionError(cc.URL(), fmt.Errorf("extract urls panicked: %v", r))
		}
	}()
	return st.ExtractURLs(cc)
}

func extractData(st strategy.Strategy, cc *crawler.CrawlContext) (item *crawler.Item, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = crawler.NewExtractionError(cc.URL(), fmt.Errorf("extract data panicked: %v", r))
		}
	}()
	return st.ExtractData(cc)
}
