// Package fetcher builds the crawler.Fetcher selected by configuration.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/politecrawler/internal/crawler"
	collyfetcher "github.com/JakeFAU/politecrawler/internal/fetcher/colly"
	"github.com/JakeFAU/politecrawler/internal/fetcher/headless"
	"github.com/JakeFAU/politecrawler/internal/headless/detector"
)

// Backend tags accepted by New.
const (
	BackendHTTP     = "http"
	BackendHeadless = "headless"
	BackendHybrid   = "hybrid"
)

// Config selects and configures a backend.
type Config struct {
	Backend          string
	HTTP             collyfetcher.Config
	Headless         headless.Config
	PromoteThreshold int
	Logger           *zap.Logger
}

// Closer is a Fetcher that owns resources.
type Closer interface {
	crawler.Fetcher
	Close() error
}

type factory func(cfg Config) (Closer, error)

var backends = map[string]factory{
	BackendHTTP: func(cfg Config) (Closer, error) {
		return nopCloser{collyfetcher.New(cfg.HTTP)}, nil
	},
	BackendHeadless: func(cfg Config) (Closer, error) {
		f, err := headless.NewChromedp(cfg.Headless)
		if err != nil {
			return nil, fmt.Errorf("headless fetcher: %w", err)
		}
		return f, nil
	},
	BackendHybrid: func(cfg Config) (Closer, error) {
		browser, err := headless.NewChromedp(cfg.Headless)
		if err != nil {
			return nil, fmt.Errorf("headless fetcher: %w", err)
		}
		return &Hybrid{
			Primary:  collyfetcher.New(cfg.HTTP),
			Headless: browser,
			Detector: detector.NewHeuristic(cfg.PromoteThreshold, nil),
			Logger:   cfg.Logger,
			closer:   browser.Close,
		}, nil
	},
}

// Backends lists the registered backend tags.
func Backends() []string {
	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New builds the backend named by cfg.Backend. Empty selects BackendHTTP.
func New(cfg Config) (Closer, error) {
	name := strings.ToLower(strings.TrimSpace(cfg.Backend))
	if name == "" {
		name = BackendHTTP
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.HTTP.Logger == nil {
		cfg.HTTP.Logger = cfg.Logger
	}
	build, ok := backends[name]
	if !ok {
		return nil, fmt.Errorf("unknown fetcher backend %q (want one of %s)", cfg.Backend, strings.Join(Backends(), ", "))
	}
	return build(cfg)
}

type nopCloser struct {
	crawler.Fetcher
}

func (nopCloser) Close() error { return nil }

// Promoter decides whether a page needs a browser render.
type Promoter interface {
	ShouldPromote(page crawler.RawPage) bool
}

// Hybrid fetches over plain HTTP and re-renders pages that look
// client-rendered. A failed render keeps the HTTP page.
type Hybrid struct {
	Primary  crawler.Fetcher
	Headless crawler.Fetcher
	Detector Promoter
	Logger   *zap.Logger

	closer func() error
}

// Fetch implements crawler.Fetcher.
func (h *Hybrid) Fetch(ctx context.Context, request crawler.FetchRequest) (*crawler.RawPage, error) {
	page, err := h.Primary.Fetch(ctx, request)
	if err != nil || page == nil {
		return page, err
	}
	if h.Detector == nil || h.Headless == nil || !h.Detector.ShouldPromote(*page) {
		return page, nil
	}
	logger := h.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	rendered, err := h.Headless.Fetch(ctx, request)
	if err != nil || rendered == nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		logger.Warn("headless render failed; keeping http page", zap.String("url", request.URL), zap.Error(err))
		return page, nil
	}
	logger.Debug("page promoted to headless", zap.String("url", request.URL))
	return rendered, nil
}

// Close releases the browser.
func (h *Hybrid) Close() error {
	if h.closer == nil {
		return nil
	}
	return h.closer()
}
