// Package collyfetcher implements crawler.Fetcher using gocolly.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"
	"golang.org/x/net/html/charset"
	"golang.org/x/text/transform"

	"github.com/JakeFAU/politecrawler/internal/crawler"
	"github.com/JakeFAU/politecrawler/internal/proxy"
)

const defaultCharset = "utf-8"

// Config controls collector behavior.
type Config struct {
	UserAgent      string
	ConnectTimeout time.Duration
	Timeout        time.Duration
	MaxConnections int
	// MaxBodySize truncates response bodies; zero keeps colly's default.
	MaxBodySize int
	Proxies     *proxy.Rotator
	Logger      *zap.Logger
}

// Fetcher implements crawler.Fetcher using the Colly collector.
type Fetcher struct {
	cfg           Config
	logger        *zap.Logger
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

type fetchState struct {
	page    *crawler.RawPage
	err     error
	decoder error
}

// New builds a Fetcher. Clones share one transport so connection pooling
// and the request timeout apply across fetches.
func New(cfg Config) *Fetcher {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}

	c := colly.NewCollector(colly.Async(false))
	c.AllowURLRevisit = true
	c.IgnoreRobotsTxt = true
	c.ParseHTTPErrorResponse = true
	if cfg.MaxBodySize > 0 {
		c.MaxBodySize = cfg.MaxBodySize
	}
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	c.WithTransport(newHTTPTransport(cfg))
	c.SetRequestTimeout(cfg.Timeout)
	if cfg.Proxies != nil && cfg.Proxies.Len() > 0 {
		c.SetProxyFunc(cfg.Proxies.ProxyFunc())
	}

	return &Fetcher{cfg: cfg, logger: logger, baseCollector: c}
}

// Fetch executes a single HTTP GET using Colly.
func (f *Fetcher) Fetch(ctx context.Context, request crawler.FetchRequest) (*crawler.RawPage, error) {
	collector := f.baseCollector.Clone()
	collector.Context = ctx

	state := &fetchState{}
	f.configureCollectorHooks(collector, request, state)

	if err := f.runCollector(ctx, collector, request.URL, state); err != nil {
		return nil, f.classify(request.URL, err)
	}
	if state.page == nil {
		return nil, crawler.NewNetworkError(request.URL, errors.New("no response received"))
	}
	if state.page.StatusCode >= http.StatusBadRequest {
		if state.page.StatusCode == http.StatusForbidden && f.cfg.Proxies != nil && f.cfg.Proxies.Len() > 0 {
			f.cfg.Proxies.Forbidden()
			f.logger.Info("proxy rotated after forbidden response", zap.String("url", request.URL))
		}
		return nil, crawler.NewHTTPStatusError(request.URL, state.page.StatusCode)
	}
	return state.page, nil
}

func (f *Fetcher) configureCollectorHooks(hooks collectorHooks, request crawler.FetchRequest, state *fetchState) {
	hooks.OnRequest(func(r *colly.Request) {
		copyHeaders(request, r)
	})

	hooks.OnResponse(func(r *colly.Response) {
		contentType := ""
		if r.Headers != nil {
			contentType = r.Headers.Get("Content-Type")
		}
		content, name, err := decodeBody(r.Body, contentType)
		if err != nil {
			state.decoder = err
		}
		finalURL := request.URL
		if r.Request != nil && r.Request.URL != nil {
			finalURL = r.Request.URL.String()
		}
		state.page = &crawler.RawPage{
			URL:         finalURL,
			Charset:     name,
			Content:     content,
			StatusCode:  r.StatusCode,
			ContentType: contentType,
		}
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		state.err = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string, state *fetchState) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		if state.err != nil {
			return fmt.Errorf("colly response failed: %w", state.err)
		}
		if state.decoder != nil {
			f.logger.Debug("charset decode fell back to raw bytes", zap.String("url", url), zap.Error(state.decoder))
		}
		return nil
	}
}

func (f *Fetcher) classify(url string, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return crawler.NewTimeoutError(url, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return crawler.NewTimeoutError(url, err)
	}
	return crawler.NewNetworkError(url, err)
}

func copyHeaders(request crawler.FetchRequest, r *colly.Request) {
	for key, value := range request.Headers {
		r.Headers.Set(key, value)
	}
}

// decodeBody returns the body as UTF-8 plus the name of the source charset.
// Colly already transcodes bodies whose Content-Type names a charset, so only
// undeclared encodings are sniffed here.
func decodeBody(body []byte, contentType string) (string, string, error) {
	if declared := declaredCharset(contentType); declared != "" {
		if _, name := charset.Lookup(declared); name != "" {
			return string(body), name, nil
		}
		return string(body), declared, nil
	}
	enc, name, certain := charset.DetermineEncoding(body, contentType)
	if name == defaultCharset || (!certain && utf8.Valid(body)) {
		return string(body), defaultCharset, nil
	}
	decoded, _, err := transform.Bytes(enc.NewDecoder(), body)
	if err != nil {
		return string(body), defaultCharset, fmt.Errorf("decode %s: %w", name, err)
	}
	return string(decoded), name, nil
}

func declaredCharset(contentType string) string {
	if contentType == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(params["charset"]))
}

func newHTTPTransport(cfg Config) *http.Transport {
	connectTimeout := cfg.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 10 * time.Second
	}
	maxConns := cfg.MaxConnections
	if maxConns <= 0 {
		maxConns = 100
	}
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   connectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          maxConns,
		MaxConnsPerHost:       maxConns,
		IdleConnTimeout:       90 * time.Second,
	}
}
