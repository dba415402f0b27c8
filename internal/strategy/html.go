package strategy

import (
	"errors"
	"fmt"
	"maps"
	"mime"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"

	"github.com/JakeFAU/politecrawler/internal/crawler"
)

const (
	defaultLinkSelector = "a[href]"
	documentKey         = "strategy.html.document"
)

var errNoMatch = errors.New("no element matched")

// HTMLConfig describes a selector-driven HTML strategy.
type HTMLConfig struct {
	Name       string
	Hosts      []string
	Priority   int
	Delay      time.Duration
	MaxRetries int
	UserAgent  string
	Headers    map[string]string
	// SameHost restricts discovered links to the page's host.
	SameHost bool
	// LinkSelector finds link elements; defaults to "a[href]".
	LinkSelector string
	// Fields maps an item field to a CSS selector. A "@attr" suffix reads
	// an attribute instead of the element text.
	Fields map[string]string
	// Required names fields whose selector must match.
	Required []string
}

type fieldRule struct {
	selector string
	matcher  cascadia.Selector
	attr     string
}

// HTMLStrategy discovers links and extracts fields from HTML pages with
// goquery. Selectors are compiled once at construction.
type HTMLStrategy struct {
	Base
	hosts    []string
	headers  map[string]string
	sameHost bool
	links    cascadia.Selector
	linkSel  string
	fields   map[string]fieldRule
	required []string
}

// NewHTML validates cfg and builds the strategy.
func NewHTML(cfg HTMLConfig) (*HTMLStrategy, error) {
	if strings.TrimSpace(cfg.Name) == "" {
		return nil, fmt.Errorf("strategy name is required")
	}
	linkSel := cfg.LinkSelector
	if linkSel == "" {
		linkSel = defaultLinkSelector
	}
	links, err := cascadia.Compile(linkSel)
	if err != nil {
		return nil, fmt.Errorf("strategy %s: link selector %q: %w", cfg.Name, linkSel, err)
	}
	fields := cfg.Fields
	if len(fields) == 0 {
		fields = map[string]string{
			"title":       "title",
			"description": `meta[name="description"]@content`,
		}
	}
	rules := make(map[string]fieldRule, len(fields))
	for name, raw := range fields {
		sel, attr, _ := strings.Cut(raw, "@")
		matcher, err := cascadia.Compile(strings.TrimSpace(sel))
		if err != nil {
			return nil, fmt.Errorf("strategy %s: field %s selector %q: %w", cfg.Name, name, sel, err)
		}
		rules[name] = fieldRule{selector: raw, matcher: matcher, attr: attr}
	}
	for _, name := range cfg.Required {
		if _, ok := rules[name]; !ok {
			return nil, fmt.Errorf("strategy %s: required field %s has no selector", cfg.Name, name)
		}
	}
	hosts := make([]string, 0, len(cfg.Hosts))
	for _, h := range cfg.Hosts {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			hosts = append(hosts, h)
		}
	}
	return &HTMLStrategy{
		Base: Base{
			StrategyName: cfg.Name,
			Delay:        cfg.Delay,
			Retries:      cfg.MaxRetries,
			Rank:         cfg.Priority,
			UserAgent:    cfg.UserAgent,
		},
		hosts:    hosts,
		headers:  maps.Clone(cfg.Headers),
		sameHost: cfg.SameHost,
		links:    links,
		linkSel:  linkSel,
		fields:   rules,
		required: append([]string(nil), cfg.Required...),
	}, nil
}

// Matches accepts http(s) URLs whose host equals, or is a subdomain of, one
// of the configured hosts. No hosts means every http(s) URL.
func (s *HTMLStrategy) Matches(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return false
	}
	if len(s.hosts) == 0 {
		return true
	}
	host := strings.ToLower(u.Hostname())
	for _, h := range s.hosts {
		if host == h || strings.HasSuffix(host, "."+h) {
			return true
		}
	}
	return false
}

// Headers merges configured headers over the default User-Agent.
func (s *HTMLStrategy) Headers(rawURL string) map[string]string {
	out := s.Base.Headers(rawURL)
	maps.Copy(out, s.headers)
	return out
}

// ExtractURLs returns the absolute, normalized links found on the page.
func (s *HTMLStrategy) ExtractURLs(cc *crawler.CrawlContext) ([]string, error) {
	doc, page, err := s.document(cc)
	if err != nil {
		return nil, err
	}
	base := page.URL
	if base == "" {
		base = cc.URL()
	}
	if href, ok := doc.Find("base[href]").First().Attr("href"); ok {
		if resolved, err := crawler.ResolveURL(base, href); err == nil {
			base = resolved
		}
	}
	seen := make(map[string]struct{})
	var out []string
	doc.FindMatcher(s.links).Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok || strings.TrimSpace(href) == "" {
			return
		}
		abs, err := crawler.ResolveURL(base, href)
		if err != nil {
			return
		}
		if s.sameHost && !crawler.SameHost(abs, base) {
			return
		}
		if _, dup := seen[abs]; dup {
			return
		}
		seen[abs] = struct{}{}
		out = append(out, abs)
	})
	return out, nil
}

// ExtractData reads the configured fields. It returns nil when nothing
// matched and a selector error when a required field is missing.
func (s *HTMLStrategy) ExtractData(cc *crawler.CrawlContext) (*crawler.Item, error) {
	doc, _, err := s.document(cc)
	if err != nil {
		return nil, err
	}
	values := make(map[string]any, len(s.fields))
	for name, rule := range s.fields {
		sel := doc.FindMatcher(rule.matcher).First()
		if sel.Length() == 0 {
			continue
		}
		var v string
		if rule.attr != "" {
			v, _ = sel.Attr(rule.attr)
		} else {
			v = sel.Text()
		}
		if v = strings.TrimSpace(v); v != "" {
			values[name] = v
		}
	}
	for _, name := range s.required {
		if _, ok := values[name]; !ok {
			return nil, crawler.NewSelectorError(cc.URL(), s.fields[name].selector, errNoMatch)
		}
	}
	if len(values) == 0 {
		return nil, nil
	}
	return &crawler.Item{
		URL:         cc.URL(),
		Strategy:    s.Name(),
		Fields:      values,
		ExtractedAt: time.Now().UTC(),
	}, nil
}

func (s *HTMLStrategy) document(cc *crawler.CrawlContext) (*goquery.Document, crawler.RawPage, error) {
	page, ok := cc.Page()
	if !ok {
		return nil, page, crawler.NewContentFormatError(cc.URL(), "no page fetched")
	}
	if cached, ok := cc.Get(documentKey); ok {
		if doc, ok := cached.(*goquery.Document); ok {
			return doc, page, nil
		}
	}
	if !isHTML(page.ContentType) {
		return nil, page, crawler.NewContentFormatError(cc.URL(), "unsupported content type "+page.ContentType)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page.Content))
	if err != nil {
		return nil, page, crawler.NewContentFormatError(cc.URL(), err.Error())
	}
	cc.Set(documentKey, doc)
	return doc, page, nil
}

func isHTML(contentType string) bool {
	if contentType == "" {
		return true
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == "text/html" || mediaType == "application/xhtml+xml"
}
