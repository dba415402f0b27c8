// Package detector decides when a plain HTTP fetch should be re-rendered in a
// headless browser.
package detector

import (
	"net/http"
	"strings"

	"github.com/JakeFAU/politecrawler/internal/crawler"
)

// DefaultThreshold is the body size under which script-heavy pages are
// promoted.
const DefaultThreshold = 2048

// Heuristic implements rule-based promotion.
type Heuristic struct {
	BodyLengthThreshold int
	Markers             []string
}

// DefaultMarkers are attributes left behind by client-rendered frameworks.
var DefaultMarkers = []string{
	"__next",
	`id="root"`,
	`id="app"`,
	"data-reactroot",
	"ng-version",
}

// NewHeuristic creates a detector. Zero threshold selects DefaultThreshold
// and nil markers select DefaultMarkers.
func NewHeuristic(threshold int, markers []string) *Heuristic {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if markers == nil {
		markers = DefaultMarkers
	}
	return &Heuristic{BodyLengthThreshold: threshold, Markers: markers}
}

// ShouldPromote reports whether page looks like a client-rendered shell.
func (h *Heuristic) ShouldPromote(page crawler.RawPage) bool {
	if page.StatusCode != http.StatusOK {
		return false
	}
	body := page.Content
	if strings.TrimSpace(body) == "" {
		return true
	}
	if len(body) < h.BodyLengthThreshold && scriptDensityHigh(body) {
		return true
	}
	for _, marker := range h.Markers {
		if strings.Contains(body, marker) {
			return true
		}
	}
	return false
}

func scriptDensityHigh(body string) bool {
	lower := strings.ToLower(body)
	total := len(lower)
	if total == 0 {
		return false
	}

	const (
		openTag  = "<script"
		closeTag = "</script>"
	)
	coverage := 0
	pos := 0
	for {
		rel := strings.Index(lower[pos:], openTag)
		if rel == -1 {
			break
		}
		start := pos + rel

		tagClose := strings.IndexByte(lower[start:], '>')
		if tagClose == -1 {
			// unterminated tag; count the remainder
			coverage += total - start
			break
		}
		contentStart := start + tagClose + 1

		next := total
		if end := strings.Index(lower[contentStart:], closeTag); end != -1 {
			next = contentStart + end + len(closeTag)
		}
		coverage += next - start
		pos = next
	}
	return coverage*100/total >= 25
}
