package detector

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/politecrawler/internal/crawler"
)

func TestHeuristicShouldPromote(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		page crawler.RawPage
		want bool
	}{
		{name: "empty body", page: crawler.RawPage{StatusCode: 200, Content: "  "}, want: true},
		{name: "spa marker", page: crawler.RawPage{StatusCode: 200, Content: `<div id="__next"></div>`}, want: true},
		{name: "script heavy", page: crawler.RawPage{StatusCode: 200, Content: `<html><script>var a=1;</script><p>t</p></html>`}, want: true},
		{name: "unterminated script", page: crawler.RawPage{StatusCode: 200, Content: `<p>x</p><script src="a.js"`}, want: true},
		{name: "non 200", page: crawler.RawPage{StatusCode: 404, Content: "not found"}, want: false},
		{name: "static page", page: crawler.RawPage{StatusCode: 200, Content: "<html><body><p>plenty of server rendered text here</p></body></html>"}, want: false},
	}
	h := NewHeuristic(1000, nil)
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, h.ShouldPromote(tc.page))
		})
	}
}

func TestNewHeuristicDefaults(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(0, nil)
	require.Equal(t, DefaultThreshold, h.BodyLengthThreshold)
	require.Equal(t, DefaultMarkers, h.Markers)

	custom := NewHeuristic(10, []string{"x-shell"})
	require.True(t, custom.ShouldPromote(crawler.RawPage{StatusCode: 200, Content: `<div x-shell>server rendered text</div>`}))
}
