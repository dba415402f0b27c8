package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"

	"go.uber.org/zap"

	"github.com/JakeFAU/politecrawler/internal/progress"
	"github.com/JakeFAU/politecrawler/internal/progress/listeners"
)

// ExampleProgressHandler_ListSites shows how to serve the /v1/sites endpoint.
func ExampleProgressHandler_ListSites() {
	sites := listeners.NewSites()
	for _, u := range []string{"https://example.com/", "https://example.com/about", "https://golang.org/"} {
		evt := progress.NewEvent(progress.PageFetchSuccess).WithURL(u).With(progress.KeyStatusCode, 200)
		if err := sites.OnEvent(context.Background(), evt); err != nil {
			panic(err)
		}
	}
	handler := NewProgressHandler(sites, nil, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/v1/sites?limit=1", nil)
	rec := httptest.NewRecorder()
	handler.ListSites(rec, req)

	var payload struct {
		Sites []listeners.SiteStats `json:"sites"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		panic(err)
	}
	fmt.Printf("top site: %s (%d visits)\n", payload.Sites[0].Site, payload.Sites[0].Visits)
	// Output:
	// top site: example.com (2 visits)
}
