package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/politecrawler/internal/progress"
	"github.com/JakeFAU/politecrawler/internal/progress/listeners"
)

const (
	defaultEventLimit = 50
	maxEventLimit     = 500
	defaultSitesLimit = 100
	maxSitesLimit     = 1000
)

// ProgressHandler exposes read-only crawl progress endpoints backed by the
// in-process site and recent-event listeners.
type ProgressHandler struct {
	sites  *listeners.Sites
	recent *listeners.Recent
	logger *zap.Logger
}

// NewProgressHandler wires the listeners and logger.
func NewProgressHandler(sites *listeners.Sites, recent *listeners.Recent, logger *zap.Logger) *ProgressHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProgressHandler{sites: sites, recent: recent, logger: logger}
}

// ListEvents handles GET /v1/events?type=&limit=. It returns {"events": [...]}
// newest first, 400 for an invalid filter, or 503 when no buffer is wired.
func (h *ProgressHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	if h.recent == nil {
		writeError(w, http.StatusServiceUnavailable, "event buffer unavailable")
		return
	}
	limit, _, err := parseLimitOffset(r, defaultEventLimit, maxEventLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var typ progress.Type
	if raw := strings.TrimSpace(r.URL.Query().Get("type")); raw != "" {
		typ = progress.Type(strings.ToUpper(raw))
		if !typ.Valid() {
			writeError(w, http.StatusBadRequest, "invalid type")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"events": toEventDTOs(h.recent.Events(typ, limit)),
	})
}

// ListSites handles GET /v1/sites?limit=&offset=. It returns {"sites": [...]}
// ordered by visits, 400 for invalid paging, or 503 when no listener is wired.
func (h *ProgressHandler) ListSites(w http.ResponseWriter, r *http.Request) {
	if h.sites == nil {
		writeError(w, http.StatusServiceUnavailable, "site stats unavailable")
		return
	}
	limit, offset, err := parseLimitOffset(r, defaultSitesLimit, maxSitesLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sites": h.sites.List(limit, offset),
	})
}

// GetSite handles GET /v1/sites/{site}. It returns {"site": {...}} or 404 when
// the host has not been fetched yet.
func (h *ProgressHandler) GetSite(w http.ResponseWriter, r *http.Request) {
	if h.sites == nil {
		writeError(w, http.StatusServiceUnavailable, "site stats unavailable")
		return
	}
	site := chi.URLParam(r, "site")
	if site == "" {
		writeError(w, http.StatusBadRequest, "site is required")
		return
	}
	stats, ok := h.sites.Get(site)
	if !ok {
		h.logger.Debug("site not found", zap.String("site", site))
		writeError(w, http.StatusNotFound, "site not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"site": stats})
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if limStr := q.Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		if val > maxLimit {
			val = maxLimit
		}
		limit = val
	}
	offset := 0
	if offStr := q.Get("offset"); offStr != "" {
		val, err := strconv.Atoi(offStr)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}

func toEventDTOs(in []progress.Event) []eventDTO {
	out := make([]eventDTO, 0, len(in))
	for _, evt := range in {
		dto := eventDTO{
			ID:   evt.ID.String(),
			Type: string(evt.Type),
			TS:   evt.TS,
			URL:  evt.URL,
			Data: evt.Data(),
		}
		if evt.Err != nil {
			dto.Error = evt.Err.Error()
		}
		for k, v := range dto.Data {
			if d, ok := v.(time.Duration); ok {
				dto.Data[k] = d.Milliseconds()
			}
		}
		out = append(out, dto)
	}
	return out
}

type eventDTO struct {
	ID    string         `json:"id"`
	Type  string         `json:"type"`
	TS    time.Time      `json:"ts"`
	URL   string         `json:"url,omitempty"`
	Error string         `json:"error,omitempty"`
	Data  map[string]any `json:"data,omitempty"`
}
