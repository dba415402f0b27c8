// Package api exposes the HTTP interface for the crawler service.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/politecrawler/internal/config"
	"github.com/JakeFAU/politecrawler/internal/metrics"
	"github.com/JakeFAU/politecrawler/internal/progress/listeners"
)

const (
	requestTimeout = 30 * time.Second
	maxSubmitBody  = 1 << 20
	maxSubmitURLs  = 1000
)

// Crawler is the engine surface the admin API drives.
type Crawler interface {
	AddURL(url string) bool
	QueueSize() int
	IsRunning() bool
	Workers() int
	Statistics() listeners.Report
}

// Deps bundles everything the server needs. Sites and Recent are optional;
// their routes answer 503 when absent.
type Deps struct {
	Crawler  Crawler
	Sites    *listeners.Sites
	Recent   *listeners.Recent
	Config   config.Config
	Gatherer prometheus.Gatherer
	Metrics  *metrics.HTTP
	Logger   *zap.Logger
}

// Server wires HTTP handlers to the crawl engine and its listeners.
type Server struct {
	router   chi.Router
	crawler  Crawler
	cfg      config.Config
	progress *ProgressHandler
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		crawler:  deps.Crawler,
		cfg:      deps.Config,
		progress: NewProgressHandler(deps.Sites, deps.Recent, logger),
		logger:   logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	if deps.Metrics != nil {
		r.Use(deps.Metrics.Middleware)
	}
	r.Use(timeoutMiddleware(requestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler(deps.Gatherer))

	r.Route("/v1", func(r chi.Router) {
		if deps.Config.Server.APIKey != "" {
			r.Use(apiKeyMiddleware(deps.Config.Server.APIKey))
		}
		r.Get("/stats", s.stats)
		r.Get("/queue", s.queue)
		r.Post("/urls", s.submitURLs)
		r.Get("/config", s.config)
		r.Get("/events", s.progress.ListEvents)
		r.Route("/sites", func(r chi.Router) {
			r.Get("/", s.progress.ListSites)
			r.Get("/{site}", s.progress.GetSite)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	if s.crawler == nil || !s.crawler.IsRunning() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "stopped"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) stats(w http.ResponseWriter, _ *http.Request) {
	if s.crawler == nil {
		writeError(w, http.StatusServiceUnavailable, "crawler unavailable")
		return
	}
	writeJSON(w, http.StatusOK, statsResponse{
		Running:    s.crawler.IsRunning(),
		Workers:    s.crawler.Workers(),
		QueueSize:  s.crawler.QueueSize(),
		Statistics: s.crawler.Statistics(),
	})
}

func (s *Server) queue(w http.ResponseWriter, _ *http.Request) {
	if s.crawler == nil {
		writeError(w, http.StatusServiceUnavailable, "crawler unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"size": s.crawler.QueueSize()})
}

func (s *Server) config(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.cfg)
}

// submitURLs handles POST /v1/urls. Each URL goes through AddURL, so scope,
// dedup and queue capacity decide acceptance; 409 means nothing was accepted
// because the engine is stopped.
func (s *Server) submitURLs(w http.ResponseWriter, r *http.Request) {
	if s.crawler == nil {
		writeError(w, http.StatusServiceUnavailable, "crawler unavailable")
		return
	}
	var req submitRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxSubmitBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if len(req.URLs) == 0 {
		writeError(w, http.StatusBadRequest, "urls required")
		return
	}
	if len(req.URLs) > maxSubmitURLs {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("at most %d urls per request", maxSubmitURLs))
		return
	}
	if !s.crawler.IsRunning() {
		writeError(w, http.StatusConflict, "crawler is not running")
		return
	}
	resp := submitResponse{Rejected: []string{}}
	for _, u := range req.URLs {
		if s.crawler.AddURL(u) {
			resp.Accepted++
			continue
		}
		resp.Rejected = append(resp.Rejected, u)
	}
	s.logger.Info("urls submitted",
		zap.Int("accepted", resp.Accepted),
		zap.Int("rejected", len(resp.Rejected)),
	)
	writeJSON(w, http.StatusAccepted, resp)
}

type submitRequest struct {
	URLs []string `json:"urls"`
}

type submitResponse struct {
	Accepted int      `json:"accepted"`
	Rejected []string `json:"rejected"`
}

type statsResponse struct {
	Running    bool             `json:"running"`
	Workers    int              `json:"workers"`
	QueueSize  int              `json:"queue_size"`
	Statistics listeners.Report `json:"statistics"`
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("request_id", requestID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered",
						zap.String("request_id", requestID(r.Context())),
						zap.Any("error", rec),
					)
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
