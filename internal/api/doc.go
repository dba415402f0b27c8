// Package api hosts the admin HTTP server, middleware, and REST handlers for
// operator access. Notable routes:
//   - GET /healthz and /readyz for Kubernetes probes; readyz reports 503 while
//     the engine is stopped.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/stats, /v1/queue and /v1/config for engine introspection.
//   - POST /v1/urls to enqueue URLs into the running crawl.
//   - GET /v1/events and /v1/sites for progress reporting from the in-process
//     listeners.
package api
