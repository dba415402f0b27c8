// Package listeners implements concrete progress listeners: run statistics,
// structured logging, Prometheus metrics, per-host site counters, a recent
// event buffer, and forwarding to a message topic.
// Every listener is safe for concurrent OnEvent calls.
package listeners
