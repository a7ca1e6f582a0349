// Package api hosts the HTTP server, middleware, and REST handlers for
// discovery and batch analysis. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/discover for synchronous content discovery.
//   - POST /v1/analyze to start a background batch (discover + analyze).
//   - GET /v1/batches, GET /v1/batches/{id} and POST /v1/batches/{id}/cancel
//     for batch status, progress snapshots and cancellation. Batches evicted
//     from memory are served from the history store when one is configured.
//   - GET /v1/history for persisted batch summaries.
package api
