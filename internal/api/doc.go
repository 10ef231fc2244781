// Package api hosts the ops HTTP listener that runs next to a crawl:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/sessions and /v1/sessions/{session_id} for crawl progress.
package api
