// Package api hosts the ops HTTP server. Notable routes:
//   - GET /healthz and /readyz for liveness and readiness probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/runs to start a summarization run in the background.
//   - GET /v1/runs and /v1/runs/{run_id} to follow submitted runs.
package api
