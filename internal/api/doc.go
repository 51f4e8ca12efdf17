// Package api hosts the HTTP server, middleware, and REST handlers for operator
// access. Notable routes:
//   - GET /healthz and /readyz for Kubernetes health checks.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/runs to execute one crawl batch synchronously.
//   - GET /v1/runs and /v1/runs/{run_id} for recent batch reports.
package api
