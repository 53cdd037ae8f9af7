// Package api hosts the HTTP server, middleware, and REST handlers for
// operator access. Notable routes:
//   - GET /healthz and /readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/targets and /v1/targets/{id} for target status.
//   - PUT /v1/targets/{id}/config to change the URL or keyword.
//   - POST /v1/targets/{id}/start, /stop and /check for run control.
package api
