// Package api hosts the HTTP server, middleware, and REST handlers for operator
// access. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/analyze for one-off website assessments.
//   - POST /v1/cycles to trigger a crawl cycle, GET /v1/cycles/last for the
//     most recent summary.
//   - /v1/zones for zone registry listing, seeding and attempt history.
//   - GET /v1/leads/{key} for lead lookup by unique key.
package api
