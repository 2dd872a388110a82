// Package api hosts the HTTP surface of the long-running serve mode:
//   - POST /invoke runs one scrape-and-verify invocation and returns its report.
//   - GET /healthz reports process liveness.
//   - GET /readyz runs the database liveness check.
//   - GET /metrics exposes the Prometheus registry.
package api
