// Package gateway serves these routes:
//   - GET /healthz and /readyz for platform probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /api/analyze and POST /api/convert-thread create backend jobs.
//   - GET /api/analyze?jobId= and GET /api/convert-thread?jobId= report job
//     status.
//
// Every response body is either {"success": true, ...} with a 2xx status or
// {"error": "..."} with a non-2xx status.
package gateway
