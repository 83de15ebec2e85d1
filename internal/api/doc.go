// Package api provides the DataCure job service REST client.
//
// Endpoints, relative to the service base URL and the /api/v1 base path
// (see WithBasePath):
//   - GET  /api/v1/jobs, POST /api/v1/jobs
//   - GET  /api/v1/jobs/{id}, /records, /records/{recordId}, /metrics
//   - POST /api/v1/jobs/{id}/export
//   - GET  /api/v1/metrics/dashboard
//
// Live updates use the WebSocket channel at /api/v1/ws/jobs/{id}; see package
// connection.
package api
