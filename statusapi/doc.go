// Package statusapi exposes an orchestrator over HTTP for operators:
// GET /status, GET /health (503 when unhealthy), GET /health/report,
// GET /version and POST /reset, all under a configurable base path.
package statusapi
