// Package api serves the fleetwatch HTTP surface: telemetry submission, the
// SSE and WebSocket streams, the driver roster, the recent-event buffer,
// health and Prometheus metrics.
//
// Routes:
//
//	PUT  /api/v1/drivers/telemetry   (alias PUT /api/drivers/driver)
//	GET  /api/v1/drivers/sse         (alias GET /api/drivers/sse)
//	GET  /api/v1/drivers/ws
//	GET  /api/v1/drivers[?id=]
//	GET  /api/v1/drivers/{id}
//	GET  /api/v1/events/recent[?limit=]
//	GET  /api/v1/health
//	GET  /metrics
package api
