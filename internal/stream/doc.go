// Package stream serves telemetry to viewers and reads it back.
//
// Server side, a Session binds one bus subscriber to one Transport (SSE or
// WebSocket) and owns its lifecycle:
//
//	connecting -> open -> closing -> closed
//
// Entering open writes ":ok". While open, a jittered heartbeat writes
// ":heartbeat" and a lifetime timer writes ":closing" then closes the
// session so the viewer reconnects. Close is idempotent and may be raced by
// the timers, request cancellation and bus eviction.
//
// Viewer side, a Source dials a stream and yields decoded frames through a
// Conn. LocalSource runs a Session in-process; HTTPSource and WSSource dial a
// remote server.
package stream
