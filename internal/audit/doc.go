// Package audit keeps an append-only JSON-lines trail of telemetry
// submissions: who sent what, and whether it was accepted.
//
// The trail is separate from the operational log. It is rotated with
// lumberjack and disabled when no file is configured.
package audit
