// Package config loads fleetwatch configuration.
//
// Values are layered: Baseline() defaults, then an optional YAML/JSON/TOML
// file, then FLEETWATCH_* environment variables. Nested keys map to
// environment names by upper-casing and replacing "." and "-" with "_", so
// stream.heartbeat-interval becomes FLEETWATCH_STREAM_HEARTBEAT_INTERVAL.
// Command-line flags bound by the CLI sit above all three layers. The
// merged result is checked by Validate before it is returned.
package config
