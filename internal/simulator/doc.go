// Package simulator generates synthetic driver telemetry for exercising a
// fleetwatch server without real vehicles.
//
// Each tick every simulated vehicle drifts a little and may change state
// (Normal, Drowsy, Asleep). The resulting update is published over the
// same PUT route the mobile writers use, or to the MQTT ingress topic.
package simulator
