package telemetry

import (
	"fmt"
	"strings"
	"time"
)

// EventTypeDriverTelemetry is the "type" discriminator of telemetry data frames.
const EventTypeDriverTelemetry = "DRIVER_TELEMETRY"

// DriverState is the drowsiness classification reported for a driver.
type DriverState string

const (
	StateNormal DriverState = "Normal"
	StateDrowsy DriverState = "Drowsy"
	StateAsleep DriverState = "Asleep"
)

// States lists every known driver state.
var States = []DriverState{StateNormal, StateDrowsy, StateAsleep}

// ParseDriverState normalizes s (case-insensitive, surrounding whitespace
// ignored) to a known state.
func ParseDriverState(s string) (DriverState, error) {
	trimmed := strings.TrimSpace(s)
	for _, state := range States {
		if strings.EqualFold(trimmed, string(state)) {
			return state, nil
		}
	}
	return "", fmt.Errorf("unknown driver state %q", s)
}

// IsBaseline reports whether s is the baseline state that never raises a notification.
func (s DriverState) IsBaseline() bool {
	return s == StateNormal
}

// Location is a WGS84 position in degrees.
type Location struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Event is one vehicle's point-in-time driver state and location.
// Events are immutable once built by the ingress.
type Event struct {
	VehicleID string
	State     DriverState
	Location  Location
	Timestamp time.Time
}

// String implements fmt.Stringer for log output.
func (e Event) String() string {
	return fmt.Sprintf("%s state=%s lat=%.6f lon=%.6f ts=%d",
		e.VehicleID, e.State, e.Location.Lat, e.Location.Lon, e.Timestamp.UnixMilli())
}
