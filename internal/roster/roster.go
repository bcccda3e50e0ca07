// Package roster provides the vehicle roster that seeds a viewer's fleet
// snapshot and backs the /drivers endpoints.
package roster

import (
	"context"
	"errors"

	"github.com/roadbuddy/fleetwatch/internal/telemetry"
)

// ErrNotFound is returned when no driver is assigned to a vehicle id.
var ErrNotFound = errors.New("driver not found")

// Driver is one roster entry.
type Driver struct {
	Name      string                `json:"name" yaml:"name"`
	VehicleID string                `json:"vehicle_id" yaml:"vehicle_id"`
	State     telemetry.DriverState `json:"state" yaml:"state"`
}

// Source lists drivers.
type Source interface {
	Drivers(ctx context.Context) ([]Driver, error)
	Driver(ctx context.Context, vehicleID string) (Driver, error)
}

var (
	_ Source = StaticSource(nil)
	_ Source = (*FileSource)(nil)
	_ Source = (*PostgresSource)(nil)
	_ Source = (*HTTPSource)(nil)
	_ Source = (*CachedSource)(nil)
)

// StaticSource is a fixed in-memory roster.
type StaticSource []Driver

// Drivers returns a copy of the roster.
func (s StaticSource) Drivers(ctx context.Context) ([]Driver, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]Driver, len(s))
	copy(out, s)
	return out, nil
}

// Driver finds vehicleID.
func (s StaticSource) Driver(ctx context.Context, vehicleID string) (Driver, error) {
	if err := ctx.Err(); err != nil {
		return Driver{}, err
	}
	return find(s, vehicleID)
}

func find(drivers []Driver, vehicleID string) (Driver, error) {
	for _, d := range drivers {
		if d.VehicleID == vehicleID {
			return d, nil
		}
	}
	return Driver{}, ErrNotFound
}

// normalize canonicalizes the state; a blank state means Normal.
func normalize(d Driver) (Driver, error) {
	if d.State == "" {
		d.State = telemetry.StateNormal
		return d, nil
	}
	state, err := telemetry.ParseDriverState(string(d.State))
	if err != nil {
		return Driver{}, err
	}
	d.State = state
	return d, nil
}
