package simulator

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/roadbuddy/fleetwatch/internal/config"
	"github.com/roadbuddy/fleetwatch/internal/ingress"
	"github.com/roadbuddy/fleetwatch/internal/roster"
	"github.com/roadbuddy/fleetwatch/internal/telemetry"
)

// Largest per-tick move in degrees, about 100m.
const maxDrift = 0.001

// Per-tick transition probabilities.
var transitions = map[telemetry.DriverState][]struct {
	to telemetry.DriverState
	p  float64
}{
	telemetry.StateNormal: {{telemetry.StateDrowsy, 0.05}},
	telemetry.StateDrowsy: {{telemetry.StateAsleep, 0.15}, {telemetry.StateNormal, 0.30}},
	telemetry.StateAsleep: {{telemetry.StateNormal, 0.50}},
}

// Vehicle is one simulated vehicle.
type Vehicle struct {
	ID       string
	State    telemetry.DriverState
	Location telemetry.Location
}

// Simulator drives a fleet of synthetic vehicles.
type Simulator struct {
	vehicles []*Vehicle
	pub      Publisher
	interval time.Duration
	rng      *rand.Rand
	logger   *zap.Logger

	sent   atomic.Int64
	failed atomic.Int64
}

// New builds a simulator for drivers. When drivers is empty it invents
// cfg.Vehicles vehicles named SIM-001, SIM-002 and so on.
func New(drivers []roster.Driver, pub Publisher, cfg config.SimulatorConfig, logger *zap.Logger) *Simulator {
	if logger == nil {
		logger = zap.NewNop()
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	s := &Simulator{
		pub:      pub,
		interval: cfg.Interval,
		rng:      rand.New(rand.NewPCG(seed, seed>>1)),
		logger:   logger.Named("simulator"),
	}

	if len(drivers) == 0 {
		for i := 1; i <= cfg.Vehicles; i++ {
			drivers = append(drivers, roster.Driver{VehicleID: fmt.Sprintf("SIM-%03d", i), State: telemetry.StateNormal})
		}
	}
	for _, d := range drivers {
		state := d.State
		if state == "" {
			state = telemetry.StateNormal
		}
		s.vehicles = append(s.vehicles, &Vehicle{
			ID:    d.VehicleID,
			State: state,
			Location: telemetry.Location{
				Lat: clamp(cfg.CenterLat+s.offset(0.05), -90, 90),
				Lon: clamp(cfg.CenterLon+s.offset(0.05), -180, 180),
			},
		})
	}
	return s
}

// Vehicles returns a copy of the fleet's current state.
func (s *Simulator) Vehicles() []Vehicle {
	out := make([]Vehicle, len(s.vehicles))
	for i, v := range s.vehicles {
		out[i] = *v
	}
	return out
}

// Stats returns how many updates were published and how many failed.
func (s *Simulator) Stats() (sent, failed int64) {
	return s.sent.Load(), s.failed.Load()
}

// Run steps the fleet every interval until ctx is done.
func (s *Simulator) Run(ctx context.Context) error {
	s.logger.Info("simulating fleet", zap.Int("vehicles", len(s.vehicles)), zap.Duration("interval", s.interval))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		s.Step(ctx)
		select {
		case <-ctx.Done():
			sent, failed := s.Stats()
			s.logger.Info("simulation stopped", zap.Int64("sent", sent), zap.Int64("failed", failed))
			return nil
		case <-ticker.C:
		}
	}
}

// Step advances every vehicle once and publishes its update. Publish
// failures are counted and logged, never fatal.
func (s *Simulator) Step(ctx context.Context) {
	for _, v := range s.vehicles {
		if ctx.Err() != nil {
			return
		}
		s.advance(v)

		if err := s.pub.Publish(ctx, update(v)); err != nil {
			s.failed.Add(1)
			s.logger.Warn("publish failed", zap.String("vehicle_id", v.ID), zap.Error(err))
			continue
		}
		s.sent.Add(1)
	}
}

func (s *Simulator) advance(v *Vehicle) {
	v.Location.Lat = clamp(v.Location.Lat+s.offset(maxDrift), -90, 90)
	v.Location.Lon = clamp(v.Location.Lon+s.offset(maxDrift), -180, 180)

	roll := s.rng.Float64()
	for _, t := range transitions[v.State] {
		if roll < t.p {
			v.State = t.to
			return
		}
		roll -= t.p
	}
}

// offset returns a uniform value in [-limit, limit).
func (s *Simulator) offset(limit float64) float64 {
	return (s.rng.Float64()*2 - 1) * limit
}

func update(v *Vehicle) ingress.Update {
	id, state := v.ID, string(v.State)
	lat, lon := v.Location.Lat, v.Location.Lon
	return ingress.Update{DriverID: &id, State: &state, Lat: &lat, Lon: &lon}
}

func clamp(x, lo, hi float64) float64 {
	return min(max(x, lo), hi)
}
