package ingress

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/roadbuddy/fleetwatch/internal/metrics"
	"github.com/roadbuddy/fleetwatch/internal/telemetry"
)

// Submission sources, used as metric labels.
const (
	SourceHTTP = "http"
	SourceMQTT = "mqtt"
)

// Update is one inbound telemetry submission. Pointer fields distinguish an
// absent value from a zero one.
type Update struct {
	DriverID *string  `json:"driver_id"`
	State    *string  `json:"state"`
	Lat      *float64 `json:"lat"`
	Lon      *float64 `json:"lon"`
}

// DecodeUpdate parses a JSON submission.
func DecodeUpdate(r io.Reader) (Update, error) {
	var u Update
	if err := json.NewDecoder(r).Decode(&u); err != nil {
		return Update{}, fmt.Errorf("%w: %w", ErrMalformedBody, err)
	}
	return u, nil
}

// Broadcaster receives accepted events.
type Broadcaster interface {
	Broadcast(event telemetry.Event) int
}

// Ingress turns submissions into broadcast events.
type Ingress struct {
	bus    Broadcaster
	clock  *telemetry.Clock
	logger *zap.Logger
}

// New returns an Ingress broadcasting to b. A nil clock uses wall time.
func New(b Broadcaster, clock *telemetry.Clock, logger *zap.Logger) *Ingress {
	if clock == nil {
		clock = telemetry.NewClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ingress{bus: b, clock: clock, logger: logger.Named("ingress")}
}

// Ingest validates u, stamps it and broadcasts the resulting event.
func (in *Ingress) Ingest(ctx context.Context, u Update) (telemetry.Event, error) {
	return in.ingest(ctx, SourceHTTP, u)
}

func (in *Ingress) ingest(ctx context.Context, source string, u Update) (telemetry.Event, error) {
	start := time.Now()
	defer func() {
		metrics.IngressLatency.WithLabelValues(source).Observe(time.Since(start).Seconds())
	}()

	if err := ctx.Err(); err != nil {
		metrics.IngressRequestsTotal.WithLabelValues(source, "failed").Inc()
		return telemetry.Event{}, fmt.Errorf("ingest aborted: %w", err)
	}

	event, err := Validate(u)
	if err != nil {
		metrics.IngressRequestsTotal.WithLabelValues(source, "invalid").Inc()
		in.logger.Debug("rejected telemetry", zap.String("source", source), zap.Error(err))
		return telemetry.Event{}, err
	}

	event.Timestamp = in.clock.Now()
	delivered := in.bus.Broadcast(event)

	metrics.IngressRequestsTotal.WithLabelValues(source, "accepted").Inc()
	in.logger.Debug("telemetry broadcast",
		zap.String("source", source),
		zap.String("vehicle_id", event.VehicleID),
		zap.String("state", string(event.State)),
		zap.Int("delivered", delivered))

	return event, nil
}

// Validate applies the validation rules and returns the normalized event
// without a timestamp.
func Validate(u Update) (telemetry.Event, error) {
	if u.DriverID == nil || strings.TrimSpace(*u.DriverID) == "" {
		return telemetry.Event{}, missing("driver_id")
	}
	if u.State == nil || strings.TrimSpace(*u.State) == "" {
		return telemetry.Event{}, missing("state")
	}
	if u.Lat == nil {
		return telemetry.Event{}, missing("lat")
	}
	if u.Lon == nil {
		return telemetry.Event{}, missing("lon")
	}

	state, err := telemetry.ParseDriverState(*u.State)
	if err != nil {
		return telemetry.Event{}, invalid("state")
	}

	lat, lon := *u.Lat, *u.Lon
	if math.IsNaN(lat) || math.IsInf(lat, 0) || lat < -90 || lat > 90 {
		return telemetry.Event{}, invalid("lat")
	}
	if math.IsNaN(lon) || math.IsInf(lon, 0) || lon < -180 || lon > 180 {
		return telemetry.Event{}, invalid("lon")
	}

	return telemetry.Event{
		VehicleID: strings.TrimSpace(*u.DriverID),
		State:     state,
		Location:  telemetry.Location{Lat: lat, Lon: lon},
	}, nil
}
