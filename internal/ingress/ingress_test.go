package ingress

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/roadbuddy/fleetwatch/internal/bus"
	"github.com/roadbuddy/fleetwatch/internal/config"
	"github.com/roadbuddy/fleetwatch/internal/telemetry"
)

type recordingBus struct {
	mu     sync.Mutex
	events []telemetry.Event
}

func (b *recordingBus) Broadcast(e telemetry.Event) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, e)
	return 1
}

func (b *recordingBus) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events)
}

func str(s string) *string   { return &s }
func num(f float64) *float64 { return &f }

func fixedClock(ms int64) *telemetry.Clock {
	return telemetry.NewClockWithSource(func() time.Time { return time.UnixMilli(ms) })
}

func TestIngestAsleepReachesSubscriber(t *testing.T) {
	b := bus.New(config.BusConfig{QueueSize: 4}, zap.NewNop())
	sub := b.Subscribe()
	in := New(b, fixedClock(1_700_000_000_123), zap.NewNop())

	event, err := in.Ingest(context.Background(), Update{
		DriverID: str("V1"),
		State:    str("Asleep"),
		Lat:      num(10),
		Lon:      num(20),
	})
	require.NoError(t, err)

	select {
	case got := <-sub.Events():
		assert.Equal(t, event, got)
		assert.Equal(t, "V1", got.VehicleID)
		assert.Equal(t, telemetry.StateAsleep, got.State)
		assert.Equal(t, telemetry.Location{Lat: 10, Lon: 20}, got.Location)
		assert.Equal(t, int64(1_700_000_000_123), got.Timestamp.UnixMilli())
	case <-time.After(time.Second):
		t.Fatal("subscriber did not receive the event")
	}
}

func TestIngestMissingLatIsRejected(t *testing.T) {
	rb := &recordingBus{}
	in := New(rb, nil, zap.NewNop())

	_, err := in.Ingest(context.Background(), Update{
		DriverID: str("V1"),
		State:    str("Normal"),
		Lon:      num(1),
	})

	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, MissingField, ve.Kind)
	assert.Equal(t, "lat", ve.Field)
	assert.True(t, IsValidation(err))
	assert.Equal(t, 0, rb.count(), "rejected updates are never broadcast")
}

func TestValidateRules(t *testing.T) {
	tests := []struct {
		name  string
		u     Update
		kind  ErrorKind
		field string
	}{
		{"missing everything", Update{}, MissingField, "driver_id"},
		{"blank driver", Update{DriverID: str("  "), State: str("Normal"), Lat: num(0), Lon: num(0)}, MissingField, "driver_id"},
		{"missing state", Update{DriverID: str("V1"), Lat: num(0), Lon: num(0)}, MissingField, "state"},
		{"empty state", Update{DriverID: str("V1"), State: str(""), Lat: num(0), Lon: num(0)}, MissingField, "state"},
		{"missing lon", Update{DriverID: str("V1"), State: str("Normal"), Lat: num(0)}, MissingField, "lon"},
		{"missing field wins over invalid state", Update{DriverID: str("V1"), State: str("Dozing"), Lon: num(0)}, MissingField, "lat"},
		{"unknown state", Update{DriverID: str("V1"), State: str("Dozing"), Lat: num(0), Lon: num(0)}, InvalidField, "state"},
		{"lat out of range", Update{DriverID: str("V1"), State: str("Normal"), Lat: num(91), Lon: num(0)}, InvalidField, "lat"},
		{"lon out of range", Update{DriverID: str("V1"), State: str("Normal"), Lat: num(0), Lon: num(-180.5)}, InvalidField, "lon"},
		{"lat NaN", Update{DriverID: str("V1"), State: str("Normal"), Lat: num(math.NaN()), Lon: num(0)}, InvalidField, "lat"},
		{"lon infinite", Update{DriverID: str("V1"), State: str("Normal"), Lat: num(0), Lon: num(math.Inf(1))}, InvalidField, "lon"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Validate(tt.u)
			var ve *ValidationError
			require.True(t, errors.As(err, &ve), "got %v", err)
			assert.Equal(t, tt.kind, ve.Kind)
			assert.Equal(t, tt.field, ve.Field)
		})
	}
}

func TestValidateNormalizes(t *testing.T) {
	event, err := Validate(Update{
		DriverID: str(" V7 "),
		State:    str("dRoWsY"),
		Lat:      num(0),
		Lon:      num(0),
	})
	require.NoError(t, err)

	assert.Equal(t, "V7", event.VehicleID)
	assert.Equal(t, telemetry.StateDrowsy, event.State)
	assert.Equal(t, telemetry.Location{}, event.Location, "zero coordinates are valid")
}

func TestIngestCancelledContext(t *testing.T) {
	rb := &recordingBus{}
	in := New(rb, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := in.Ingest(ctx, Update{DriverID: str("V1"), State: str("Normal"), Lat: num(1), Lon: num(1)})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, IsValidation(err))
	assert.Equal(t, 0, rb.count())
}

func TestIngestTimestampsNeverDecrease(t *testing.T) {
	times := []int64{5_000, 4_000, 6_000}
	i := 0
	clock := telemetry.NewClockWithSource(func() time.Time {
		ts := time.UnixMilli(times[i])
		i++
		return ts
	})
	rb := &recordingBus{}
	in := New(rb, clock, nil)

	for range times {
		_, err := in.Ingest(context.Background(), Update{DriverID: str("V1"), State: str("Normal"), Lat: num(1), Lon: num(1)})
		require.NoError(t, err)
	}

	require.Len(t, rb.events, 3)
	assert.Equal(t, int64(5_000), rb.events[0].Timestamp.UnixMilli())
	assert.Equal(t, int64(5_000), rb.events[1].Timestamp.UnixMilli())
	assert.Equal(t, int64(6_000), rb.events[2].Timestamp.UnixMilli())
}

func TestDecodeUpdate(t *testing.T) {
	u, err := DecodeUpdate(strings.NewReader(`{"driver_id":"V1","state":"Normal","lat":0,"lon":12.5}`))
	require.NoError(t, err)
	require.NotNil(t, u.Lat)
	assert.Equal(t, 0.0, *u.Lat)
	assert.Equal(t, 12.5, *u.Lon)

	u, err = DecodeUpdate(strings.NewReader(`{"driver_id":"V1","state":"Normal","lat":null,"lon":1}`))
	require.NoError(t, err)
	assert.Nil(t, u.Lat)

	_, err = DecodeUpdate(strings.NewReader(`not json`))
	assert.ErrorIs(t, err, ErrMalformedBody)
	assert.True(t, IsValidation(err))
}
