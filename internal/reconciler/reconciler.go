// Package reconciler keeps a viewer's local copy of fleet state in step with
// the telemetry stream.
//
// A Reconciler loads the vehicle roster, subscribes to the stream and applies
// every telemetry frame to its snapshot, deriving a bounded notification log
// from state transitions. When the stream fails or the server closes it, the
// reconciler reloads the roster and resubscribes with exponential backoff,
// keeping the stale snapshot readable in the meantime.
//
// Lifecycle:
//
//	uninitialized -> loading -> live <-> reconnecting
//	                    |                     |
//	                    +------> failed <-----+
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/looplab/fsm"
	"go.uber.org/zap"

	"github.com/roadbuddy/fleetwatch/internal/config"
	"github.com/roadbuddy/fleetwatch/internal/metrics"
	"github.com/roadbuddy/fleetwatch/internal/roster"
	"github.com/roadbuddy/fleetwatch/internal/stream"
	"github.com/roadbuddy/fleetwatch/internal/telemetry"
)

// Reconciler states.
const (
	StateUninitialized = "uninitialized"
	StateLoading       = "loading"
	StateLive          = "live"
	StateReconnecting  = "reconnecting"
	StateFailed        = "failed"
)

const (
	eventStart        = "start"
	eventLoaded       = "loaded"
	eventLost         = "lost"
	eventResubscribed = "resubscribed"
	eventGiveUp       = "give_up"
)

const defaultNotificationCap = 100

var errServerClosing = errors.New("server closing")

// Hooks observe a running reconciler. They are called from the Run goroutine
// and must not block.
type Hooks struct {
	StateChanged func(from, to string)
	Notified     func(Notification)
}

// Reconciler maintains the fleet snapshot for one viewer.
type Reconciler struct {
	stream stream.Source
	roster roster.Source
	cfg    config.ReconcilerConfig
	logger *zap.Logger
	fsm    *fsm.FSM
	now    func() time.Time

	mu         sync.RWMutex
	snap       *snapshot
	connected  bool
	lastUpdate time.Time
	lastErr    error
	hooks      Hooks
}

// New returns a reconciler reading telemetry from src and the roster from
// rosterSrc. Call Run to start it.
func New(src stream.Source, rosterSrc roster.Source, cfg config.ReconcilerConfig, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	capacity := cfg.NotificationCap
	if capacity <= 0 {
		capacity = defaultNotificationCap
	}

	r := &Reconciler{
		stream: src,
		roster: rosterSrc,
		cfg:    cfg,
		logger: logger.Named("reconciler"),
		now:    time.Now,
		snap:   newSnapshot(capacity, telemetry.Location{Lat: cfg.DefaultLat, Lon: cfg.DefaultLon}),
	}

	r.fsm = fsm.NewFSM(
		StateUninitialized,
		fsm.Events{
			{Name: eventStart, Src: []string{StateUninitialized}, Dst: StateLoading},
			{Name: eventLoaded, Src: []string{StateLoading}, Dst: StateLive},
			{Name: eventLost, Src: []string{StateLive}, Dst: StateReconnecting},
			{Name: eventResubscribed, Src: []string{StateReconnecting}, Dst: StateLive},
			{Name: eventGiveUp, Src: []string{StateLoading, StateReconnecting}, Dst: StateFailed},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				metrics.ReconcilerState.WithLabelValues(e.Src).Set(0)
				metrics.ReconcilerState.WithLabelValues(e.Dst).Set(1)
			},
		},
	)

	return r
}

// SetHooks installs observers. Call it before Run.
func (r *Reconciler) SetHooks(h Hooks) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks = h
}

// Run drives the lifecycle until ctx is cancelled, returning nil, or until the
// reconnect budget is exhausted, returning an error wrapping ErrFailed.
func (r *Reconciler) Run(ctx context.Context) error {
	if r.fsm.Current() != StateUninitialized {
		return fmt.Errorf("reconciler already started (state %s)", r.fsm.Current())
	}
	r.transition(eventStart)

	// Loading retries until the roster and stream are both available.
	conn, err := r.retry(ctx, 0, false)
	if err != nil {
		return nil
	}
	r.setConnected(true)
	r.transition(eventLoaded)

	for {
		err := r.consume(ctx, conn)
		_ = conn.Close()
		r.setConnected(false)
		if ctx.Err() != nil {
			return nil
		}

		r.setLastErr(err)
		r.logger.Warn("stream lost, reconnecting", zap.Error(err))
		r.transition(eventLost)

		conn, err = r.retry(ctx, r.cfg.MaxReconnectAttempts, true)
		if err != nil {
			if errors.Is(err, ErrFailed) {
				r.setLastErr(err)
				r.transition(eventGiveUp)
				r.logger.Error("giving up on stream", zap.Error(err))
				return err
			}
			return nil
		}
		r.setConnected(true)
		r.transition(eventResubscribed)
	}
}

// retry runs load-and-subscribe cycles with exponential backoff. limit bounds
// consecutive failures (0 = unlimited); wait delays the first attempt.
func (r *Reconciler) retry(ctx context.Context, limit int, wait bool) (stream.Conn, error) {
	b := r.newBackOff()

	for attempt := 1; ; attempt++ {
		if wait {
			delay := b.NextBackOff()
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}
		wait = true

		conn, err := r.cycle(ctx)
		if err == nil {
			metrics.ReconcilerReconnectsTotal.WithLabelValues("ok").Inc()
			return conn, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		metrics.ReconcilerReconnectsTotal.WithLabelValues("failed").Inc()
		r.setLastErr(err)
		r.logger.Warn("connect cycle failed",
			zap.String("state", r.fsm.Current()),
			zap.Int("attempt", attempt),
			zap.Error(err))

		if limit > 0 && attempt >= limit {
			return nil, fmt.Errorf("%w after %d attempts: %w", ErrFailed, attempt, err)
		}
	}
}

func (r *Reconciler) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.cfg.RetryInitial
	if r.cfg.RetryBackoff >= 1 {
		b.Multiplier = r.cfg.RetryBackoff
	}
	if r.cfg.RetryMax > 0 {
		b.MaxInterval = r.cfg.RetryMax
	}
	b.RandomizationFactor = 0.2
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// cycle reloads the roster and opens a stream connection.
func (r *Reconciler) cycle(ctx context.Context) (stream.Conn, error) {
	drivers, err := r.roster.Drivers(ctx)
	if err != nil {
		return nil, &SnapshotLoadError{Err: err}
	}

	r.mu.Lock()
	added, removed := r.snap.load(drivers)
	total := len(r.snap.vehicles)
	r.mu.Unlock()
	r.logger.Info("roster loaded",
		zap.Int("vehicles", total),
		zap.Int("added", added),
		zap.Int("removed", removed))

	conn, err := r.stream.Connect(ctx)
	if err != nil {
		return nil, streamError(err)
	}
	return conn, nil
}

// consume applies frames until the stream ends. It always returns an error
// wrapping ErrStream.
func (r *Reconciler) consume(ctx context.Context, conn stream.Conn) error {
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	for {
		frame, err := conn.Next()
		if err != nil {
			if errors.Is(err, telemetry.ErrMalformedFrame) {
				r.logger.Warn("skipping malformed frame", zap.Error(err))
				continue
			}
			if errors.Is(err, io.EOF) {
				return streamError(io.EOF)
			}
			return streamError(err)
		}

		switch {
		case frame.IsClosing():
			return streamError(errServerClosing)
		case frame.IsTelemetry():
			r.handle(frame.Event)
		}
	}
}

func (r *Reconciler) handle(e telemetry.Event) {
	state, err := telemetry.ParseDriverState(string(e.State))
	if err != nil {
		metrics.ReconcilerEventsTotal.WithLabelValues("dropped").Inc()
		r.logger.Warn("dropping event with unknown state",
			zap.String("vehicle_id", e.VehicleID),
			zap.String("state", string(e.State)))
		return
	}
	e.State = state

	r.mu.Lock()
	n, applied, notified := r.snap.apply(e)
	if applied {
		r.lastUpdate = r.now()
	}
	hook := r.hooks.Notified
	r.mu.Unlock()

	if !applied {
		metrics.ReconcilerEventsTotal.WithLabelValues("dropped").Inc()
		r.logger.Info("ignoring telemetry for unknown vehicle", zap.String("vehicle_id", e.VehicleID))
		return
	}
	metrics.ReconcilerEventsTotal.WithLabelValues("applied").Inc()

	if notified {
		metrics.ReconcilerNotificationsTotal.WithLabelValues(string(n.State)).Inc()
		if hook != nil {
			hook(n)
		}
	}
}

func (r *Reconciler) transition(event string) {
	from := r.fsm.Current()
	if err := r.fsm.Event(context.Background(), event); err != nil {
		r.logger.Error("invalid transition", zap.String("event", event), zap.Error(err))
		return
	}
	to := r.fsm.Current()
	r.logger.Info("state changed", zap.String("from", from), zap.String("to", to))

	r.mu.RLock()
	hook := r.hooks.StateChanged
	r.mu.RUnlock()
	if hook != nil {
		hook(from, to)
	}
}

func (r *Reconciler) setConnected(connected bool) {
	r.mu.Lock()
	r.connected = connected
	r.mu.Unlock()

	if connected {
		metrics.ReconcilerConnected.Set(1)
	} else {
		metrics.ReconcilerConnected.Set(0)
	}
}

func (r *Reconciler) setLastErr(err error) {
	r.mu.Lock()
	r.lastErr = err
	r.mu.Unlock()
}

// State returns the current lifecycle state.
func (r *Reconciler) State() string {
	return r.fsm.Current()
}

// Connected reports whether a stream is currently open.
func (r *Reconciler) Connected() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.connected
}

// LastUpdate returns when the last event was applied.
func (r *Reconciler) LastUpdate() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastUpdate
}

// LastError returns the most recent load or stream failure.
func (r *Reconciler) LastError() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastErr
}

// Vehicles returns a copy of the snapshot ordered by vehicle id.
func (r *Reconciler) Vehicles() []Vehicle {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Vehicle, 0, len(r.snap.vehicles))
	for _, v := range r.snap.vehicles {
		out = append(out, *v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VehicleID < out[j].VehicleID })
	return out
}

// Vehicle returns one snapshot entry.
func (r *Reconciler) Vehicle(id string) (Vehicle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	v, ok := r.snap.vehicles[id]
	if !ok {
		return Vehicle{}, false
	}
	return *v, true
}

// Notifications returns a copy of the log, newest first.
func (r *Reconciler) Notifications() []Notification {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Notification, len(r.snap.notifications))
	copy(out, r.snap.notifications)
	return out
}

// Unacknowledged counts notifications not yet acknowledged.
func (r *Reconciler) Unacknowledged() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snap.unacknowledged()
}

// Acknowledge marks a notification as seen. It is local to this viewer.
func (r *Reconciler) Acknowledge(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snap.acknowledge(id)
}
