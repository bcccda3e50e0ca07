package stream

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/looplab/fsm"
	"go.uber.org/zap"

	"github.com/roadbuddy/fleetwatch/internal/bus"
	"github.com/roadbuddy/fleetwatch/internal/config"
	"github.com/roadbuddy/fleetwatch/internal/metrics"
	"github.com/roadbuddy/fleetwatch/internal/telemetry"
)

// Session states.
const (
	StateConnecting = "connecting"
	StateOpen       = "open"
	StateClosing    = "closing"
	StateClosed     = "closed"
)

const (
	eventAccept = "accept"
	eventDrain  = "drain"
	eventFinish = "finish"
)

// Close reasons.
const (
	ReasonClientGone      = "client_gone"
	ReasonLifetime        = "lifetime"
	ReasonHeartbeatFailed = "heartbeat_failed"
	ReasonWriteFailed     = "write_failed"
	ReasonEvicted         = "evicted"
	ReasonOpenFailed      = "open_failed"
)

// ErrSessionClosed is returned for writes attempted after Close began.
var ErrSessionClosed = errors.New("session closed")

var errEvicted = errors.New("subscriber evicted")

// Session is one viewer's long-lived stream.
type Session struct {
	bus       *bus.Bus
	transport Transport
	cfg       config.StreamConfig
	logger    *zap.Logger
	fsm       *fsm.FSM

	sub *bus.Subscriber

	// writeMu serializes frames and guards closing; once closing is set no
	// frame reaches the transport.
	writeMu sync.Mutex
	closing bool

	timerMu   sync.Mutex
	heartbeat *time.Timer
	lifetime  *time.Timer
	failures  int

	closeOnce sync.Once
	closed    chan struct{}
	reason    string
	opened    time.Time
}

// NewSession creates a session that will subscribe to b when run.
func NewSession(b *bus.Bus, transport Transport, cfg config.StreamConfig, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Session{
		bus:       b,
		transport: transport,
		cfg:       cfg,
		logger:    logger.Named("session").With(zap.String("transport", transport.Name())),
		closed:    make(chan struct{}),
	}

	s.fsm = fsm.NewFSM(
		StateConnecting,
		fsm.Events{
			{Name: eventAccept, Src: []string{StateConnecting}, Dst: StateOpen},
			{Name: eventDrain, Src: []string{StateConnecting, StateOpen}, Dst: StateClosing},
			{Name: eventFinish, Src: []string{StateClosing}, Dst: StateClosed},
		},
		fsm.Callbacks{
			"enter_" + StateOpen: func(_ context.Context, _ *fsm.Event) {
				metrics.StreamSessionsActive.WithLabelValues(transport.Name()).Inc()
			},
			"leave_" + StateOpen: func(_ context.Context, _ *fsm.Event) {
				metrics.StreamSessionsActive.WithLabelValues(transport.Name()).Dec()
			},
		},
	)

	return s
}

// ID returns the subscriber handle, empty before Run.
func (s *Session) ID() string {
	if s.sub == nil {
		return ""
	}
	return s.sub.ID
}

// State returns the current lifecycle state.
func (s *Session) State() string {
	return s.fsm.Current()
}

// Done is closed when the session reaches closed.
func (s *Session) Done() <-chan struct{} {
	return s.closed
}

// Reason returns why the session closed, empty while it is running.
func (s *Session) Reason() string {
	select {
	case <-s.closed:
		return s.reason
	default:
		return ""
	}
}

// Run subscribes to the bus, opens the stream and forwards events until the
// session closes. It returns an error only if the stream could not be opened.
func (s *Session) Run(ctx context.Context) error {
	s.sub = s.bus.Subscribe()
	s.logger = s.logger.With(zap.String("subscriber", s.sub.ID))

	select {
	case <-s.sub.Done():
		s.Close(ReasonOpenFailed)
		return fmt.Errorf("failed to subscribe: %w", s.sub.Err())
	default:
	}

	if err := s.fsm.Event(ctx, eventAccept); err != nil {
		s.Close(ReasonOpenFailed)
		return fmt.Errorf("failed to open session: %w", err)
	}
	s.opened = time.Now()

	if err := s.write(telemetry.EncodeSentinel(telemetry.SentinelOK)); err != nil {
		s.Close(ReasonOpenFailed)
		return fmt.Errorf("failed to write open sentinel: %w", err)
	}

	s.timerMu.Lock()
	s.lifetime = time.AfterFunc(s.cfg.MaxLifetime, s.expire)
	s.timerMu.Unlock()
	s.scheduleHeartbeat()

	s.logger.Debug("session opened")

	for {
		select {
		case <-ctx.Done():
			s.Close(ReasonClientGone)
			return nil
		case <-s.sub.Done():
			// Evicted by the bus, or our own Close unsubscribed.
			s.Close(ReasonEvicted)
			<-s.closed
			return nil
		case <-s.closed:
			return nil
		case event := <-s.sub.Events():
			frame, err := telemetry.EncodeEvent(event)
			if err != nil {
				s.logger.Error("failed to encode event", zap.Error(err))
				continue
			}
			if err := s.writeEvent(frame); err != nil {
				if errors.Is(err, errEvicted) {
					s.Close(ReasonEvicted)
					return nil
				}
				if !errors.Is(err, ErrSessionClosed) {
					s.logger.Debug("data frame write failed", zap.Error(err))
					s.Close(ReasonWriteFailed)
				}
				return nil
			}
			s.sub.MarkActivity()
		}
	}
}

// Close flushes the transport, leaves the bus, stops the timers and moves the
// session to closed. Only the first call has any effect.
func (s *Session) Close(reason string) {
	s.closeOnce.Do(func() {
		s.writeMu.Lock()
		s.closing = true
		if err := s.transport.Flush(); err != nil {
			s.logger.Debug("flush on close failed", zap.Error(err))
		}
		s.writeMu.Unlock()

		s.timerMu.Lock()
		if s.heartbeat != nil {
			s.heartbeat.Stop()
		}
		if s.lifetime != nil {
			s.lifetime.Stop()
		}
		s.timerMu.Unlock()

		if s.sub != nil {
			s.bus.Unsubscribe(s.sub)
		}

		ctx := context.Background()
		if s.fsm.Can(eventDrain) {
			_ = s.fsm.Event(ctx, eventDrain)
		}
		_ = s.fsm.Event(ctx, eventFinish)

		s.reason = reason
		metrics.StreamSessionsClosedTotal.WithLabelValues(reason).Inc()
		s.logger.Debug("session closed",
			zap.String("reason", reason),
			zap.Duration("age", time.Since(s.opened)))
		close(s.closed)
	})
}

// write sends one frame unless the session is closing.
func (s *Session) write(frame []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.closing {
		return ErrSessionClosed
	}
	return s.transport.WriteFrame(frame)
}

// writeEvent writes a data frame unless the subscription has already ended.
// Frames still sitting in an evicted subscriber's queue are dropped.
func (s *Session) writeEvent(frame []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.closing {
		return ErrSessionClosed
	}
	select {
	case <-s.sub.Done():
		return errEvicted
	default:
	}
	return s.transport.WriteFrame(frame)
}

func (s *Session) scheduleHeartbeat() {
	delay := s.cfg.HeartbeatInterval
	if s.cfg.HeartbeatJitter > 0 {
		delay += time.Duration(rand.Int64N(int64(s.cfg.HeartbeatJitter)))
	}

	s.timerMu.Lock()
	defer s.timerMu.Unlock()

	select {
	case <-s.closed:
		return
	default:
	}
	s.heartbeat = time.AfterFunc(delay, s.beat)
}

func (s *Session) beat() {
	err := s.write(telemetry.EncodeSentinel(telemetry.SentinelHeartbeat))
	if errors.Is(err, ErrSessionClosed) {
		return
	}

	s.timerMu.Lock()
	if err != nil {
		s.failures++
	} else {
		s.failures = 0
	}
	failures := s.failures
	s.timerMu.Unlock()

	if err != nil {
		metrics.StreamHeartbeatsTotal.WithLabelValues("failed").Inc()
		s.logger.Debug("heartbeat write failed", zap.Int("consecutive", failures), zap.Error(err))
		if failures >= s.maxFailures() {
			s.Close(ReasonHeartbeatFailed)
			return
		}
	} else {
		metrics.StreamHeartbeatsTotal.WithLabelValues("ok").Inc()
		s.sub.MarkHeartbeat()
	}

	s.scheduleHeartbeat()
}

func (s *Session) maxFailures() int {
	if s.cfg.MaxHeartbeatFailures < 1 {
		return 2
	}
	return s.cfg.MaxHeartbeatFailures
}

// expire ends the session at its maximum lifetime.
func (s *Session) expire() {
	if err := s.write(telemetry.EncodeSentinel(telemetry.SentinelClosing)); err != nil && !errors.Is(err, ErrSessionClosed) {
		s.logger.Debug("closing sentinel write failed", zap.Error(err))
	}
	s.Close(ReasonLifetime)
}
