package bus

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/roadbuddy/fleetwatch/internal/telemetry"
)

// Subscriber is one registered consumer of broadcast events.
type Subscriber struct {
	ID      string
	Created time.Time

	lastHeartbeat atomic.Int64 // unix nanos
	lastActivity  atomic.Int64 // unix nanos

	queue chan telemetry.Event
	done  chan struct{}
	once  sync.Once

	mu  sync.Mutex
	err error
}

func newSubscriber(queueSize int) *Subscriber {
	now := time.Now()
	s := &Subscriber{
		ID:      uuid.NewString(),
		Created: now,
		queue:   make(chan telemetry.Event, queueSize),
		done:    make(chan struct{}),
	}
	s.lastActivity.Store(now.UnixNano())
	return s
}

// Events returns the subscriber's FIFO queue. It is never closed; select on
// Done as well.
func (s *Subscriber) Events() <-chan telemetry.Event {
	return s.queue
}

// Done is closed once the subscriber has left the bus.
func (s *Subscriber) Done() <-chan struct{} {
	return s.done
}

// Err returns why the subscriber left the bus, or nil while it is registered.
func (s *Subscriber) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Pending returns the number of queued events not yet drained.
func (s *Subscriber) Pending() int {
	return len(s.queue)
}

// Capacity returns the queue bound.
func (s *Subscriber) Capacity() int {
	return cap(s.queue)
}

// MarkHeartbeat records a successful heartbeat write.
func (s *Subscriber) MarkHeartbeat() {
	now := time.Now().UnixNano()
	s.lastHeartbeat.Store(now)
	s.lastActivity.Store(now)
}

// MarkActivity records a successful frame write.
func (s *Subscriber) MarkActivity() {
	s.lastActivity.Store(time.Now().UnixNano())
}

// LastHeartbeat returns the time of the last heartbeat, or the zero time.
func (s *Subscriber) LastHeartbeat() time.Time {
	return unixNanoTime(s.lastHeartbeat.Load())
}

// LastActivity returns the time of the last successful write.
func (s *Subscriber) LastActivity() time.Time {
	return unixNanoTime(s.lastActivity.Load())
}

func (s *Subscriber) isDone() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// close records cause and closes done. Only the first call has any effect.
func (s *Subscriber) close(cause error) {
	s.once.Do(func() {
		s.mu.Lock()
		s.err = cause
		s.mu.Unlock()
		close(s.done)
	})
}

func unixNanoTime(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}
