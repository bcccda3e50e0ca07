package bus

import (
	"sync"

	"go.uber.org/zap"

	"github.com/roadbuddy/fleetwatch/internal/config"
	"github.com/roadbuddy/fleetwatch/internal/metrics"
	"github.com/roadbuddy/fleetwatch/internal/telemetry"
)

// Bus fans telemetry events out to every registered subscriber.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string]*Subscriber
	closed bool

	queueSize int
	recent    *Buffer
	logger    *zap.Logger
}

// New creates a bus sized by cfg.
func New(cfg config.BusConfig, logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 1
	}

	return &Bus{
		subs:      make(map[string]*Subscriber),
		queueSize: queueSize,
		recent:    NewBuffer(cfg.RecentBufferSize),
		logger:    logger.Named("bus"),
	}
}

// Subscribe registers a new subscriber. After Close it returns a subscriber
// that is already done with ErrBusClosed.
func (b *Bus) Subscribe() *Subscriber {
	sub := newSubscriber(b.queueSize)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		sub.close(ErrBusClosed)
		return sub
	}
	b.subs[sub.ID] = sub
	count := len(b.subs)
	b.mu.Unlock()

	metrics.BusSubscribers.Set(float64(count))
	b.logger.Debug("subscriber registered", zap.String("subscriber", sub.ID), zap.Int("subscribers", count))
	return sub
}

// Unsubscribe removes sub. It reports true only for the call that actually
// removed it; later calls and calls for evicted subscribers return false.
func (b *Bus) Unsubscribe(sub *Subscriber) bool {
	return b.remove(sub, ErrUnsubscribed)
}

// Broadcast queues event for every registered subscriber without blocking
// and returns how many accepted it. Subscribers whose queue is full are
// evicted with ErrQueueFull.
func (b *Bus) Broadcast(event telemetry.Event) int {
	b.recent.Add(event)
	metrics.BusEventsTotal.Inc()

	b.mu.RLock()
	subs := make([]*Subscriber, 0, len(b.subs))
	for _, sub := range b.subs {
		subs = append(subs, sub)
	}
	b.mu.RUnlock()

	// Deliver without holding the lock
	delivered := 0
	for _, sub := range subs {
		if sub.isDone() {
			continue
		}

		select {
		case sub.queue <- event:
			delivered++
			metrics.BusDeliveriesTotal.WithLabelValues("delivered").Inc()
		default:
			metrics.BusDeliveriesTotal.WithLabelValues("dropped").Inc()
			if b.remove(sub, ErrQueueFull) {
				b.logger.Warn("subscriber evicted",
					zap.String("subscriber", sub.ID),
					zap.Int("pending", sub.Pending()),
					zap.Error(ErrQueueFull))
			}
		}
	}

	return delivered
}

// Recent returns up to n of the most recently broadcast events, oldest first.
func (b *Bus) Recent(n int) []telemetry.Event {
	return b.recent.Last(n)
}

// Len returns the number of registered subscribers.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close evicts every subscriber. Further subscriptions are refused.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := b.subs
	b.subs = make(map[string]*Subscriber)
	b.mu.Unlock()

	for _, sub := range subs {
		sub.close(ErrBusClosed)
	}
	metrics.BusSubscribers.Set(0)
	b.logger.Info("bus closed", zap.Int("evicted", len(subs)))
}

func (b *Bus) remove(sub *Subscriber, cause error) bool {
	if sub == nil {
		return false
	}

	b.mu.Lock()
	_, ok := b.subs[sub.ID]
	if ok {
		delete(b.subs, sub.ID)
	}
	count := len(b.subs)
	b.mu.Unlock()

	if !ok {
		return false
	}

	sub.close(cause)
	metrics.BusSubscribers.Set(float64(count))
	return true
}
