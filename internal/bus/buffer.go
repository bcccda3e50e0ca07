package bus

import (
	"sync"

	"github.com/roadbuddy/fleetwatch/internal/telemetry"
)

// Buffer is a bounded ring of the most recently broadcast events, oldest first.
type Buffer struct {
	mu       sync.RWMutex
	events   []telemetry.Event
	capacity int
}

// NewBuffer creates a buffer holding at most capacity events. A zero
// capacity disables buffering.
func NewBuffer(capacity int) *Buffer {
	if capacity < 0 {
		capacity = 0
	}
	return &Buffer{
		events:   make([]telemetry.Event, 0, capacity),
		capacity: capacity,
	}
}

// Add appends an event, dropping the oldest once full.
func (b *Buffer) Add(event telemetry.Event) {
	if b.capacity == 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.events) == b.capacity {
		copy(b.events, b.events[1:])
		b.events = b.events[:len(b.events)-1]
	}
	b.events = append(b.events, event)
}

// Last returns up to n of the newest events, oldest first. n <= 0 returns
// everything held.
func (b *Buffer) Last(n int) []telemetry.Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	start := 0
	if n > 0 && n < len(b.events) {
		start = len(b.events) - n
	}

	out := make([]telemetry.Event, len(b.events)-start)
	copy(out, b.events[start:])
	return out
}

// Capacity returns the buffer bound.
func (b *Buffer) Capacity() int {
	return b.capacity
}

// Size returns the number of events held.
func (b *Buffer) Size() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.events)
}
