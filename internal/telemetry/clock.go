package telemetry

import (
	"sync"
	"time"
)

// Clock hands out server timestamps that never go backwards within a process,
// even if the wall clock is stepped. Timestamps are truncated to milliseconds
// because that is the wire resolution.
type Clock struct {
	mu   sync.Mutex
	now  func() time.Time
	last time.Time
}

// NewClock returns a Clock backed by time.Now.
func NewClock() *Clock {
	return &Clock{now: time.Now}
}

// NewClockWithSource returns a Clock backed by now. Used by tests.
func NewClockWithSource(now func() time.Time) *Clock {
	return &Clock{now: now}
}

// Now returns the current time, or the previously issued time when the
// source went backwards.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := c.now().Truncate(time.Millisecond)
	if t.Before(c.last) {
		return c.last
	}
	c.last = t
	return t
}
