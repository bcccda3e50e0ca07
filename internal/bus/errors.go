package bus

import "errors"

// Causes recorded on a subscriber when it leaves the bus.
var (
	// ErrQueueFull means a broadcast found the subscriber's queue full.
	ErrQueueFull = errors.New("subscriber queue full")

	// ErrUnsubscribed means the owner removed the subscriber.
	ErrUnsubscribed = errors.New("subscriber unsubscribed")

	// ErrBusClosed means the bus shut down.
	ErrBusClosed = errors.New("bus closed")
)
