// Package bus is the in-process telemetry fan-out point.
//
// A Bus keeps a registry of subscribers, each with a bounded FIFO queue.
// Broadcast never blocks: a subscriber whose queue is full is evicted and
// must reconnect. The registry lock is held only to copy the subscriber set;
// delivery happens outside it.
//
// LOCK ORDERING:
//  1. Bus.mu - protects subs and closed
//  2. Subscriber.mu - protects the recorded close cause
//  3. Buffer.mu - protects the recent-event ring
//
// Subscriber.done is closed exactly once via sync.Once. The queue channel is
// never closed, so a concurrent send can not panic.
package bus
