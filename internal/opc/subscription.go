package opc

import (
	"context"
	"sync"
	"time"
)

// DefaultQueueCapacity bounds a subscription's notification queue when the
// creator does not choose one.
const DefaultQueueCapacity = 256

// Subscription is a standing request for change notifications on a set of
// node ids. Notifications queue up to a bounded capacity with drop-oldest
// overflow, so a slow consumer back-pressures by losing history, never by
// blocking the protocol transport. The session re-creates the underlying
// transport subscription after a reconnect with the same parameters.
type Subscription struct {
	id       uint64
	session  *Session
	nodeIDs  []string
	sampling time.Duration

	mu      sync.Mutex
	queue   []Notification
	cap     int
	dropped uint64
	tsub    TransportSub
	closed  bool
}

// NodeIDs returns the monitored node ids.
func (sub *Subscription) NodeIDs() []string {
	out := make([]string, len(sub.nodeIDs))
	copy(out, sub.nodeIDs)
	return out
}

// push is the transport sink. Never blocks.
func (sub *Subscription) push(n Notification) {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if sub.closed {
		return
	}
	if len(sub.queue) >= sub.cap {
		// Drop the oldest queued notification to make room.
		copy(sub.queue, sub.queue[1:])
		sub.queue = sub.queue[:len(sub.queue)-1]
		sub.dropped++
	}
	sub.queue = append(sub.queue, n)
}

// Drain removes and returns all queued notifications in arrival order.
// The engine drains at ready-group boundaries.
func (sub *Subscription) Drain() []Notification {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if len(sub.queue) == 0 {
		return nil
	}
	out := sub.queue
	sub.queue = make([]Notification, 0, sub.cap)
	return out
}

// Dropped returns how many notifications were discarded due to overflow.
func (sub *Subscription) Dropped() uint64 {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	return sub.dropped
}

// swapTransportSub installs a fresh transport-level subscription, used
// during session reconnection.
func (sub *Subscription) swapTransportSub(t TransportSub) {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	sub.tsub = t
}

// close cancels the transport subscription and stops accepting pushes.
func (sub *Subscription) close(ctx context.Context) error {
	sub.mu.Lock()
	if sub.closed {
		sub.mu.Unlock()
		return nil
	}
	sub.closed = true
	t := sub.tsub
	sub.tsub = nil
	sub.mu.Unlock()

	if t != nil {
		return t.Cancel(ctx)
	}
	return nil
}
