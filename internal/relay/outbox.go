package relay

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// OverflowPolicy decides what happens when a peer's outbox is full.
type OverflowPolicy string

const (
	// DropOldest evicts the oldest queued message to make room for the new one.
	DropOldest OverflowPolicy = "drop-oldest"
	// DropNewest discards the incoming message.
	DropNewest OverflowPolicy = "drop-newest"
	// Disconnect closes the outbox, which terminates the slow connection.
	Disconnect OverflowPolicy = "disconnect"
)

// ParseOverflowPolicy maps a configuration value to a policy.
func ParseOverflowPolicy(s string) (OverflowPolicy, error) {
	switch p := OverflowPolicy(s); p {
	case DropOldest, DropNewest, Disconnect:
		return p, nil
	default:
		return "", fmt.Errorf("relay: unknown overflow policy %q", s)
	}
}

// Outbox is a bounded, in-order, single-consumer queue feeding one connection's writer.
type Outbox struct {
	mu     sync.Mutex
	queue  chan ChatMessage
	policy OverflowPolicy

	done      chan struct{}
	closeOnce sync.Once

	dropped atomic.Uint64
}

// NewOutbox creates an outbox holding at most size messages.
func NewOutbox(size int, policy OverflowPolicy) *Outbox {
	if size <= 0 {
		size = 1
	}
	if policy == "" {
		policy = DropOldest
	}
	return &Outbox{
		queue:  make(chan ChatMessage, size),
		policy: policy,
		done:   make(chan struct{}),
	}
}

// Deliver enqueues msg without blocking.
func (o *Outbox) Deliver(msg ChatMessage) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	select {
	case <-o.done:
		return ErrOutboxClosed
	default:
	}

	select {
	case o.queue <- msg:
		return nil
	default:
	}

	switch o.policy {
	case DropNewest:
		o.dropped.Add(1)
		return ErrOutboxFull
	case Disconnect:
		o.dropped.Add(1)
		o.closeLocked()
		return ErrSlowConsumer
	default:
		select {
		case <-o.queue:
			o.dropped.Add(1)
		default:
		}
		select {
		case o.queue <- msg:
			return nil
		default:
			o.dropped.Add(1)
			return ErrOutboxFull
		}
	}
}

// Messages is drained by the owning connection's writer.
func (o *Outbox) Messages() <-chan ChatMessage {
	return o.queue
}

// Done is closed once the outbox stops accepting messages.
func (o *Outbox) Done() <-chan struct{} {
	return o.done
}

// Close stops the outbox. Safe to call more than once.
func (o *Outbox) Close() {
	o.mu.Lock()
	o.closeLocked()
	o.mu.Unlock()
}

func (o *Outbox) closeLocked() {
	o.closeOnce.Do(func() {
		close(o.done)
	})
}

// Len reports the number of queued messages.
func (o *Outbox) Len() int {
	return len(o.queue)
}

// Dropped reports how many messages the overflow policy discarded.
func (o *Outbox) Dropped() uint64 {
	return o.dropped.Load()
}
