package relay

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Options tunes per-connection behaviour of a Handler.
type Options struct {
	OutboxSize          int
	OverflowPolicy      OverflowPolicy
	IdentifyTimeout     time.Duration
	IdleTimeout         time.Duration
	WriteTimeout        time.Duration
	MaxFrameBytes       int64
	TrustClientUsername bool
	CheckOrigin         func(r *http.Request) bool
}

func defaultOptions() Options {
	return Options{
		OutboxSize:      64,
		OverflowPolicy:  DropOldest,
		IdentifyTimeout: 10 * time.Second,
		WriteTimeout:    10 * time.Second,
		MaxFrameBytes:   64 << 10,
	}
}

// Option overwrites one default of a Handler.
type Option func(o *Options) error

// WithOutboxSize bounds each peer's outbound queue.
func WithOutboxSize(size int) Option {
	return func(o *Options) error {
		if size <= 0 {
			return fmt.Errorf("relay.WithOutboxSize: invalid size (%d)", size)
		}
		o.OutboxSize = size
		return nil
	}
}

// WithOverflowPolicy selects what happens when an outbox is full.
func WithOverflowPolicy(policy OverflowPolicy) Option {
	return func(o *Options) error {
		if _, err := ParseOverflowPolicy(string(policy)); err != nil {
			return fmt.Errorf("relay.WithOverflowPolicy: %w", err)
		}
		o.OverflowPolicy = policy
		return nil
	}
}

// WithIdentifyTimeout limits how long a new connection may take to identify itself.
func WithIdentifyTimeout(timeout time.Duration) Option {
	return func(o *Options) error {
		if timeout <= 0 {
			return fmt.Errorf("relay.WithIdentifyTimeout: invalid timeout (%v)", timeout)
		}
		o.IdentifyTimeout = timeout
		return nil
	}
}

// WithIdleTimeout disconnects peers that send neither frames nor pongs for the duration.
// Zero disables idle detection and pings.
func WithIdleTimeout(timeout time.Duration) Option {
	return func(o *Options) error {
		if timeout < 0 {
			return fmt.Errorf("relay.WithIdleTimeout: invalid timeout (%v)", timeout)
		}
		o.IdleTimeout = timeout
		return nil
	}
}

// WithWriteTimeout bounds a single frame write.
func WithWriteTimeout(timeout time.Duration) Option {
	return func(o *Options) error {
		if timeout <= 0 {
			return fmt.Errorf("relay.WithWriteTimeout: invalid timeout (%v)", timeout)
		}
		o.WriteTimeout = timeout
		return nil
	}
}

// WithMaxFrameBytes caps the size of inbound frames.
func WithMaxFrameBytes(n int64) Option {
	return func(o *Options) error {
		if n <= 0 {
			return fmt.Errorf("relay.WithMaxFrameBytes: invalid size (%d)", n)
		}
		o.MaxFrameBytes = n
		return nil
	}
}

// WithTrustClientUsername relays the username each chat frame claims instead of the
// one given at identification.
func WithTrustClientUsername(trust bool) Option {
	return func(o *Options) error {
		o.TrustClientUsername = trust
		return nil
	}
}

// WithCheckOrigin installs the upgrader's origin check.
func WithCheckOrigin(check func(r *http.Request) bool) Option {
	return func(o *Options) error {
		if check == nil {
			return errors.New("relay.WithCheckOrigin: nil check")
		}
		o.CheckOrigin = check
		return nil
	}
}

func (o *Options) pingPeriod() time.Duration {
	return o.IdleTimeout * 9 / 10
}
