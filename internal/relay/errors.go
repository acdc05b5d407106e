package relay

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicatePeer is returned by Register when the id already has a live entry.
	// Two live connections sharing a remote address indicates an address-reuse race.
	ErrDuplicatePeer = errors.New("relay: peer already registered")

	// ErrOutboxFull is returned when a message was discarded because the outbox is full.
	ErrOutboxFull = errors.New("relay: outbox full")

	// ErrOutboxClosed is returned when delivering to an outbox whose connection is gone.
	ErrOutboxClosed = errors.New("relay: outbox closed")

	// ErrSlowConsumer is returned when the disconnect policy closed an overflowing outbox.
	ErrSlowConsumer = errors.New("relay: peer too slow, disconnecting")

	errBlankUsername = errors.New("identification carries a blank username")
)

// HandshakeError reports a failed WebSocket upgrade. It only affects that connection.
type HandshakeError struct {
	Remote string
	Err    error
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("relay: handshake with %s failed: %v", e.Remote, e.Err)
}

func (e *HandshakeError) Unwrap() error { return e.Err }

// IdentityError reports a missing or malformed identification frame.
type IdentityError struct {
	Peer PeerID
	Err  error
}

func (e *IdentityError) Error() string {
	return fmt.Sprintf("relay: identification of %s failed: %v", e.Peer, e.Err)
}

func (e *IdentityError) Unwrap() error { return e.Err }

// DecodeError reports a malformed frame payload.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err == nil {
		return "relay: decode: " + e.Reason
	}
	return fmt.Sprintf("relay: decode: %s: %v", e.Reason, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// DeliveryError reports a failed hand-off into one recipient's endpoint.
type DeliveryError struct {
	Peer PeerID
	Err  error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("relay: deliver to %s: %v", e.Peer, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// ConnectionError reports a read or write failure on a connection's own transport.
type ConnectionError struct {
	Peer PeerID
	Op   string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("relay: %s %s: %v", e.Op, e.Peer, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }
