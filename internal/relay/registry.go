//go:generate go run go.uber.org/mock/mockgen -source=registry.go -destination=../mocks/mock_relay.go -package=mocks
package relay

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"

	"github.com/samber/lo"
)

// PeerID identifies one live connection.
type PeerID string

// Endpoint accepts messages on behalf of one peer. Deliver must not block.
type Endpoint interface {
	Deliver(msg ChatMessage) error
}

// Registry is the shared set of identified peers and the only broadcast fan-out target.
type Registry struct {
	mu    sync.RWMutex
	peers map[PeerID]Endpoint

	logger *slog.Logger
}

// NewRegistry constructs an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		peers:  make(map[PeerID]Endpoint),
		logger: logger,
	}
}

// Register inserts a peer. An id that is already live is rejected with ErrDuplicatePeer
// and the existing entry is left untouched.
func (r *Registry) Register(id PeerID, endpoint Endpoint) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.peers[id]; ok {
		r.logger.Warn("Rejected duplicate peer registration", "peer", id)
		return ErrDuplicatePeer
	}
	r.peers[id] = endpoint
	r.logger.Debug("Peer registered", "peer", id, "peers", len(r.peers))
	return nil
}

// Unregister removes a peer if present and reports whether it was.
func (r *Registry) Unregister(id PeerID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.peers[id]; !ok {
		return false
	}
	delete(r.peers, id)
	r.logger.Debug("Peer unregistered", "peer", id, "peers", len(r.peers))
	return true
}

// Broadcast hands msg to every registered peer except sender and returns how many accepted it.
// Recipients are fixed when the call starts; the lock is released before any delivery.
func (r *Registry) Broadcast(sender PeerID, msg ChatMessage) int {
	r.mu.RLock()
	recipients := lo.OmitByKeys(r.peers, []PeerID{sender})
	r.mu.RUnlock()

	delivered := 0
	for id, endpoint := range recipients {
		if err := endpoint.Deliver(msg); err != nil {
			level := slog.LevelWarn
			if errors.Is(err, ErrOutboxClosed) {
				// Peer is tearing down and about to unregister.
				level = slog.LevelDebug
			}
			r.logger.Log(context.Background(), level, "Broadcast delivery failed",
				"from", sender,
				"error", &DeliveryError{Peer: id, Err: err})
			continue
		}
		delivered++
	}
	return delivered
}

// Len reports the number of registered peers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}

// Peers returns a sorted snapshot of registered ids.
func (r *Registry) Peers() []PeerID {
	r.mu.RLock()
	ids := lo.Keys(r.peers)
	r.mu.RUnlock()

	slices.Sort(ids)
	return ids
}
