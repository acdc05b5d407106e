package relay

import (
	"bytes"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryBroadcastSkipsSender(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry(nil)

	alice := NewOutbox(4, DropOldest)
	bob := NewOutbox(4, DropOldest)
	carol := NewOutbox(4, DropOldest)
	req.NoError(registry.Register("alice", alice))
	req.NoError(registry.Register("bob", bob))
	req.NoError(registry.Register("carol", carol))

	sent := ChatMessage{Username: "alice", Content: "x"}
	req.Equal(2, registry.Broadcast("alice", sent))

	req.Equal(sent, receive(t, bob))
	req.Equal(sent, receive(t, carol))
	req.Zero(alice.Len(), "sender should not receive its own message")
	req.Zero(bob.Len(), "each recipient receives exactly once")
	req.Zero(carol.Len(), "each recipient receives exactly once")
}

func TestRegistryRejectsDuplicatePeer(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry(nil)

	first := NewOutbox(1, DropOldest)
	req.NoError(registry.Register("peer", first))
	req.ErrorIs(registry.Register("peer", NewOutbox(1, DropOldest)), ErrDuplicatePeer)

	req.Equal(1, registry.Len())
	req.Equal(1, registry.Broadcast("other", ChatMessage{Username: "x", Content: "y"}))
	req.Equal(1, first.Len(), "original entry must be kept")
}

func TestRegistryUnregisterIsIdempotent(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry(nil)
	req.NoError(registry.Register("peer", NewOutbox(1, DropOldest)))

	var wg sync.WaitGroup
	removed := make(chan bool, 8)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			removed <- registry.Unregister("peer")
		}()
	}
	wg.Wait()
	close(removed)

	count := 0
	for ok := range removed {
		if ok {
			count++
		}
	}
	req.Equal(1, count)
	req.Zero(registry.Len())
	req.False(registry.Unregister("never-registered"))
}

func TestRegistryConcurrentRegistrations(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry(nil)

	const n = 50
	var wg sync.WaitGroup
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, registry.Register(PeerID(uuid.NewString()), NewOutbox(1, DropOldest)))
		}()
	}
	wg.Wait()

	peers := registry.Peers()
	req.Len(peers, n)
	seen := make(map[PeerID]struct{}, n)
	for _, id := range peers {
		seen[id] = struct{}{}
	}
	req.Len(seen, n)
}

func TestRegistryBroadcastAfterUnregister(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry(nil)

	alice := NewOutbox(4, DropOldest)
	bob := NewOutbox(4, DropOldest)
	req.NoError(registry.Register("alice", alice))
	req.NoError(registry.Register("bob", bob))

	registry.Unregister("bob")
	req.Zero(registry.Broadcast("alice", ChatMessage{Username: "alice", Content: "bye"}))
	req.Zero(bob.Len())
}

func TestRegistryBroadcastIsolatesClosedEndpoint(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry(nil)

	closed := NewOutbox(4, DropOldest)
	closed.Close()
	open := NewOutbox(4, DropOldest)
	req.NoError(registry.Register("closed", closed))
	req.NoError(registry.Register("open", open))

	req.Equal(1, registry.Broadcast("sender", ChatMessage{Username: "s", Content: "hello"}))
	req.Equal(1, open.Len())
}

func TestRegistryPeersSorted(t *testing.T) {
	registry := NewRegistry(nil)
	for i := 3; i > 0; i-- {
		require.NoError(t, registry.Register(PeerID(fmt.Sprintf("peer-%d", i)), NewOutbox(1, DropOldest)))
	}
	require.Equal(t, []PeerID{"peer-1", "peer-2", "peer-3"}, registry.Peers())
}

func TestRegistryLogsClosedOutboxAtDebug(t *testing.T) {
	var logs bytes.Buffer
	registry := NewRegistry(slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug})))

	leaving := NewOutbox(1, DropOldest)
	leaving.Close()
	require.NoError(t, registry.Register("leaving", leaving))

	full := NewOutbox(1, DropNewest)
	require.NoError(t, full.Deliver(msg("queued")))
	require.NoError(t, registry.Register("full", full))

	require.Zero(t, registry.Broadcast("alice", msg("hi")))

	var closedLine, fullLine string
	for _, line := range strings.Split(logs.String(), "\n") {
		switch {
		case strings.Contains(line, "deliver to leaving"):
			closedLine = line
		case strings.Contains(line, "deliver to full"):
			fullLine = line
		}
	}
	require.Contains(t, closedLine, "level=DEBUG")
	require.Contains(t, fullLine, "level=WARN")
}

func receive(t *testing.T, o *Outbox) ChatMessage {
	t.Helper()
	select {
	case m := <-o.Messages():
		return m
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timed out waiting for delivery")
		return ChatMessage{}
	}
}
