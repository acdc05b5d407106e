// Package sshgate lets terminal users join the relay over SSH. Each shell session
// registers as one relay peer next to the WebSocket connections.
package sshgate

import (
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/crypto/ssh"

	"github.com/ledzpl/wschat/internal/relay"
)

// Gateway adapts SSH sessions onto a relay registry.
type Gateway struct {
	registry   *relay.Registry
	outboxSize int
	policy     relay.OverflowPolicy
	logger     *slog.Logger

	seq atomic.Uint64
}

// New creates a gateway delivering into registry. Each session buffers at most
// outboxSize messages and applies policy when that fills up.
func New(registry *relay.Registry, outboxSize int, policy relay.OverflowPolicy, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		registry:   registry,
		outboxSize: outboxSize,
		policy:     policy,
		logger:     logger,
	}
}

// HandleSession serves one SSH session channel until the user leaves.
// It matches sshserver.SessionHandler.
func (g *Gateway) HandleSession(conn *ssh.ServerConn, channel ssh.Channel, requests <-chan *ssh.Request) {
	defer channel.Close()

	id := relay.PeerID(fmt.Sprintf("ssh:%s#%d", conn.RemoteAddr(), g.seq.Add(1)))
	username := strings.TrimSpace(conn.User())
	if username == "" {
		username = "ssh-" + uuid.NewString()[:8]
	}

	newSession(g, id, username, channel, requests).run()
}
