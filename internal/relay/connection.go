package relay

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

type connection struct {
	id       PeerID
	username string

	registry *Registry
	upgrader *websocket.Upgrader
	opts     *Options
	logger   *slog.Logger

	ws     *websocket.Conn
	outbox *Outbox

	state      atomic.Int32
	registered bool

	transportOnce sync.Once
	cleanup       sync.Once
}

func newConnection(h *Handler, id PeerID) *connection {
	return &connection{
		id:       id,
		registry: h.registry,
		upgrader: &h.upgrader,
		opts:     &h.opts,
		logger:   h.logger.With("peer", id),
		outbox:   NewOutbox(h.opts.OutboxSize, h.opts.OverflowPolicy),
	}
}

func (c *connection) State() State {
	return State(c.state.Load())
}

func (c *connection) setState(s State) {
	c.state.Store(int32(s))
}

func (c *connection) serve(parent context.Context, w http.ResponseWriter, r *http.Request) {
	c.setState(StateUpgrading)
	ws, err := c.upgrader.Upgrade(w, r, nil)
	if err != nil {
		c.logger.Warn("WebSocket handshake failed", "error", &HandshakeError{Remote: string(c.id), Err: err})
		c.setState(StateClosing)
		c.setState(StateClosed)
		return
	}
	c.ws = ws

	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	stop := context.AfterFunc(ctx, c.closeTransport)
	defer stop()
	defer c.close()

	c.setState(StateAwaitingIdentity)
	username, err := c.identify()
	if err != nil {
		c.logger.Warn("Identification failed", "error", &IdentityError{Peer: c.id, Err: err})
		return
	}
	c.username = username
	c.logger = c.logger.With("username", username)

	if err := c.registry.Register(c.id, c.outbox); err != nil {
		c.logger.Warn("Registration failed", "error", err)
		return
	}
	c.registered = true
	c.setState(StateActive)
	c.logger.Info("Peer joined")

	var workers sync.WaitGroup
	workers.Add(3)
	go func() {
		defer workers.Done()
		c.watchOutbox(ctx, cancel)
	}()
	go func() {
		defer workers.Done()
		defer c.beginClosing(cancel)
		c.report(c.writeLoop(ctx))
	}()
	go func() {
		defer workers.Done()
		defer c.beginClosing(cancel)
		c.report(c.readLoop())
	}()
	workers.Wait()
}

// identify reads the mandatory first frame and returns the peer's username.
func (c *connection) identify() (string, error) {
	c.ws.SetReadLimit(c.opts.MaxFrameBytes)
	if err := c.ws.SetReadDeadline(time.Now().Add(c.opts.IdentifyTimeout)); err != nil {
		return "", err
	}

	_, data, err := c.ws.ReadMessage()
	if err != nil {
		return "", err
	}
	msg, err := Decode(data)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(msg.Username) == "" {
		return "", errBlankUsername
	}

	if err := c.ws.SetReadDeadline(c.readDeadline()); err != nil {
		return "", err
	}
	return msg.Username, nil
}

func (c *connection) readLoop() error {
	if c.opts.IdleTimeout > 0 {
		c.ws.SetPongHandler(func(string) error {
			return c.ws.SetReadDeadline(c.readDeadline())
		})
	}

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return &ConnectionError{Peer: c.id, Op: "read", Err: err}
		}
		if err := c.ws.SetReadDeadline(c.readDeadline()); err != nil {
			return &ConnectionError{Peer: c.id, Op: "read", Err: err}
		}

		msg, err := Decode(data)
		if err != nil {
			c.logger.Warn("Dropped malformed frame", "error", err)
			continue
		}
		if msg.Content == "" {
			c.logger.Debug("Dropped frame without content")
			continue
		}
		if !c.opts.TrustClientUsername {
			msg = ChatMessage{Username: c.username, Content: msg.Content}
		}

		delivered := c.registry.Broadcast(c.id, msg)
		c.logger.Debug("Message relayed", "recipients", delivered)
	}
}

func (c *connection) writeLoop(ctx context.Context) error {
	var ping <-chan time.Time
	if c.opts.IdleTimeout > 0 {
		period := c.opts.pingPeriod()
		if period <= 0 {
			period = c.opts.IdleTimeout
		}
		ticker := time.NewTicker(period)
		defer ticker.Stop()
		ping = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.outbox.Done():
			return nil
		case msg := <-c.outbox.Messages():
			if err := c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout)); err != nil {
				return &ConnectionError{Peer: c.id, Op: "write", Err: err}
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, Encode(msg)); err != nil {
				return &ConnectionError{Peer: c.id, Op: "write", Err: err}
			}
		case <-ping:
			deadline := time.Now().Add(c.opts.WriteTimeout)
			if err := c.ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return &ConnectionError{Peer: c.id, Op: "ping", Err: err}
			}
		}
	}
}

// watchOutbox ends the connection as soon as the outbox is closed by the
// disconnect overflow policy, even while the writer is blocked on a slow peer.
func (c *connection) watchOutbox(ctx context.Context, cancel context.CancelFunc) {
	select {
	case <-c.outbox.Done():
		if ctx.Err() == nil {
			c.logger.Warn("Disconnecting slow consumer",
				"error", &ConnectionError{Peer: c.id, Op: "write", Err: ErrSlowConsumer},
				"dropped", c.outbox.Dropped())
		}
		c.beginClosing(cancel)
	case <-ctx.Done():
	}
}

func (c *connection) readDeadline() time.Time {
	if c.opts.IdleTimeout <= 0 {
		return time.Time{}
	}
	return time.Now().Add(c.opts.IdleTimeout)
}

// beginClosing moves an active connection to Closing and stops its sibling loop.
func (c *connection) beginClosing(cancel context.CancelFunc) {
	c.state.CompareAndSwap(int32(StateActive), int32(StateClosing))
	cancel()
}

func (c *connection) report(err error) {
	switch {
	case err == nil:
	case isNormalClosure(err):
		c.logger.Debug("Connection loop ended", "reason", err)
	default:
		c.logger.Warn("Connection terminated", "error", err)
	}
}

func (c *connection) closeTransport() {
	c.transportOnce.Do(func() {
		if c.ws != nil {
			_ = c.ws.Close()
		}
	})
}

func (c *connection) close() {
	c.cleanup.Do(func() {
		c.setState(StateClosing)
		if c.registered {
			c.registry.Unregister(c.id)
		}
		c.outbox.Close()
		c.closeTransport()
		c.setState(StateClosed)

		if c.registered {
			c.logger.Info("Peer left", "dropped", c.outbox.Dropped())
		}
	})
}

func isNormalClosure(err error) bool {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		switch closeErr.Code {
		case websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived:
			return true
		}
		return false
	}
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed)
}
