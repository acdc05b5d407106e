package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/ledzpl/wschat/internal/relay"
)

const writeWait = 10 * time.Second

// ErrConnectionLost is returned by Run when the relay ends the connection.
var ErrConnectionLost = errors.New("client: connection closed by relay")

// Client is one relay participant: it identifies on dial, then sends chat frames and
// exposes received envelopes in arrival order.
type Client struct {
	conn     *websocket.Conn
	username string
	logger   *slog.Logger

	writeMu sync.Mutex

	incoming  chan relay.ChatMessage
	gone      chan struct{}
	closed    chan struct{}
	closeOnce sync.Once
}

// DefaultUsername returns a throwaway guest name.
func DefaultUsername() string {
	return "guest-" + uuid.NewString()[:8]
}

// Dial connects to the relay at url and sends the identification frame.
func Dial(ctx context.Context, url, username string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if strings.TrimSpace(username) == "" {
		username = DefaultUsername()
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("client: dial %s: %w", url, err)
	}

	c := &Client{
		conn:     conn,
		username: username,
		logger:   logger.With("username", username),
		incoming: make(chan relay.ChatMessage, 64),
		gone:     make(chan struct{}),
		closed:   make(chan struct{}),
	}

	if err := c.write(relay.ChatMessage{Username: username}); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("client: identify: %w", err)
	}

	go c.readLoop()
	return c, nil
}

// Username is the name this client identified with.
func (c *Client) Username() string {
	return c.username
}

// Messages yields envelopes relayed from other peers. It is closed when the connection ends.
func (c *Client) Messages() <-chan relay.ChatMessage {
	return c.incoming
}

// Send relays content to every other connected peer. Blank content is ignored.
func (c *Client) Send(content string) error {
	if strings.TrimSpace(content) == "" {
		return nil
	}
	return c.write(relay.ChatMessage{Username: c.username, Content: content})
}

// Run forwards every line from outgoing until it is closed, ctx ends, or the connection fails.
// It returns ErrConnectionLost when the relay hangs up first.
func (c *Client) Run(ctx context.Context, outgoing <-chan string) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.closed:
			return nil
		case <-c.gone:
			select {
			case <-c.closed:
				return nil
			default:
				return ErrConnectionLost
			}
		case line, ok := <-outgoing:
			if !ok {
				return nil
			}
			if err := c.Send(line); err != nil {
				return err
			}
		}
	}
}

// Close sends a close frame and releases the connection.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)

		c.writeMu.Lock()
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		c.writeMu.Unlock()

		err = c.conn.Close()
	})
	return err
}

func (c *Client) write(m relay.ChatMessage) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, relay.Encode(m))
}

func (c *Client) readLoop() {
	defer close(c.gone)
	defer close(c.incoming)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.closed:
			default:
				c.logReadError(err)
			}
			return
		}

		msg, err := relay.Decode(data)
		if err != nil {
			c.logger.Warn("Ignored malformed frame", "error", err)
			continue
		}

		select {
		case c.incoming <- msg:
		case <-c.closed:
			return
		}
	}
}

func (c *Client) logReadError(err error) {
	var closeErr *websocket.CloseError
	switch {
	case errors.As(err, &closeErr) && closeErr.Code == websocket.CloseNormalClosure,
		errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
		c.logger.Info("Relay closed the connection")
	default:
		c.logger.Error("Receive failed", "error", err)
	}
}
