package sshserver

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
)

const (
	defaultHandshakeTimeout = 10 * time.Second
	maxAcceptBackoff        = time.Second
)

var errNoHandler = errors.New("sshserver: session handler required")

// SessionHandler serves one accepted "session" channel. It owns channel and must close it.
type SessionHandler func(conn *ssh.ServerConn, channel ssh.Channel, requests <-chan *ssh.Request)

// Server accepts SSH connections and hands their session channels to a SessionHandler.
type Server struct {
	Addr             string
	Config           *ssh.ServerConfig
	HandshakeTimeout time.Duration

	logger *slog.Logger
	conns  sync.WaitGroup
}

// New creates a Server presenting signer as its host key. Clients are not authenticated;
// the SSH user name is taken as the chat username.
func New(addr string, signer ssh.Signer, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	cfg := &ssh.ServerConfig{NoClientAuth: true}
	cfg.AddHostKey(signer)

	return &Server{
		Addr:             addr,
		Config:           cfg,
		HandshakeTimeout: defaultHandshakeTimeout,
		logger:           logger.With("component", "sshserver"),
	}
}

// Listen binds the configured address.
func (s *Server) Listen() (net.Listener, error) {
	listener, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return nil, fmt.Errorf("sshserver: listen %q: %w", s.Addr, err)
	}
	return listener, nil
}

// ListenAndServe binds Addr and serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, handler SessionHandler) error {
	listener, err := s.Listen()
	if err != nil {
		return err
	}
	return s.Serve(ctx, listener, handler)
}

// Serve accepts connections on listener until ctx is cancelled, then waits for open
// connections to finish. It always closes listener.
func (s *Server) Serve(ctx context.Context, listener net.Listener, handler SessionHandler) error {
	stop := context.AfterFunc(ctx, func() { _ = listener.Close() })
	defer stop()
	defer listener.Close()

	if handler == nil {
		return errNoHandler
	}

	s.logger.Info("SSH gateway listening", "addr", listener.Addr().String())
	defer s.conns.Wait()

	var backoff time.Duration
	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, net.ErrClosed) {
				return fmt.Errorf("sshserver: accept: %w", err)
			}

			backoff = min(max(2*backoff, 5*time.Millisecond), maxAcceptBackoff)
			s.logger.Warn("SSH accept failed", "error", err, "retry_in", backoff)
			time.Sleep(backoff)
			continue
		}
		backoff = 0

		s.conns.Add(1)
		go func() {
			defer s.conns.Done()
			s.serveConn(ctx, conn, handler)
		}()
	}
}

func (s *Server) serveConn(ctx context.Context, raw net.Conn, handler SessionHandler) {
	defer raw.Close()
	remote := raw.RemoteAddr().String()

	if s.HandshakeTimeout > 0 {
		_ = raw.SetDeadline(time.Now().Add(s.HandshakeTimeout))
	}
	conn, channels, requests, err := ssh.NewServerConn(raw, s.Config)
	if err != nil {
		s.logger.Warn("SSH handshake failed", "remote", remote, "error", err)
		return
	}
	_ = raw.SetDeadline(time.Time{})

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	defer conn.Close()

	logger := s.logger.With("remote", remote, "user", conn.User())
	logger.Info("SSH connection opened", "client", string(conn.ClientVersion()))

	go ssh.DiscardRequests(requests)

	var sessions sync.WaitGroup
	for newChannel := range channels {
		if newChannel.ChannelType() != "session" {
			_ = newChannel.Reject(ssh.UnknownChannelType, "only session channels are supported")
			continue
		}

		channel, chanRequests, err := newChannel.Accept()
		if err != nil {
			logger.Warn("SSH channel accept failed", "error", err)
			continue
		}

		sessions.Add(1)
		go func() {
			defer sessions.Done()
			handler(conn, channel, chanRequests)
		}()
	}

	sessions.Wait()
	logger.Info("SSH connection closed")
}

// EphemeralSigner creates an in-memory ed25519 host key.
func EphemeralSigner() (ssh.Signer, error) {
	_, key, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("sshserver: generate host key: %w", err)
	}

	signer, err := ssh.NewSignerFromKey(key)
	if err != nil {
		return nil, fmt.Errorf("sshserver: create signer: %w", err)
	}
	return signer, nil
}
