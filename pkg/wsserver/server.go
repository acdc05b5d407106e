package wsserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// BindError reports that the listening address could not be acquired.
type BindError struct {
	Addr string
	Err  error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("wsserver: listen %q: %v", e.Addr, e.Err)
}

func (e *BindError) Unwrap() error { return e.Err }

// Server wraps the WebSocket listener lifecycle.
type Server struct {
	Addr            string
	Path            string
	ShutdownTimeout time.Duration

	handler http.Handler
	logger  *slog.Logger
}

// New creates a Server that routes Path (default "/") to handler.
func New(addr string, handler http.Handler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	return &Server{
		Addr:            addr,
		Path:            "/",
		ShutdownTimeout: 5 * time.Second,
		handler:         handler,
		logger:          logger,
	}
}

// Listen binds the configured address.
func (s *Server) Listen() (net.Listener, error) {
	listener, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return nil, &BindError{Addr: s.Addr, Err: err}
	}
	return listener, nil
}

// ListenAndServe binds and serves until the context is cancelled or an error occurs.
func (s *Server) ListenAndServe(ctx context.Context) error {
	listener, err := s.Listen()
	if err != nil {
		return err
	}
	return s.Serve(ctx, listener)
}

// Serve accepts connections on listener, one goroutine each, until ctx is cancelled.
// Failures of a single connection never stop the listener.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	if s.handler == nil {
		return errors.New("wsserver: handler required")
	}

	mux := http.NewServeMux()
	mux.Handle(s.Path, s.handler)

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          slog.NewLogLogger(s.logger.Handler(), slog.LevelWarn),
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	shutdown := make(chan struct{})
	defer close(shutdown)

	go func() {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), s.ShutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				s.logger.Warn("HTTP shutdown incomplete", "error", err)
			}
		case <-shutdown:
		}
	}()

	s.logger.Info("Relay listening", "addr", listener.Addr().String(), "path", s.Path)

	err := srv.Serve(listener)
	if errors.Is(err, http.ErrServerClosed) {
		return ctx.Err()
	}
	return fmt.Errorf("wsserver: serve: %w", err)
}
