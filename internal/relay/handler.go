package relay

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// Handler upgrades HTTP requests to WebSocket relay connections. One Handler serves
// every connection of a process and shares a single Registry between them.
type Handler struct {
	registry *Registry
	upgrader websocket.Upgrader
	opts     Options
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	closed   bool
	sessions sync.WaitGroup
}

// NewHandler builds a Handler with the given options applied over the defaults.
func NewHandler(registry *Registry, logger *slog.Logger, options ...Option) (*Handler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if registry == nil {
		registry = NewRegistry(logger)
	}

	opts := defaultOptions()
	for _, option := range options {
		if option == nil {
			continue
		}
		if err := option(&opts); err != nil {
			return nil, err
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Handler{
		registry: registry,
		upgrader: websocket.Upgrader{CheckOrigin: opts.CheckOrigin},
		opts:     opts,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Registry returns the registry shared by the handler's connections.
func (h *Handler) Registry() *Registry {
	return h.registry
}

// ServeHTTP runs one connection through its whole lifecycle and returns once it is closed.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		http.Error(w, "relay is shutting down", http.StatusServiceUnavailable)
		return
	}
	h.sessions.Add(1)
	h.mu.Unlock()
	defer h.sessions.Done()

	newConnection(h, PeerID(r.RemoteAddr)).serve(h.ctx, w, r)
}

// Shutdown closes every active connection and waits for them to unregister.
func (h *Handler) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()
	h.cancel()

	done := make(chan struct{})
	go func() {
		h.sessions.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
