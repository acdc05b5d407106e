package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"

	"github.com/mama165/sdk-go/logs"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ledzpl/wschat/internal/config"
	"github.com/ledzpl/wschat/internal/relay"
	"github.com/ledzpl/wschat/internal/sshgate"
	"github.com/ledzpl/wschat/pkg/sshserver"
	"github.com/ledzpl/wschat/pkg/wsserver"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the relay",
	Long: `Run the WebSocket relay, plus the SSH gateway when WSCHAT_SSH_ADDR is set.

Settings are read from WSCHAT_* environment variables.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// runServe owns the relay lifecycle. Every listener is bound before any is served,
// and handler sessions are drained on the way out.
func runServe(ctx context.Context) error {
	cfg, err := config.Load(os.Environ())
	if err != nil {
		return err
	}
	logger := logs.GetLoggerFromString(cfg.LogLevel)

	policy, err := relay.ParseOverflowPolicy(cfg.OverflowPolicy)
	if err != nil {
		return err
	}

	registry := relay.NewRegistry(logger)
	handler, err := relay.NewHandler(registry, logger,
		relay.WithOutboxSize(cfg.OutboxSize),
		relay.WithOverflowPolicy(policy),
		relay.WithIdentifyTimeout(cfg.IdentifyTimeout),
		relay.WithIdleTimeout(cfg.IdleTimeout),
		relay.WithWriteTimeout(cfg.WriteTimeout),
		relay.WithMaxFrameBytes(cfg.MaxFrameBytes),
		relay.WithTrustClientUsername(cfg.TrustClientUsername),
	)
	if err != nil {
		return fmt.Errorf("relay: %w", err)
	}

	ws := wsserver.New(cfg.Addr(), handler, logger)
	ws.Path = cfg.Path
	ws.ShutdownTimeout = cfg.ShutdownTimeout

	wsListener, err := ws.Listen()
	if err != nil {
		logger.Error("Cannot bind relay listener", "addr", cfg.Addr(), "error", err)
		return err
	}

	var gateway *sshGateway
	if cfg.SSHAddr != "" {
		if gateway, err = bindSSHGateway(cfg, registry, policy, logger); err != nil {
			_ = wsListener.Close()
			return err
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return ws.Serve(ctx, wsListener)
	})
	if gateway != nil {
		g.Go(func() error {
			return gateway.serve(ctx)
		})
	}

	err = g.Wait()

	drainCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if shutdownErr := handler.Shutdown(drainCtx); shutdownErr != nil {
		logger.Warn("Relay sessions did not drain in time", "error", shutdownErr)
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Relay stopped", "error", err)
		return err
	}
	logger.Info("Relay stopped")
	return nil
}

type sshGateway struct {
	server   *sshserver.Server
	listener net.Listener
	gateway  *sshgate.Gateway
}

func bindSSHGateway(cfg config.Config, registry *relay.Registry, policy relay.OverflowPolicy, logger *slog.Logger) (*sshGateway, error) {
	signer, err := sshserver.LoadOrGenerateSigner(cfg.SSHHostKey)
	if err != nil {
		return nil, err
	}

	srv := sshserver.New(cfg.SSHAddr, signer, logger)
	listener, err := srv.Listen()
	if err != nil {
		logger.Error("Cannot bind SSH listener", "addr", cfg.SSHAddr, "error", err)
		return nil, err
	}

	return &sshGateway{
		server:   srv,
		listener: listener,
		gateway:  sshgate.New(registry, cfg.OutboxSize, policy, logger),
	}, nil
}

func (s *sshGateway) serve(ctx context.Context) error {
	return s.server.Serve(ctx, s.listener, s.gateway.HandleSession)
}
