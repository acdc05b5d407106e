package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ledzpl/wschat/internal/config"
)

var envFile string

var rootCmd = &cobra.Command{
	Use:   "wschat",
	Short: "wschat - real-time WebSocket chat relay",
	Long: `wschat relays chat messages between every connected peer.

Use 'wschat serve' to run the relay and 'wschat client' to join one.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return config.LoadDotEnv(envFile)
	},
}

// Execute runs the command line until it finishes or the process is interrupted.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Dotenv file exported before reading WSCHAT_* settings")

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}
