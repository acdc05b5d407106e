package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/gookit/color"
	"github.com/mama165/sdk-go/logs"
	"github.com/spf13/cobra"

	"github.com/ledzpl/wschat/internal/client"
)

var (
	clientURL      string
	clientUsername string
	clientLogLevel string
)

var clientCmd = &cobra.Command{
	Use:   "client",
	Short: "Join a relay from the terminal",
	Long: `Join a relay and chat from the terminal.

Every line typed on stdin is sent to the other peers. Incoming messages are
printed as they arrive. Ctrl+D leaves.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runClient(cmd.Context(), os.Stdin, cmd.OutOrStdout())
	},
}

func init() {
	clientCmd.Flags().StringVar(&clientURL, "url", "ws://127.0.0.1:8080/", "Relay WebSocket URL")
	clientCmd.Flags().StringVarP(&clientUsername, "username", "u", "", "Name shown to other peers (default: random guest name)")
	clientCmd.Flags().StringVar(&clientLogLevel, "log-level", "WARN", "Client log level")

	rootCmd.AddCommand(clientCmd)
}

func runClient(ctx context.Context, in io.Reader, out io.Writer) error {
	logger := logs.GetLoggerFromString(clientLogLevel)

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	c, err := client.Dial(dialCtx, clientURL, clientUsername, logger)
	if err != nil {
		return err
	}
	defer c.Close()

	fmt.Fprintf(out, "Connected to %s as %s\n", clientURL, color.New(color.OpBold, color.FgGreen).Sprint(c.Username()))

	renderer := client.NewRenderer(client.NewRandomColorPicker(nil))
	printed := make(chan struct{})
	go func() {
		defer close(printed)
		for msg := range c.Messages() {
			fmt.Fprintln(out, renderer.Render(msg))
		}
	}()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	err = c.Run(ctx, lines)
	_ = c.Close()
	<-printed

	if err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
