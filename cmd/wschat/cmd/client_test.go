package cmd

import (
	"bytes"
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ledzpl/wschat/internal/client"
	"github.com/ledzpl/wschat/internal/relay"
)

func TestRunClientSendsStdinLines(t *testing.T) {
	registry := relay.NewRegistry(nil)
	handler, err := relay.NewHandler(registry, nil)
	require.NoError(t, err)

	srv := httptest.NewServer(handler)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = handler.Shutdown(ctx)
		srv.Close()
	})
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	bob, err := client.Dial(context.Background(), url, "bob", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = bob.Close() })
	require.Eventually(t, func() bool { return registry.Len() == 1 }, 2*time.Second, 5*time.Millisecond)

	clientURL, clientUsername = url, "alice"
	t.Cleanup(func() { clientURL, clientUsername = "ws://127.0.0.1:8080/", "" })

	var out bytes.Buffer
	require.NoError(t, runClient(context.Background(), strings.NewReader("hello\n\nbye\n"), &out))
	require.Contains(t, out.String(), "Connected to "+url)

	for _, want := range []string{"hello", "bye"} {
		select {
		case msg := <-bob.Messages():
			require.Equal(t, relay.ChatMessage{Username: "alice", Content: want}, msg)
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for %q", want)
		}
	}
}
