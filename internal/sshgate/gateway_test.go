package sshgate

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"

	"github.com/ledzpl/wschat/internal/relay"
	"github.com/ledzpl/wschat/pkg/sshserver"
)

func TestSSHLineReachesRelayPeers(t *testing.T) {
	registry, addr := startGateway(t)
	peer := relay.NewOutbox(4, relay.DropOldest)
	require.NoError(t, registry.Register("ws:alice", peer))

	stdin, _ := openShell(t, addr, "carol")
	waitForPeers(t, registry, 2)

	_, err := io.WriteString(stdin, "hello\r\n")
	require.NoError(t, err)

	select {
	case msg := <-peer.Messages():
		require.Equal(t, relay.ChatMessage{Username: "carol", Content: "hello"}, msg)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for relayed line")
	}
}

func TestRelayMessagesRenderedOnTerminal(t *testing.T) {
	registry, addr := startGateway(t)

	_, out := openShell(t, addr, "carol")
	waitForPeers(t, registry, 1)

	require.Equal(t, 1, registry.Broadcast("ws:alice", relay.ChatMessage{Username: "alice", Content: "hi there"}))
	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "alice: hi there")
	}, 2*time.Second, 10*time.Millisecond)
	require.Contains(t, out.String(), "Welcome to wschat, carol!")
}

func TestCtrlDLeavesRelay(t *testing.T) {
	registry, addr := startGateway(t)

	stdin, _ := openShell(t, addr, "carol")
	waitForPeers(t, registry, 1)

	_, err := stdin.Write([]byte{keyEOT})
	require.NoError(t, err)
	waitForPeers(t, registry, 0)
}

func TestBlankLinesNotRelayed(t *testing.T) {
	registry, addr := startGateway(t)
	peer := relay.NewOutbox(4, relay.DropOldest)
	require.NoError(t, registry.Register("ws:alice", peer))

	stdin, _ := openShell(t, addr, "carol")
	waitForPeers(t, registry, 2)

	_, err := io.WriteString(stdin, "   \rnext\r")
	require.NoError(t, err)

	select {
	case msg := <-peer.Messages():
		require.Equal(t, "next", msg.Content)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for relayed line")
	}
	require.Zero(t, peer.Len())
}

func TestBlankSSHUserGetsGuestName(t *testing.T) {
	registry, addr := startGateway(t)

	_, out := openShell(t, addr, "")
	waitForPeers(t, registry, 1)

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "Welcome to wschat, ssh-")
	}, 2*time.Second, 10*time.Millisecond)
}

func startGateway(t *testing.T) (*relay.Registry, string) {
	t.Helper()

	registry := relay.NewRegistry(nil)
	gateway := New(registry, 8, relay.DropOldest, nil)

	signer, err := sshserver.EphemeralSigner()
	require.NoError(t, err)

	srv := sshserver.New("127.0.0.1:0", signer, nil)
	listener, err := srv.Listen()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, listener, gateway.HandleSession) }()

	t.Cleanup(func() {
		cancel()
		<-done
	})
	return registry, listener.Addr().String()
}

func openShell(t *testing.T, addr, user string) (io.Writer, *syncBuffer) {
	t.Helper()

	client, err := ssh.Dial("tcp", addr, &ssh.ClientConfig{
		User:            user,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	sess, err := client.NewSession()
	require.NoError(t, err)

	stdin, err := sess.StdinPipe()
	require.NoError(t, err)
	stdout, err := sess.StdoutPipe()
	require.NoError(t, err)

	out := &syncBuffer{}
	go func() { _, _ = io.Copy(out, stdout) }()

	require.NoError(t, sess.Shell())
	return stdin, out
}

func waitForPeers(t *testing.T, registry *relay.Registry, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return registry.Len() == n
	}, 2*time.Second, 5*time.Millisecond)
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
