//go:build unix

package transport_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/thornfield-labs/credagent/transport"
)

func TestListenDialRoundTrip(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "roundtrip.sock")
	lst, err := transport.Listen(sock)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer lst.Close()

	accepted := make(chan error, 1)
	go func() {
		conn, err := lst.Accept()
		if err == nil {
			conn.Close()
		}
		accepted <- err
	}()

	conn, err := transport.Dial(context.Background(), sock)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	conn.Close()

	if err := <-accepted; err != nil {
		t.Fatalf("Accept: %v", err)
	}
}

func TestListenRemovesStaleSocket(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "stale.sock")
	if err := os.WriteFile(sock, []byte("not a socket"), 0o600); err != nil {
		t.Fatalf("seed stale file: %v", err)
	}
	lst, err := transport.Listen(sock)
	if err != nil {
		t.Fatalf("Listen over stale file: %v", err)
	}
	lst.Close()
}

func TestAgentSocketPathEnvOverride(t *testing.T) {
	t.Setenv("BITWARDEN_SSH_AUTH_SOCK", "/tmp/custom.sock")
	if got, want := transport.AgentSocketPath(), "/tmp/custom.sock"; got != want {
		t.Errorf("AgentSocketPath = %q, want %q", got, want)
	}
}
