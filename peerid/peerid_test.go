package peerid_test

import (
	"errors"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/thornfield-labs/credagent/peerid"
)

func TestIdentifySelf(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "peerid-test.sock")
	lst, err := net.Listen("unix", sock)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer lst.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := lst.Accept()
		if err == nil {
			accepted <- conn
		}
	}()

	cconn, err := net.Dial("unix", sock)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer cconn.Close()

	sconn := <-accepted
	defer sconn.Close()

	info, err := peerid.Identify(sconn)
	if errors.Is(err, peerid.ErrPeerCredsUnavailable) {
		t.Skipf("peer credentials unavailable on this platform: %v", err)
	}
	if err != nil {
		t.Fatalf("Identify: %v", err)
	}
	if info.PID != os.Getpid() {
		t.Errorf("PID = %d, want %d (self-connected socket)", info.PID, os.Getpid())
	}
}
