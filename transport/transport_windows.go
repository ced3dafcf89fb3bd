//go:build windows

package transport

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/Microsoft/go-winio"
)

// ownerOnlySDDL restricts the pipe to the owning user and local system,
// mirroring the 0600 permission Listen applies to the Unix socket path.
const ownerOnlySDDL = "D:P(A;;GA;;;OW)(A;;GA;;;SY)"

// Listen opens a Windows named pipe at name.
//
// A race between accepting a connection and creating the next pipe
// instance is resolved by go-winio itself: its
// listener's Accept implementation creates the next pipe instance before
// it finishes waiting for a client to connect on the current one, so there
// is always an instance in the LISTENING state. The first-instance flag is
// set only once, by this single ListenPipe call; every later instance is
// created internally by the listener on each Accept.
func Listen(name string) (net.Listener, error) {
	cfg := &winio.PipeConfig{
		SecurityDescriptor: ownerOnlySDDL,
		MessageMode:        false,
		InputBufferSize:    8192,
		OutputBufferSize:   8192,
	}
	lst, err := winio.ListenPipe(name, cfg)
	if err != nil {
		return nil, fmt.Errorf("transport: listen pipe %s: %w", name, err)
	}
	return lst, nil
}

// Dial connects to a Windows named pipe at name.
func Dial(ctx context.Context, name string) (net.Conn, error) {
	timeout := 5 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		if d := time.Until(dl); d > 0 {
			timeout = d
		}
	}
	conn, err := winio.DialPipe(name, &timeout)
	if err != nil {
		return nil, fmt.Errorf("transport: dial pipe %s: %w", name, err)
	}
	return conn, nil
}
