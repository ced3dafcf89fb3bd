// Package peerid identifies the process on the other end of a local
// transport connection: its pid, executable name, and (on Linux) its
// credentials, so the UI can tell the user who is asking for a key.
package peerid

import (
	"errors"
	"fmt"
	"net"

	"github.com/shirou/gopsutil/v3/process"
)

// ErrPeerCredsUnavailable indicates the platform or transport does not
// expose peer credentials (e.g. a Windows named pipe). Info.PID is zero in
// that case; callers should treat this as a degraded-but-usable result, not
// a fatal error.
var ErrPeerCredsUnavailable = errors.New("peerid: peer credentials unavailable on this platform")

// Info describes the process on the other end of a connection.
type Info struct {
	PID         int
	ProcessName string

	// UID and GID are populated only on Linux, where SO_PEERCRED is
	// read; they are zero elsewhere.
	UID, GID uint32
}

// Identify inspects conn and returns what can be learned about its peer.
// On platforms without peer credentials, it returns a zero-PID Info and
// ErrPeerCredsUnavailable so the caller can log and proceed with an
// anonymous identity rather than fail the connection.
func Identify(conn net.Conn) (Info, error) {
	pid, uid, gid, err := peerCredentials(conn)
	if err != nil {
		return Info{}, err
	}

	name, nameErr := processName(pid)
	if nameErr != nil {
		// A pid with no resolvable name (the process exited between
		// accept and lookup, or we lack permission) is not fatal: the UI
		// just shows an empty name.
		name = ""
	}

	return Info{PID: pid, ProcessName: name, UID: uid, GID: gid}, nil
}

func processName(pid int) (string, error) {
	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		return "", fmt.Errorf("peerid: open process %d: %w", pid, err)
	}
	name, err := proc.Name()
	if err != nil {
		return "", fmt.Errorf("peerid: read process %d name: %w", pid, err)
	}
	return name, nil
}
