//go:build windows

package peerid

import "net"

// peerCredentials is unavailable over Windows named pipes in the way
// SO_PEERCRED is on Linux; GetNamedPipeClientProcessId exists but only
// yields a pid, not uid/gid, and neither this package nor transport calls
// it, so Windows always reports ErrPeerCredsUnavailable.
func peerCredentials(conn net.Conn) (pid int, uid, gid uint32, err error) {
	return 0, 0, 0, ErrPeerCredsUnavailable
}
