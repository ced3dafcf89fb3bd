//go:build unix && !linux && !darwin && !freebsd && !netbsd && !openbsd

package peerid

import "net"

// peerCredentials is unimplemented on the remaining Unix targets
// (solaris, illumos, aix) that golang.org/x/sys does not give the same
// SO_PEERCRED/LOCAL_PEERCRED shims for. This reports the same degraded
// result Windows does rather than leaving the build broken.
func peerCredentials(conn net.Conn) (pid int, uid, gid uint32, err error) {
	return 0, 0, 0, ErrPeerCredsUnavailable
}
