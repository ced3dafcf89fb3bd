//go:build linux

package peerid

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// peerCredentials reads SO_PEERCRED via unix.GetsockoptUcred off the
// underlying Unix socket file descriptor.
func peerCredentials(conn net.Conn) (pid int, uid, gid uint32, err error) {
	uc, ok := conn.(*net.UnixConn)
	if !ok {
		return 0, 0, 0, ErrPeerCredsUnavailable
	}
	raw, err := uc.SyscallConn()
	if err != nil {
		return 0, 0, 0, fmt.Errorf("peerid: syscall conn: %w", err)
	}

	var cred *unix.Ucred
	var credErr error
	ctrlErr := raw.Control(func(fd uintptr) {
		cred, credErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	})
	if ctrlErr != nil {
		return 0, 0, 0, fmt.Errorf("peerid: control: %w", ctrlErr)
	}
	if credErr != nil {
		return 0, 0, 0, fmt.Errorf("peerid: getsockopt peercred: %w", credErr)
	}
	return int(cred.Pid), cred.Uid, cred.Gid, nil
}
