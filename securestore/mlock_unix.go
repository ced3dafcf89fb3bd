//go:build unix

package securestore

import "golang.org/x/sys/unix"

// lockedBuffer allocates an n-byte buffer and pins it against swapping via
// mlock(2). If the platform refuses mlock (commonly due to RLIMIT_MEMLOCK),
// the buffer is still returned: losing the swap guarantee is preferable to
// refusing to run. The mlock error is discarded and not logged.
func lockedBuffer(n int) ([]byte, error) {
	buf := make([]byte, n)
	_ = unix.Mlock(buf) // best-effort; see doc comment
	return buf, nil
}

func unlockedZero(buf []byte) {
	for i := range buf {
		buf[i] = 0
	}
	_ = unix.Munlock(buf)
}
