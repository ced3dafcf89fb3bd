//go:build windows

package securestore

import "golang.org/x/sys/windows"

// lockedBuffer allocates an n-byte buffer and pins it against swapping via
// VirtualLock. As on Unix, failure to lock is tolerated rather than fatal.
func lockedBuffer(n int) ([]byte, error) {
	buf := make([]byte, n)
	_ = windows.VirtualLock(&buf[0], uintptr(len(buf)))
	return buf, nil
}

func unlockedZero(buf []byte) {
	for i := range buf {
		buf[i] = 0
	}
	if len(buf) > 0 {
		_ = windows.VirtualUnlock(&buf[0], uintptr(len(buf)))
	}
}
