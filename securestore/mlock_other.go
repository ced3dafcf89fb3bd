//go:build !unix && !windows

package securestore

// lockedBuffer falls back to a plain allocation on platforms with neither
// mlock(2) nor VirtualLock (e.g. js/wasm). There is no swap to pin against
// on those targets in the first place.
func lockedBuffer(n int) ([]byte, error) {
	return make([]byte, n), nil
}

func unlockedZero(buf []byte) {
	for i := range buf {
		buf[i] = 0
	}
}
