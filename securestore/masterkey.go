package securestore

import (
	"crypto/cipher"
	"crypto/rand"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
)

// masterKey holds the symmetric key used to seal every entry in a Store. Its
// backing buffer is pinned against swapping for as long as the process
// holds it, and zeroized when replaced or on Close.
type masterKey struct {
	buf []byte // locked memory, len == chacha20poly1305.KeySize
}

func newMasterKey() (*masterKey, error) {
	buf, err := lockedBuffer(chacha20poly1305.KeySize)
	if err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		unlockedZero(buf)
		return nil, err
	}
	return &masterKey{buf: buf}, nil
}

// aead constructs the AEAD cipher for the current key. A new cipher.AEAD is
// built per call rather than cached, since chacha20poly1305.NewX is cheap
// and this avoids holding a second live copy of the key schedule.
func (k *masterKey) aead() (cipher.AEAD, error) {
	return chacha20poly1305.NewX(k.buf)
}

func (k *masterKey) zero() {
	if k == nil || k.buf == nil {
		return
	}
	unlockedZero(k.buf)
	k.buf = nil
}
