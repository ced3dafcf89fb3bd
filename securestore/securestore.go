// Package securestore implements an in-memory key/value store whose values
// are sealed under a single process-lifetime AEAD key held in locked
// (non-swappable) memory. Any decryption failure is treated as tamper: the
// master key is replaced and the whole store is cleared, never just the
// offending entry.
package securestore

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"
)

// ErrNotFound is returned by Get when the key is absent.
var ErrNotFound = errors.New("securestore: key not found")

// ErrTampered is returned by Get and ToSlice when an entry fails to
// authenticate. By the time the caller observes it, the store has already
// been re-keyed and cleared.
var ErrTampered = errors.New("securestore: decryption failed, store cleared")

const nonceSize = chacha20poly1305.NonceSizeX

// entry is an EncryptedEntry: a random per-Put nonce and the sealed value.
type entry struct {
	nonce      [nonceSize]byte
	ciphertext []byte
}

// Store is a tamper-evident encrypted map. The zero value is not usable;
// construct one with New. A Store is safe for concurrent use.
type Store struct {
	mu     sync.Mutex
	master *masterKey
	values map[string]entry
	logf   func(string, ...any)
}

// Option configures a Store constructed by New.
type Option func(*Store)

// WithLogf sets the function used to report tamper events. If unset, tamper
// events are silently discarded.
func WithLogf(logf func(string, ...any)) Option {
	return func(s *Store) { s.logf = logf }
}

// New constructs an empty Store with a fresh master key pinned in
// non-swappable memory.
func New(opts ...Option) (*Store, error) {
	mk, err := newMasterKey()
	if err != nil {
		return nil, fmt.Errorf("securestore: generate master key: %w", err)
	}
	s := &Store{master: mk, values: make(map[string]entry)}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Put seals value under the store's master key and records it under key,
// replacing any prior value for the same key.
func (s *Store) Put(key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	aead, err := s.master.aead()
	if err != nil {
		return fmt.Errorf("securestore: open cipher: %w", err)
	}
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return fmt.Errorf("securestore: generate nonce: %w", err)
	}
	ct := aead.Seal(nil, nonce[:], value, nil)
	s.values[key] = entry{nonce: nonce, ciphertext: ct}
	return nil
}

// Get decrypts and returns the value stored under key. The returned slice is
// a fresh allocation owned by the caller. A failed authentication check
// triggers the tamper response: the master key is replaced, the
// entire store is cleared, and ErrTampered is returned.
func (s *Store) Get(key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.values[key]
	if !ok {
		return nil, ErrNotFound
	}
	pt, err := s.open(e)
	if err != nil {
		s.tamperLocked(err)
		return nil, ErrTampered
	}
	return pt, nil
}

// Has reports whether key is present, without decrypting it.
func (s *Store) Has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.values[key]
	return ok
}

// Remove deletes key, if present. It is not an error to remove an absent key.
func (s *Store) Remove(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
}

// Clear removes every entry. It does not rotate the master key; use this
// for an ordinary bulk-replace, and rely on the automatic tamper response
// for the rekey-and-clear sequence.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.values)
}

// ToSlice returns every value in the store, ordered by sorted key, so that
// callers observe a deterministic listing. As with Get, the first
// decrypt failure triggers the tamper response and returns ErrTampered.
func (s *Store) ToSlice() ([][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]string, 0, len(s.values))
	for k := range s.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([][]byte, 0, len(keys))
	for _, k := range keys {
		pt, err := s.open(s.values[k])
		if err != nil {
			s.tamperLocked(err)
			return nil, ErrTampered
		}
		out = append(out, pt)
	}
	return out, nil
}

// Close zeroizes the master key and clears the store. The Store must not be
// used after Close.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.master.zero()
	clear(s.values)
}

// open decrypts e under the current master key. Caller must hold s.mu.
func (s *Store) open(e entry) ([]byte, error) {
	aead, err := s.master.aead()
	if err != nil {
		return nil, err
	}
	return aead.Open(nil, e.nonce[:], e.ciphertext, nil)
}

// tamperLocked performs the re-key-and-clear response to a decrypt failure.
// Caller must hold s.mu.
func (s *Store) tamperLocked(cause error) {
	if s.logf != nil {
		s.logf("securestore: tamper detected, clearing store: %v", cause)
	}
	if mk, err := newMasterKey(); err == nil {
		s.master.zero()
		s.master = mk
	}
	clear(s.values)
}
