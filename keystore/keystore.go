// Package keystore parses OpenSSH private keys, holds them in an atomically
// replaceable set, and signs payloads under the algorithm each key carries.
package keystore

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"

	"golang.org/x/crypto/ssh"
)

// Algorithm tags the signing scheme of a stored key.
type Algorithm string

const (
	AlgoEd25519 Algorithm = "ed25519"
	AlgoRSA     Algorithm = "rsa"
)

// minRSABits is the minimum RSA modulus size accepted at parse time.
const minRSABits = 2048

var (
	// ErrUnsupportedAlgorithm is returned by ParseEntry for any key type
	// other than Ed25519 or RSA (ECDSA included).
	ErrUnsupportedAlgorithm = errors.New("keystore: unsupported key algorithm")

	// ErrWeakKey is returned by ParseEntry for an RSA key under 2048 bits.
	ErrWeakKey = errors.New("keystore: RSA key smaller than 2048 bits")

	// ErrUnknownKey is returned by Sign when no entry matches the requested
	// public key blob.
	ErrUnknownKey = errors.New("keystore: unknown key")

	// ErrLocked is returned by Sign when the matching entry has no signing
	// material resident (the store is locked for that key).
	ErrLocked = errors.New("keystore: key is locked")
)

// Entry is a stored public key plus optional signing material. Signer is
// nil exactly when the agent is locked for this key;
// Blob, Algorithm, DisplayName, and CipherID remain available so listing
// keeps working while locked.
type Entry struct {
	Blob        []byte
	Algorithm   Algorithm
	Signer      ssh.Signer
	DisplayName string
	CipherID    string
}

// ParseEntry parses an OpenSSH PEM-encoded private key and returns the
// resulting Entry. Only Ed25519 and RSA (>= 2048 bits) keys are accepted;
// every other key type, including ECDSA, returns ErrUnsupportedAlgorithm.
func ParseEntry(openSSHPEM []byte, displayName, cipherID string) (*Entry, error) {
	raw, err := ssh.ParseRawPrivateKey(openSSHPEM)
	if err != nil {
		return nil, fmt.Errorf("keystore: parse private key: %w", err)
	}

	switch key := raw.(type) {
	case *ed25519.PrivateKey:
		signer, err := ssh.NewSignerFromKey(*key)
		if err != nil {
			return nil, fmt.Errorf("keystore: build ed25519 signer: %w", err)
		}
		return &Entry{
			Blob:        signer.PublicKey().Marshal(),
			Algorithm:   AlgoEd25519,
			Signer:      signer,
			DisplayName: displayName,
			CipherID:    cipherID,
		}, nil

	case *rsa.PrivateKey:
		if key.N.BitLen() < minRSABits {
			return nil, fmt.Errorf("keystore: %w (%d bits)", ErrWeakKey, key.N.BitLen())
		}
		base, err := ssh.NewSignerFromKey(key)
		if err != nil {
			return nil, fmt.Errorf("keystore: build rsa signer: %w", err)
		}
		algoSigner, ok := base.(ssh.AlgorithmSigner)
		if !ok {
			return nil, fmt.Errorf("keystore: rsa signer does not support algorithm selection")
		}
		signer := rsaSHA512Signer{algoSigner}
		return &Entry{
			Blob:        signer.PublicKey().Marshal(),
			Algorithm:   AlgoRSA,
			Signer:      signer,
			DisplayName: displayName,
			CipherID:    cipherID,
		}, nil

	default:
		return nil, ErrUnsupportedAlgorithm
	}
}

// rsaSHA512Signer forces every signature to use rsa-sha2-512, regardless of
// what the caller's SSH library would otherwise negotiate.
type rsaSHA512Signer struct {
	ssh.AlgorithmSigner
}

func (s rsaSHA512Signer) Sign(rand io.Reader, data []byte) (*ssh.Signature, error) {
	return s.AlgorithmSigner.SignWithAlgorithm(rand, data, ssh.KeyAlgoRSASHA512)
}

// Store maps public key blob to Entry: many readers, one writer,
// deterministic iteration order. A Store is safe for concurrent use; the
// zero value is ready to use.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{entries: make(map[string]*Entry)}
}

// SetKeys atomically replaces the entire key set. Entries are assumed
// already successfully parsed; a caller that loads keys from secrets should
// call ParseEntry per secret first, logging and skipping any that fail
// rather than aborting the whole load.
func (s *Store) SetKeys(entries []*Entry) {
	m := make(map[string]*Entry, len(entries))
	for _, e := range entries {
		m[string(e.Blob)] = e
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = m
}

// Lock strips signing material from every entry, leaving public keys and
// metadata in place so List continues to enumerate them.
func (s *Store) Lock() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		e.Signer = nil
	}
}

// ClearKeys removes every entry. A subsequent List returns nothing until
// SetKeys is called again with freshly unlocked material.
func (s *Store) ClearKeys() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.entries)
}

// List returns a snapshot of every entry, ordered by public key blob so
// repeated listings within one connection are stable.
func (s *Store) List() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]Entry, 0, len(keys))
	for _, k := range keys {
		out = append(out, *s.entries[k])
	}
	return out
}

// Lookup returns a copy of the entry matching blob, if any, without
// requiring a signer to be present. Callers use this to surface metadata
// (display name, cipher id) for a UI prompt before Sign is attempted.
func (s *Store) Lookup(blob []byte) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[string(blob)]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Len reports the number of entries currently stored.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Sign produces a signature over data using the entry matching blob. It
// returns the raw signature bytes and the signature-format tag (e.g.
// "ssh-ed25519", "rsa-sha2-512"). It fails with ErrUnknownKey if no entry
// matches, or ErrLocked if the matching entry has no signer.
func (s *Store) Sign(blob []byte, data []byte) (signature []byte, algorithmTag string, err error) {
	s.mu.RLock()
	e, ok := s.entries[string(blob)]
	s.mu.RUnlock()
	if !ok {
		return nil, "", ErrUnknownKey
	}
	if e.Signer == nil {
		return nil, "", ErrLocked
	}
	sig, err := e.Signer.Sign(rand.Reader, data)
	if err != nil {
		return nil, "", fmt.Errorf("keystore: sign: %w", err)
	}
	return sig.Blob, sig.Format, nil
}
