package keystore_test

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"encoding/pem"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/crypto/ssh"

	"github.com/thornfield-labs/credagent/keystore"
)

func genEd25519PEM(t *testing.T, comment string) (pubKey ed25519.PublicKey, pemBytes []byte) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate ed25519 key: %v", err)
	}
	blk, err := ssh.MarshalPrivateKey(priv, comment)
	if err != nil {
		t.Fatalf("marshal ed25519 key: %v", err)
	}
	return pub, pem.EncodeToMemory(blk)
}

func genRSAPEM(t *testing.T, bits int, comment string) (pubKey *rsa.PublicKey, pemBytes []byte) {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		t.Fatalf("generate rsa key: %v", err)
	}
	blk, err := ssh.MarshalPrivateKey(priv, comment)
	if err != nil {
		t.Fatalf("marshal rsa key: %v", err)
	}
	return &priv.PublicKey, pem.EncodeToMemory(blk)
}

func TestParseEntryEd25519(t *testing.T) {
	pub, pemBytes := genEd25519PEM(t, "test key")
	e, err := keystore.ParseEntry(pemBytes, "My Key", "cipher-1")
	if err != nil {
		t.Fatalf("ParseEntry: %v", err)
	}
	if e.Algorithm != keystore.AlgoEd25519 {
		t.Errorf("Algorithm = %v, want %v", e.Algorithm, keystore.AlgoEd25519)
	}
	sshPub, err := ssh.NewPublicKey(pub)
	if err != nil {
		t.Fatalf("NewPublicKey: %v", err)
	}
	if diff := cmp.Diff(e.Blob, sshPub.Marshal()); diff != "" {
		t.Errorf("Blob mismatch (-got +want):\n%s", diff)
	}
	if e.DisplayName != "My Key" || e.CipherID != "cipher-1" {
		t.Errorf("metadata mismatch: %+v", e)
	}
}

func TestParseEntryRSA(t *testing.T) {
	_, pemBytes := genRSAPEM(t, 2048, "rsa key")
	e, err := keystore.ParseEntry(pemBytes, "RSA Key", "cipher-2")
	if err != nil {
		t.Fatalf("ParseEntry: %v", err)
	}
	if e.Algorithm != keystore.AlgoRSA {
		t.Errorf("Algorithm = %v, want %v", e.Algorithm, keystore.AlgoRSA)
	}
}

func TestParseEntryRejectsWeakRSA(t *testing.T) {
	_, pemBytes := genRSAPEM(t, 1024, "weak key")
	_, err := keystore.ParseEntry(pemBytes, "Weak", "cipher-3")
	if !errors.Is(err, keystore.ErrWeakKey) {
		t.Fatalf("ParseEntry: err = %v, want ErrWeakKey", err)
	}
}

func TestStoreListDeterministicOrder(t *testing.T) {
	_, pem1 := genEd25519PEM(t, "k1")
	_, pem2 := genEd25519PEM(t, "k2")
	e1, err := keystore.ParseEntry(pem1, "K1", "c1")
	if err != nil {
		t.Fatalf("ParseEntry k1: %v", err)
	}
	e2, err := keystore.ParseEntry(pem2, "K2", "c2")
	if err != nil {
		t.Fatalf("ParseEntry k2: %v", err)
	}

	s := keystore.NewStore()
	s.SetKeys([]*keystore.Entry{e1, e2})

	first := s.List()
	second := s.List()
	if len(first) != 2 || len(second) != 2 {
		t.Fatalf("List length = %d/%d, want 2/2", len(first), len(second))
	}
	for i := range first {
		if !cmp.Equal(first[i].Blob, second[i].Blob) {
			t.Errorf("List order not stable at index %d", i)
		}
	}
}

func TestLockKeepsListingButBlocksSign(t *testing.T) {
	_, pemBytes := genEd25519PEM(t, "k")
	e, err := keystore.ParseEntry(pemBytes, "K", "c")
	if err != nil {
		t.Fatalf("ParseEntry: %v", err)
	}
	s := keystore.NewStore()
	s.SetKeys([]*keystore.Entry{e})

	s.Lock()

	if got := s.List(); len(got) != 1 {
		t.Fatalf("List after Lock: got %d entries, want 1", len(got))
	}
	if _, _, err := s.Sign(e.Blob, []byte("data")); !errors.Is(err, keystore.ErrLocked) {
		t.Fatalf("Sign after Lock: err = %v, want ErrLocked", err)
	}
}

func TestSetKeysReplacesAtomically(t *testing.T) {
	_, pem1 := genEd25519PEM(t, "k1")
	_, pem2 := genEd25519PEM(t, "k2")
	e1, _ := keystore.ParseEntry(pem1, "K1", "c1")
	e2, _ := keystore.ParseEntry(pem2, "K2", "c2")

	s := keystore.NewStore()
	s.SetKeys([]*keystore.Entry{e1})
	if got := s.List(); len(got) != 1 {
		t.Fatalf("List after first SetKeys: got %d, want 1", len(got))
	}

	s.SetKeys([]*keystore.Entry{e2})
	got := s.List()
	if len(got) != 1 {
		t.Fatalf("List after second SetKeys: got %d, want 1", len(got))
	}
	if !cmp.Equal(got[0].Blob, e2.Blob) {
		t.Errorf("SetKeys did not fully replace old set")
	}
}

func TestSignUnknownKey(t *testing.T) {
	s := keystore.NewStore()
	if _, _, err := s.Sign([]byte("nope"), []byte("data")); !errors.Is(err, keystore.ErrUnknownKey) {
		t.Fatalf("Sign: err = %v, want ErrUnknownKey", err)
	}
}

func TestSignatureVerifies(t *testing.T) {
	pub, pemBytes := genEd25519PEM(t, "k")
	e, err := keystore.ParseEntry(pemBytes, "K", "c")
	if err != nil {
		t.Fatalf("ParseEntry: %v", err)
	}
	s := keystore.NewStore()
	s.SetKeys([]*keystore.Entry{e})

	data := []byte("sign me")
	sigBlob, tag, err := s.Sign(e.Blob, data)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if tag != ssh.KeyAlgoED25519 {
		t.Errorf("tag = %q, want %q", tag, ssh.KeyAlgoED25519)
	}
	if !ed25519.Verify(pub, data, sigBlob) {
		t.Error("signature did not verify under advertised public key")
	}
}
