package agentproto

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"

	"github.com/thornfield-labs/credagent/keystore"
	"github.com/thornfield-labs/credagent/peerid"
)

const sessionBindExtensionName = "session-bind@openssh.com"

// connectionContext holds per-connection state: the peer that dialed in,
// and whatever a session-bind extension has told us since.
type connectionContext struct {
	peer         peerid.Info
	isForwarding bool
	hostKey      []byte
}

// connHandler implements agent.ExtendedAgent for exactly one connection. A
// fresh connHandler is constructed per accepted connection (by
// Server.ServeOne) so that session-bind state and peer identity never leak
// across connections, while Keys and approvals remain shared.
type connHandler struct {
	keys      *keystore.Store
	approvals *ApprovalChannel
	logf      func(string, ...any)
	stop      <-chan struct{} // closed by Server.Stop

	everUnlocked func() bool

	ctx connectionContext
}

var _ agent.ExtendedAgent = (*connHandler)(nil)

func (h *connHandler) askCtx() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-h.stop:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx
}

// List returns the stored keys, asking for UI approval first whenever
// everUnlocked reports false (no unlock recorded since start, or a clear
// recorded since). An approved listing does not itself change everUnlocked.
func (h *connHandler) List() ([]*agent.Key, error) {
	if !h.everUnlocked() {
		approved := h.approvals.Ask(h.askCtx(), UIRequest{
			ProcessName:  h.ctx.peer.ProcessName,
			Kind:         KindList,
			IsForwarding: h.ctx.isForwarding,
		})
		if !approved {
			return nil, errors.New("agent: list denied")
		}
	}

	entries := h.keys.List()
	out := make([]*agent.Key, 0, len(entries))
	for _, e := range entries {
		out = append(out, &agent.Key{
			Format:  string(formatTag(e.Algorithm)),
			Blob:    e.Blob,
			Comment: e.DisplayName,
		})
	}
	return out, nil
}

// Sign parses an SSHSIG namespace when present, asks for UI approval, and
// signs via the key store on approve.
func (h *connHandler) Sign(key ssh.PublicKey, data []byte) (*ssh.Signature, error) {
	return h.sign(key, data)
}

// SignWithFlags honors the flags field of a sign request; this store
// always signs RSA with rsa-sha2-512 regardless of the flags offered, so
// the flags are accepted but do not change behavior.
func (h *connHandler) SignWithFlags(key ssh.PublicKey, data []byte, flags agent.SignatureFlags) (*ssh.Signature, error) {
	return h.sign(key, data)
}

func (h *connHandler) sign(key ssh.PublicKey, data []byte) (*ssh.Signature, error) {
	blob := key.Marshal()

	var namespacePtr *string
	if ns, ok := sshsigNamespace(data); ok {
		namespacePtr = &ns
	}

	var cipherID *string
	if entry, ok := h.keys.Lookup(blob); ok && entry.CipherID != "" {
		cipherID = &entry.CipherID
	}

	approved := h.approvals.Ask(h.askCtx(), UIRequest{
		CipherID:     cipherID,
		ProcessName:  h.ctx.peer.ProcessName,
		Kind:         KindSign,
		Namespace:    namespacePtr,
		IsForwarding: h.ctx.isForwarding,
	})
	if !approved {
		return nil, errors.New("agent: sign denied")
	}

	sigBlob, format, err := h.keys.Sign(blob, data)
	if err != nil {
		if h.logf != nil {
			h.logf("agentproto: sign failed for %s: %v", h.ctx.peer.ProcessName, err)
		}
		return nil, fmt.Errorf("agent: sign: %w", err)
	}
	return &ssh.Signature{Format: format, Blob: sigBlob}, nil
}

// Add is unsupported: keys arrive unlocked from the vault, never from a
// local client.
func (h *connHandler) Add(key agent.AddedKey) error {
	return errors.New("agent: adding keys is not supported")
}

// Remove is unsupported for the same reason as Add.
func (h *connHandler) Remove(key ssh.PublicKey) error {
	return errors.New("agent: removing keys is not supported")
}

// RemoveAll is unsupported for the same reason as Add.
func (h *connHandler) RemoveAll() error {
	return errors.New("agent: removing keys is not supported")
}

// Lock and Unlock are not offered over the wire protocol: locking this
// agent is a vault-driven operation (keystore.Store.Lock), not something a
// local SSH client should be able to trigger.
func (h *connHandler) Lock(passphrase []byte) error {
	return errors.New("agent: lock is not supported over this transport")
}

func (h *connHandler) Unlock(passphrase []byte) error {
	return errors.New("agent: unlock is not supported over this transport")
}

func (h *connHandler) Signers() ([]ssh.Signer, error) {
	entries := h.keys.List()
	out := make([]ssh.Signer, 0, len(entries))
	for _, e := range entries {
		if e.Signer != nil {
			out = append(out, e.Signer)
		}
	}
	return out, nil
}

// Extension implements the session-bind@openssh.com extension: on a valid
// signature it records is_forwarding/host_key on this connection's
// context; on a verify failure it logs and returns an error, which
// ServeAgent turns into a FAILURE reply without closing the connection.
func (h *connHandler) Extension(extensionType string, contents []byte) ([]byte, error) {
	if extensionType != sessionBindExtensionName {
		return nil, agent.ErrExtensionUnsupported
	}

	var ext struct {
		HostKey      []byte
		SessionID    []byte
		Signature    []byte
		IsForwarding bool
	}
	if err := ssh.Unmarshal(contents, &ext); err != nil {
		if h.logf != nil {
			h.logf("agentproto: session-bind: malformed extension payload: %v", err)
		}
		return nil, fmt.Errorf("agent: malformed session-bind payload: %w", err)
	}

	hostKey, err := ssh.ParsePublicKey(ext.HostKey)
	if err != nil {
		if h.logf != nil {
			h.logf("agentproto: session-bind: bad host key: %v", err)
		}
		return nil, fmt.Errorf("agent: bad session-bind host key: %w", err)
	}

	var sig ssh.Signature
	if err := ssh.Unmarshal(ext.Signature, &sig); err != nil {
		if h.logf != nil {
			h.logf("agentproto: session-bind: bad signature encoding: %v", err)
		}
		return nil, fmt.Errorf("agent: bad session-bind signature: %w", err)
	}

	if err := hostKey.Verify(ext.SessionID, &sig); err != nil {
		if h.logf != nil {
			h.logf("agentproto: session-bind: signature did not verify: %v", err)
		}
		return nil, fmt.Errorf("agent: session-bind signature invalid: %w", err)
	}

	h.ctx.isForwarding = ext.IsForwarding
	h.ctx.hostKey = ext.HostKey
	return nil, nil
}

func formatTag(a keystore.Algorithm) string {
	switch a {
	case keystore.AlgoEd25519:
		return ssh.KeyAlgoED25519
	case keystore.AlgoRSA:
		return ssh.KeyAlgoRSA
	default:
		return ""
	}
}
