package agentproto

import (
	"bytes"
	"encoding/binary"
)

// sshsigMagicPreamble is the fixed 6-byte tag that opens the SSHSIG
// signature sub-format (the payload `ssh-keygen -Y sign` asks an agent to
// sign): MAGIC_PREAMBLE || namespace || reserved || hash_algorithm || hash.
const sshsigMagicPreamble = "SSHSIG"

// sshsigNamespace recognizes the SSHSIG sub-format in data and extracts its
// namespace field, for display in the sign confirmation prompt. It returns
// ok=false for ordinary (non-SSHSIG) sign payloads, such as a plain SSH
// authentication challenge.
func sshsigNamespace(data []byte) (namespace string, ok bool) {
	if !bytes.HasPrefix(data, []byte(sshsigMagicPreamble)) {
		return "", false
	}
	rest := data[len(sshsigMagicPreamble):]
	ns, _, err := readSSHString(rest)
	if err != nil {
		return "", false
	}
	return string(ns), true
}

// readSSHString reads one `u32 length | bytes` field and returns it along
// with the remaining, unconsumed bytes.
func readSSHString(b []byte) (value, rest []byte, err error) {
	if len(b) < 4 {
		return nil, nil, errShortBuffer
	}
	n := binary.BigEndian.Uint32(b[:4])
	b = b[4:]
	if uint64(len(b)) < uint64(n) {
		return nil, nil, errShortBuffer
	}
	return b[:n], b[n:], nil
}

var errShortBuffer = shortBufferError{}

type shortBufferError struct{}

func (shortBufferError) Error() string { return "agentproto: truncated ssh-string field" }
