//go:build windows

package transport

import (
	"crypto/sha256"
	"encoding/base64"
	"os"
)

// pipeBase returns `\\.\pipe\<base64url(sha256(home))>`, a per-user,
// collision-free pipe path prefix with no characters the pipe namespace
// reserves.
func pipeBase() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.Getenv("USERPROFILE")
	}
	sum := sha256.Sum256([]byte(home))
	return `\\.\pipe\` + base64.RawURLEncoding.EncodeToString(sum[:])
}

// AgentSocketPath returns the named pipe path for the SSH agent.
func AgentSocketPath() string {
	return pipeBase() + ".app.ssh-agent"
}

// StatusSocketPath returns the named pipe path for the passkey/status IPC
// channel of the named application.
func StatusSocketPath(appName string) string {
	return pipeBase() + ".app." + appName
}
