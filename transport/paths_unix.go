//go:build unix

package transport

import (
	"os"
	"path/filepath"
)

// AgentSocketPath returns the path of the SSH agent's Unix domain socket:
// $BITWARDEN_SSH_AUTH_SOCK if set, else $HOME/.bitwarden-ssh-agent.sock
// The environment variable name is a wire-level contract with
// existing clients and is kept verbatim.
func AgentSocketPath() string {
	if p := os.Getenv("BITWARDEN_SSH_AUTH_SOCK"); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".bitwarden-ssh-agent.sock")
}
