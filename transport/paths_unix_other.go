//go:build unix && !linux

package transport

import "path/filepath"

// StatusSocketPath returns the path of the passkey/status IPC socket for
// the named application: /tmp/app.<name>.
func StatusSocketPath(appName string) string {
	return filepath.Join(string(filepath.Separator)+"tmp", "app."+appName)
}
