//go:build linux

package transport

import (
	"os"
	"path/filepath"
)

// StatusSocketPath returns the path of the passkey/status IPC socket for
// the named application. On Linux this lives under the user's cache
// directory rather than /tmp, matching how a
// packaged desktop app keeps its runtime sockets alongside its other
// per-user cache state instead of the shared, world-writable /tmp.
func StatusSocketPath(appName string) string {
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = string(filepath.Separator) + "tmp"
	}
	return filepath.Join(dir, "app."+appName+".sock")
}
