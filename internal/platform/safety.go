package platform

import (
	"os"
	"path/filepath"
	"strings"
)

// IsDevRun checks if the current process is running via `go run` or `go test`.
// Both build binaries in temporary directories.
func IsDevRun() bool {
	exe, err := os.Executable()
	if err != nil {
		return false
	}
	if strings.HasPrefix(strings.ToLower(exe), strings.ToLower(os.TempDir())) {
		return true
	}
	return strings.HasSuffix(exe, ".test") || strings.HasSuffix(exe, ".test.exe")
}

// ResolveRoot determines the content root actually used. With sandbox set, roots
// outside the system temp directory are re-rooted below "<tmp>/tilth-dev".
func ResolveRoot(userPath string, sandbox bool) string {
	if userPath == "" {
		userPath = "."
	}
	if !sandbox {
		return userPath
	}

	clean := filepath.Clean(userPath)
	rel, err := filepath.Rel(os.TempDir(), clean)
	if err == nil && !strings.HasPrefix(rel, "..") && filepath.IsAbs(clean) {
		return clean
	}

	name := filepath.Base(clean)
	if name == "." || name == string(os.PathSeparator) || name == ".." {
		name = "default"
	}
	return filepath.Join(os.TempDir(), "tilth-dev", name)
}
