package platform

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/aretw0/tilth/pkg/adapters/fs"
	"github.com/aretw0/tilth/pkg/schema"
)

// FindRoot looks upwards from startDir for a content root. Indicators are the project
// file, the system directory and a .git directory, in that order of precedence per level.
func FindRoot(startDir string) (string, error) {
	abs, err := filepath.Abs(startDir)
	if err != nil {
		return "", err
	}

	dir := abs
	for {
		if hasFile(dir, schema.ConfigFileName) || hasFile(dir, fs.DefaultSystemDir) || hasFile(dir, ".git") {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", fmt.Errorf("no %s found above %s", schema.ConfigFileName, abs)
}

func hasFile(dir, name string) bool {
	_, err := os.Stat(filepath.Join(dir, name))
	return err == nil
}
