package fs

import (
	"fmt"
	"os"
	"path/filepath"
)

// TempFilePrefix marks in-flight writes. The store skips such files when hashing the
// tree and listing entries.
const TempFilePrefix = "tilth-tmp-"

// writeFileAtomic replaces filename with data through a synced temp file in the same
// directory, creating missing parents. Readers see the old or the new contents, never
// a partial file.
func writeFileAtomic(filename string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}

	tmp, err := stageTemp(dir, data, perm)
	if err != nil {
		return err
	}
	if err := os.Rename(tmp, filename); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("move %s into place: %w", filename, err)
	}
	return nil
}

// stageTemp writes data to a new temp file in dir and returns its name. The file is
// removed on any failure.
func stageTemp(dir string, data []byte, perm os.FileMode) (name string, err error) {
	f, err := os.CreateTemp(dir, TempFilePrefix+"*")
	if err != nil {
		return "", fmt.Errorf("create temp file in %s: %w", dir, err)
	}
	name = f.Name()
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(name)
		}
	}()

	if _, err = f.Write(data); err != nil {
		return "", fmt.Errorf("write temp file: %w", err)
	}
	if err = f.Sync(); err != nil {
		return "", fmt.Errorf("sync temp file: %w", err)
	}
	if err = f.Chmod(perm); err != nil {
		return "", fmt.Errorf("chmod temp file: %w", err)
	}
	if err = f.Close(); err != nil {
		return "", fmt.Errorf("close temp file: %w", err)
	}
	return name, nil
}

// removeEmptyParents removes the now-empty directories between path and root.
func removeEmptyParents(root, path string) {
	dir := filepath.Dir(path)
	for dir != root && len(dir) > len(root) {
		entries, err := os.ReadDir(dir)
		if err != nil || len(entries) > 0 {
			return
		}
		if err := os.Remove(dir); err != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}
