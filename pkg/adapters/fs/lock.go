package fs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// fileLock is a cross-process lock backed by the exclusive creation of a file.
type fileLock struct {
	path string
	poll time.Duration
}

func newFileLock(path string) *fileLock {
	return &fileLock{path: path, poll: 10 * time.Millisecond}
}

// Acquire blocks until the lock is held or ctx is done. The returned func releases it.
func (l *fileLock) Acquire(ctx context.Context) (func(), error) {
	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}
	for {
		f, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL, 0666)
		if err == nil {
			f.Close()
			return func() {
				os.Remove(l.path)
			}, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("failed to acquire lock: %w", err)
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("failed to acquire lock %s: %w", l.path, ctx.Err())
		case <-time.After(l.poll):
		}
	}
}
