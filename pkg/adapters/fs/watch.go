package fs

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/aretw0/lifecycle"
	"github.com/fsnotify/fsnotify"

	"github.com/aretw0/tilth/pkg/core"
)

// DefaultWatchDelay is how long the watcher waits for a burst of writes to settle.
const DefaultWatchDelay = 50 * time.Millisecond

// Watch implements core.Watchable. It emits a TREE_CHANGED event each time the tree key
// changes, pauses while git holds its index lock, and closes the channel once ctx is done.
func (s *Store) Watch(ctx context.Context) (<-chan core.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := s.recursiveAdd(watcher, s.Path); err != nil {
		_ = watcher.Close()
		return nil, err
	}
	_ = watcher.Add(filepath.Join(s.Path, ".git"))

	initial, err := s.TreeKey(ctx)
	if err != nil {
		_ = watcher.Close()
		return nil, err
	}

	w := &watchLoop{
		store:   s,
		watcher: watcher,
		events:  make(chan core.Event, 16),
		last:    initial,
		delay:   DefaultWatchDelay,
	}
	s.setWatcherActive(true)

	lifecycle.Go(ctx, w.run, lifecycle.WithErrorHandler(func(err error) {
		if s.config.ErrorHandler != nil {
			s.config.ErrorHandler(fmt.Errorf("watcher: %w", err))
		} else {
			s.logger.Error("watcher stopped", "error", err)
		}
	}))
	return w.events, nil
}

type watchLoop struct {
	store   *Store
	watcher *fsnotify.Watcher
	events  chan core.Event
	delay   time.Duration

	mu   sync.Mutex
	last string
}

func (w *watchLoop) run(ctx context.Context) (err error) {
	logger := w.store.logger
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("watcher panic: %v", recovered)
			if logger.Enabled(ctx, slog.LevelDebug) {
				logger.Error("watcher panic", "error", err, "stack", string(debug.Stack()))
			}
		}
	}()

	deb := newDebouncer(w.delay)
	defer close(w.events)
	defer func() {
		if !deb.stopAndWait(5 * time.Second) {
			logger.Warn("watcher shutdown timed out waiting for pending check")
		}
	}()
	defer w.store.setWatcherActive(false)
	defer w.watcher.Close()

	var gitLocked bool
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("watcher events channel closed")
			}

			if w.isGitLock(event.Name) {
				if event.Has(fsnotify.Create) {
					gitLocked = true
					logger.Debug("git operation detected, pausing watcher")
				} else if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
					gitLocked = false
					logger.Debug("git operation finished, checking tree")
					deb.trigger(func() { w.check(ctx) })
				}
				continue
			}
			if gitLocked || w.ignored(event.Name) {
				continue
			}

			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := w.store.recursiveAdd(w.watcher, event.Name); err != nil {
						logger.Debug("failed to watch new directory", "path", event.Name, "error", err)
					}
				}
			}
			logger.Debug("event received", "name", event.Name, "op", event.Op.String())
			deb.trigger(func() { w.check(ctx) })

		case wErr, ok := <-w.watcher.Errors:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("watcher errors channel closed")
			}
			logger.Error("fsnotify error", "error", wErr)
			if w.store.config.ErrorHandler != nil {
				w.store.config.ErrorHandler(wErr)
			}
		}
	}
}

// check recomputes the tree key and emits an event when it moved.
func (w *watchLoop) check(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if ctx.Err() != nil {
		return
	}
	key, err := w.store.TreeKey(ctx)
	if err != nil {
		w.store.logger.Debug("tree key failed", "error", err)
		return
	}
	if key == w.last {
		return
	}
	w.last = key

	select {
	case w.events <- core.Event{Type: core.EventTreeChanged, TreeKey: key, Timestamp: time.Now().Unix()}:
	case <-ctx.Done():
	}
}

func (w *watchLoop) isGitLock(name string) bool {
	return filepath.Base(name) == "index.lock" && filepath.Base(filepath.Dir(name)) == ".git"
}

func (w *watchLoop) ignored(name string) bool {
	rel, err := filepath.Rel(w.store.Path, name)
	if err != nil {
		return true
	}
	rel = filepath.ToSlash(rel)
	first, _, _ := strings.Cut(rel, "/")
	return w.store.ignoredDir(first) || isTempFile(filepath.Base(name))
}

// recursiveAdd watches dir and every directory below it, skipping system directories.
func (s *Store) recursiveAdd(watcher *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if p != s.Path && s.ignoredDir(d.Name()) {
			return filepath.SkipDir
		}
		if err := watcher.Add(p); err != nil {
			return fmt.Errorf("failed to watch %s: %w", p, err)
		}
		return nil
	})
}
