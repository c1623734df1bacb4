package fs

import (
	"time"

	"github.com/aretw0/introspection"
)

// StoreState exposes internal state for observability.
type StoreState struct {
	Path          string     `json:"path"`
	SystemDir     string     `json:"system_dir"`
	CachedHashes  int        `json:"cached_hashes"`
	ReadOnly      bool       `json:"read_only"`
	WatcherActive bool       `json:"watcher_active"`
	TreeKey       string     `json:"tree_key,omitempty"`
	Commits       int        `json:"commits"`
	LastCommit    *time.Time `json:"last_commit,omitempty"`
}

// State implements introspection.Introspectable.
func (s *Store) State() any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return StoreState{
		Path:          s.Path,
		SystemDir:     s.config.SystemDir,
		CachedHashes:  s.hashes.Len(),
		ReadOnly:      s.config.ReadOnly,
		WatcherActive: s.watcherActive,
		TreeKey:       s.lastTreeKey,
		Commits:       s.commits,
		LastCommit:    s.lastCommit,
	}
}

// ComponentType implements introspection.Component.
func (s *Store) ComponentType() string {
	return "fs-store"
}

var _ introspection.Introspectable = (*Store)(nil)
var _ introspection.Component = (*Store)(nil)

func (s *Store) setWatcherActive(active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watcherActive = active
}
