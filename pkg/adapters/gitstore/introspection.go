package gitstore

import "github.com/aretw0/introspection"

// StoreState exposes internal state for observability.
type StoreState struct {
	Path       string `json:"path"`
	Branch     string `json:"branch"`
	ReadOnly   bool   `json:"read_only"`
	Forked     bool   `json:"forked"`
	Commits    int    `json:"commits"`
	LastCommit string `json:"last_commit,omitempty"`
}

// State implements introspection.Introspectable.
func (s *Store) State() any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return StoreState{
		Path:       s.path,
		Branch:     s.config.Branch,
		ReadOnly:   s.readOnly,
		Forked:     s.forked,
		Commits:    s.commits,
		LastCommit: s.lastCommit,
	}
}

// ComponentType implements introspection.Component.
func (s *Store) ComponentType() string {
	return "git-store"
}

var _ introspection.Introspectable = (*Store)(nil)
var _ introspection.Component = (*Store)(nil)
