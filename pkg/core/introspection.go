package core

import (
	"sort"

	"github.com/aretw0/introspection"
)

// ServiceState exposes internal state for observability.
type ServiceState struct {
	Branch        string   `json:"branch"`
	OpenSessions  []string `json:"open_sessions"`
	StoreType     string   `json:"store_type"`
	Collaborative bool     `json:"collaborative"`
	EventBuffer   int      `json:"event_buffer"`
}

// State implements introspection.Introspectable.
func (s *Service) State() any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	storeType := "unknown"
	if s.store != nil {
		storeType = "store"
		if comp, ok := s.store.(introspection.Component); ok {
			storeType = comp.ComponentType()
		}
	}

	keys := make([]string, 0, len(s.sessions))
	for k := range s.sessions {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	return ServiceState{
		Branch:        s.branch,
		OpenSessions:  keys,
		StoreType:     storeType,
		Collaborative: s.collab != nil,
		EventBuffer:   cap(s.events),
	}
}

// ComponentType implements introspection.Component.
func (s *Service) ComponentType() string {
	return "service"
}

var _ introspection.Introspectable = (*Service)(nil)
var _ introspection.Component = (*Service)(nil)
