// Package lifecycle feeds tilth service events into a lifecycle supervisor.
//
// The service reports TREE_CHANGED when a watched backing store moves, DRAFT_SAVED and
// DRAFT_DELETED as the autosaver settles drafts, COMMITTED after a successful update,
// and RESYNC when a collaborative document is reset. A Source built here forwards
// those events, optionally narrowed to a set of types, so a supervisor can react to
// commits or tree changes without holding a session.
package lifecycle

import (
	"context"
	"slices"

	"github.com/aretw0/lifecycle"

	"github.com/aretw0/tilth/pkg/core"
)

type eventSource struct {
	events <-chan core.Event
	types  []core.EventType
	out    chan lifecycle.Event
}

// NewSource creates a lifecycle.Source reading the service event channel. With no
// types every event is forwarded; otherwise events of other types are dropped. The
// output channel closes when ctx ends or the service channel closes.
func NewSource(events <-chan core.Event, types ...core.EventType) lifecycle.Source {
	return &eventSource{
		events: events,
		types:  types,
		out:    make(chan lifecycle.Event),
	}
}

func (s *eventSource) Events() <-chan lifecycle.Event {
	return s.out
}

func (s *eventSource) wants(t core.EventType) bool {
	return len(s.types) == 0 || slices.Contains(s.types, t)
}

func (s *eventSource) Start(ctx context.Context) error {
	lifecycle.Go(ctx, func(ctx context.Context) error {
		defer close(s.out)
		for {
			var e core.Event
			select {
			case <-ctx.Done():
				return nil
			case next, ok := <-s.events:
				if !ok {
					return nil
				}
				e = next
			}
			if !s.wants(e.Type) {
				continue
			}
			// core.Event satisfies lifecycle.Event through String.
			select {
			case s.out <- e:
			case <-ctx.Done():
				return nil
			}
		}
	})
	return nil
}
