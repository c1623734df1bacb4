package core

import (
	"context"
	"sync"
)

// Source is the editable state of one entry: either a locally owned value or a view
// over a shared collaborative document.
type Source interface {
	// Read returns a copy of the current state.
	Read() Value
	// Mutate applies fn to a copy of the current state and stores the result.
	Mutate(ctx context.Context, fn func(Value) error) error
	// Reset returns the state to the committed baseline.
	Reset(ctx context.Context) error
	// Collaborative reports whether the state is shared with other sessions.
	Collaborative() bool
}

// baseline holds the committed state shared by a session and its source.
type baseline struct {
	mu sync.RWMutex
	c  CommittedState
}

func (b *baseline) get() CommittedState {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.c
}

func (b *baseline) set(c CommittedState) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.c = c
}

// committedOrDefault is the state an entry returns to on reset.
func committedOrDefault(codec Codec, c CommittedState) Value {
	if c.InitialState == nil {
		return codec.Default()
	}
	return c.InitialState.Clone()
}

// localSource owns the state and runs the autosave transition after every mutation.
type localSource struct {
	codec    Codec
	base     *baseline
	autosave *Autosaver

	mu    sync.Mutex
	state Value
}

func newLocalSource(codec Codec, base *baseline, autosave *Autosaver, initial Value) *localSource {
	return &localSource{codec: codec, base: base, autosave: autosave, state: initial}
}

func (s *localSource) Read() Value {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

func (s *localSource) Mutate(ctx context.Context, fn func(Value) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.state.Clone()
	if err := fn(next); err != nil {
		return err
	}
	s.state = next

	committed := s.base.get()
	return s.autosave.Apply(ctx, next, HasChanged(s.codec, committed.InitialState, next), committed.TreeKey)
}

func (s *localSource) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = committedOrDefault(s.codec, s.base.get())
	return s.autosave.Discard(ctx)
}

// replace swaps the state without touching the draft store.
func (s *localSource) replace(v Value) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = v
}

// attach swaps the autosaver, e.g. after the entry was renamed.
func (s *localSource) attach(a *Autosaver) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.autosave = a
}

func (s *localSource) Collaborative() bool {
	return false
}
