package core

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Autosaver persists local edits of one entry to the DraftStore.
// Apply is the explicit transition run after every accepted local mutation.
type Autosaver struct {
	id       EntryIdentity
	codec    Codec
	drafts   DraftStore
	basePath func(Value) string
	now      func() time.Time
	logger   *slog.Logger
	notify   func(Event)

	mu   sync.Mutex
	last *DraftRecord
}

// AutosaverOption configures an Autosaver.
type AutosaverOption func(*Autosaver)

// WithClock overrides the time source used for SavedAt.
func WithClock(now func() time.Time) AutosaverOption {
	return func(a *Autosaver) {
		a.now = now
	}
}

// WithAutosaveLogger sets the logger.
func WithAutosaveLogger(logger *slog.Logger) AutosaverOption {
	return func(a *Autosaver) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithEventSink receives DRAFT_SAVED and DRAFT_DELETED events.
func WithEventSink(fn func(Event)) AutosaverOption {
	return func(a *Autosaver) {
		a.notify = fn
	}
}

// NewAutosaver creates an Autosaver for id. basePath maps a state to the base path its
// files are serialized under. last is the draft currently stored, if known.
func NewAutosaver(id EntryIdentity, codec Codec, drafts DraftStore, basePath func(Value) string, last *DraftRecord, opts ...AutosaverOption) *Autosaver {
	a := &Autosaver{
		id:       id,
		codec:    codec,
		drafts:   drafts,
		basePath: basePath,
		now:      time.Now,
		logger:   discardLogger(),
		last:     last,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Apply stores state as the draft when changed is true and deletes the draft otherwise.
// A draft identical to the last stored one is not rewritten.
func (a *Autosaver) Apply(ctx context.Context, state Value, changed bool, treeKey string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !changed {
		if err := a.drafts.Delete(ctx, a.id); err != nil {
			return fmt.Errorf("delete draft %s: %w", a.id, err)
		}
		if a.last != nil {
			a.logger.Debug("draft cleared, baseline reached", "entry", a.id.Key())
			a.emit(EventDraftDeleted, treeKey)
		}
		a.last = nil
		return nil
	}

	files, err := a.codec.Serialize(state, a.basePath(state))
	if err != nil {
		return fmt.Errorf("serialize draft %s: %w", a.id, err)
	}
	record := DraftRecord{
		Version:       DraftVersion,
		BeforeTreeKey: treeKey,
		Files:         FilesMap(files),
	}
	if a.last != nil && a.last.SameContent(record) {
		return nil
	}
	record.SavedAt = a.now().UTC()

	if err := a.drafts.Set(ctx, a.id, record); err != nil {
		return fmt.Errorf("save draft %s: %w", a.id, err)
	}
	a.last = &record
	a.logger.Debug("draft saved", "entry", a.id.Key(), "files", len(record.Files))
	a.emit(EventDraftSaved, treeKey)
	return nil
}

// Discard deletes the stored draft regardless of state.
func (a *Autosaver) Discard(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.drafts.Delete(ctx, a.id); err != nil {
		return fmt.Errorf("delete draft %s: %w", a.id, err)
	}
	a.last = nil
	return nil
}

// Last returns the last draft written or restored.
func (a *Autosaver) Last() *DraftRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.last
}

func (a *Autosaver) emit(t EventType, treeKey string) {
	if a.notify != nil {
		a.notify(newEvent(t, a.id.Key(), treeKey))
	}
}
