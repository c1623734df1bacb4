package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/aretw0/lifecycle"
)

// Snapshot is the observable state of an entry session.
type Snapshot struct {
	Entry         EntryIdentity
	State         Value
	HasChanged    bool
	UpdateResult  UpdateResult
	Notice        RestoreNotice
	Diagnostic    error
	Collaborative bool
	TreeKey       string
	Branch        string
}

// Session is the editing session of one entry. It owns exactly one Source.
type Session struct {
	svc         *Service
	cfg         EntryConfig
	base        *baseline
	coordinator *UpdateCoordinator
	logger      *slog.Logger

	mu         sync.Mutex
	id         EntryIdentity
	source     Source
	local      *localSource
	autosaver  *Autosaver
	doc        Document
	stopDoc    context.CancelFunc
	notice     RestoreNotice
	diagnostic error
	result     UpdateResult
	subs       map[int]chan Snapshot
	nextSub    int
	closed     bool
}

func newSession(svc *Service, id EntryIdentity, cfg EntryConfig, committed CommittedState) *Session {
	s := &Session{
		svc:    svc,
		cfg:    cfg,
		base:   &baseline{c: committed},
		logger: svc.logger.With("entry", id.Key()),
		id:     id,
		result: UpdateResult{Status: StatusIdle},
		subs:   make(map[int]chan Snapshot),
	}
	s.coordinator = NewUpdateCoordinator(id, cfg.Codec, svc.store, s.logger)
	s.coordinator.OnChange(func(r UpdateResult) {
		s.mu.Lock()
		s.result = r
		s.mu.Unlock()
		s.publish()
	})
	s.coordinator.OnSuccess(s.committed)
	return s
}

// openLocal reconciles committed state with the stored draft and attaches autosave.
func (s *Session) openLocal(ctx context.Context) error {
	committed := s.base.get()
	draft, err := s.svc.drafts.Get(ctx, s.id)
	if err != nil {
		return fmt.Errorf("load draft %s: %w", s.id, err)
	}
	rec := NewReconciler(s.cfg.Codec, s.svc.drafts, s.logger).ReconcileWith(ctx, s.id, committed, draft)
	if rec.Diagnostic != nil {
		draft = nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.autosaver = s.newAutosaver(s.id, draft)
	s.local = newLocalSource(s.cfg.Codec, s.base, s.autosaver, rec.State)
	s.source = s.local
	s.notice = rec.Notice
	s.diagnostic = rec.Diagnostic
	return nil
}

func (s *Session) newAutosaver(id EntryIdentity, last *DraftRecord) *Autosaver {
	return NewAutosaver(id, s.cfg.Codec, s.svc.drafts,
		func(v Value) string { return s.cfg.PathFor(id, v) },
		last,
		WithClock(s.svc.now),
		WithAutosaveLogger(s.logger),
		WithEventSink(s.svc.emit),
	)
}

// openCollaborative attaches the session to the shared document of the entry.
func (s *Session) openCollaborative(ctx context.Context) error {
	committed := s.base.get()
	s.mu.Lock()
	id := s.id
	s.mu.Unlock()

	doc, err := OpenCollaborative(ctx, s.svc.collab, committed.Branch, id, s.cfg.Codec, committed, s.logger)
	if err != nil {
		return err
	}

	watchCtx, cancel := context.WithCancel(context.Background())
	updates, release := doc.Subscribe()
	lifecycle.Go(watchCtx, func(ctx context.Context) error {
		defer release()
		for {
			select {
			case <-ctx.Done():
				return nil
			case _, ok := <-updates:
				if !ok {
					return nil
				}
				s.publish()
			}
		}
	}, lifecycle.WithErrorHandler(func(err error) {
		s.logger.Error("document listener failed", "error", err)
	}))

	s.mu.Lock()
	if s.stopDoc != nil {
		s.stopDoc()
	}
	s.doc = doc
	s.stopDoc = cancel
	s.source = newCollabSource(doc, s.cfg.Codec, s.base, s.logger)
	s.local = nil
	s.autosaver = nil
	s.mu.Unlock()
	return nil
}

// Entry returns the identity of the entry. It changes when a commit renames the entry.
func (s *Session) Entry() EntryIdentity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// Committed returns the committed baseline.
func (s *Session) Committed() CommittedState {
	return s.base.get()
}

// Snapshot returns the current observable state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	src := s.source
	snap := Snapshot{
		Entry:        s.id,
		UpdateResult: s.result,
		Notice:       s.notice,
		Diagnostic:   s.diagnostic,
	}
	s.mu.Unlock()

	committed := s.base.get()
	snap.State = src.Read()
	snap.HasChanged = HasChanged(s.cfg.Codec, committed.InitialState, snap.State)
	snap.Collaborative = src.Collaborative()
	snap.TreeKey = committed.TreeKey
	snap.Branch = committed.Branch
	return snap
}

// State returns a copy of the editable state.
func (s *Session) State() Value {
	return s.currentSource().Read()
}

// HasChanged reports whether the state differs from the committed baseline.
func (s *Session) HasChanged() bool {
	return HasChanged(s.cfg.Codec, s.base.get().InitialState, s.State())
}

// UpdateResult returns the Update Coordinator state.
func (s *Session) UpdateResult() UpdateResult {
	return s.coordinator.Result()
}

// Subscribe returns a channel receiving the latest snapshot after every change.
// Slow readers only observe the most recent snapshot.
func (s *Session) Subscribe() (<-chan Snapshot, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan Snapshot, 1)
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if c, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(c)
		}
	}
}

func (s *Session) publish() {
	s.mu.Lock()
	if len(s.subs) == 0 || s.closed {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	snap := s.Snapshot()

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subs {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snap:
		default:
		}
	}
}

// Set assigns one top-level field.
func (s *Session) Set(ctx context.Context, field string, value any) error {
	if !hasField(s.cfg.Codec, field) {
		return fmt.Errorf("unknown field %q", field)
	}
	return s.Mutate(ctx, func(v Value) error {
		v[field] = value
		return nil
	})
}

// Mutate applies fn to the editable state.
func (s *Session) Mutate(ctx context.Context, fn func(Value) error) error {
	if err := s.currentSource().Mutate(ctx, fn); err != nil {
		return err
	}
	s.publish()
	return nil
}

// Reset returns the state to the committed baseline and clears the draft.
func (s *Session) Reset(ctx context.Context) error {
	if err := s.currentSource().Reset(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	s.notice = NoticeNone
	s.diagnostic = nil
	key := s.id.Key()
	s.mu.Unlock()
	s.svc.emit(newEvent(EventResync, key, s.base.get().TreeKey))
	s.publish()
	return nil
}

// Update validates the state and submits it through the Update Coordinator.
// A *ValidationError is returned without reaching the coordinator.
func (s *Session) Update(ctx context.Context, opts UpdateOptions) (UpdateResult, error) {
	if !opts.retry() {
		if err := s.cfg.Codec.Validate(s.State()); err != nil {
			return s.coordinator.Result(), err
		}
	}
	result := s.coordinator.Update(ctx, func() UpdateInput {
		s.mu.Lock()
		id := s.id
		s.mu.Unlock()
		state := s.State()
		return UpdateInput{
			State:     state,
			BasePath:  s.cfg.PathFor(id, state),
			Committed: s.base.get(),
		}
	}, opts)
	return result, nil
}

// ResetUpdateItem dismisses an error or dialog state. It has no effect while loading.
func (s *Session) ResetUpdateItem() bool {
	return s.coordinator.Reset()
}

// CreateBranch creates name from the branch oid reported by a needs-new-branch result
// and retries the pending update against it.
func (s *Session) CreateBranch(ctx context.Context, name string) (UpdateResult, error) {
	current := s.coordinator.Result()
	if current.Status != StatusNeedsNewBranch {
		return current, fmt.Errorf("no branch creation pending (status %s)", current.Status)
	}
	creator, ok := s.svc.store.(BranchCreator)
	if !ok {
		return current, fmt.Errorf("create branch: %w", ErrUnsupported)
	}
	if err := creator.CreateBranch(ctx, name, current.BranchOid); err != nil {
		return current, fmt.Errorf("create branch %s: %w", name, err)
	}
	s.logger.Info("created branch for update", "branch", name, "from", current.BranchOid)
	return s.Update(ctx, UpdateOptions{Branch: name, SHA: current.BranchOid})
}

// Fork forks the repository after a needs-fork result and retries the pending update.
func (s *Session) Fork(ctx context.Context) (UpdateResult, error) {
	current := s.coordinator.Result()
	if current.Status != StatusNeedsFork {
		return current, fmt.Errorf("no fork pending (status %s)", current.Status)
	}
	forker, ok := s.svc.store.(Forker)
	if !ok {
		return current, fmt.Errorf("fork: %w", ErrUnsupported)
	}
	if err := forker.Fork(ctx); err != nil {
		return current, fmt.Errorf("fork: %w", err)
	}
	committed := s.base.get()
	return s.Update(ctx, UpdateOptions{Branch: committed.Branch, SHA: committed.BaseSHA})
}

// Refresh reloads the committed state. When the tree key changed and no draft is
// stored, the editable state is replaced by the new committed state. A branch change
// re-attaches collaborative sessions to the document of the new branch.
func (s *Session) Refresh(ctx context.Context) error {
	s.mu.Lock()
	id := s.id
	s.mu.Unlock()

	committed, _, err := s.svc.Load(ctx, id)
	if err != nil {
		return err
	}
	previous := s.base.get()
	if committed.TreeKey == previous.TreeKey && committed.Branch == previous.Branch {
		return nil
	}
	s.base.set(committed)
	s.logger.Debug("committed state refreshed", "tree", committed.TreeKey, "branch", committed.Branch)

	if s.currentSource().Collaborative() {
		if committed.Branch != previous.Branch {
			if err := s.openCollaborative(ctx); err != nil {
				return err
			}
		}
		s.publish()
		return nil
	}

	draft, err := s.svc.drafts.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("load draft %s: %w", id, err)
	}
	if draft == nil {
		s.mu.Lock()
		s.local.replace(committedOrDefault(s.cfg.Codec, committed))
		s.notice = NoticeNone
		s.mu.Unlock()
	} else if draft.Stale(committed.TreeKey) {
		s.mu.Lock()
		s.notice = NoticeRestoredTreeChanged
		s.mu.Unlock()
	}
	s.publish()
	return nil
}

// Close releases subscriptions and detaches the session from the service.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	if s.stopDoc != nil {
		s.stopDoc()
	}
	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
	key := s.id.Key()
	s.mu.Unlock()
	s.svc.forget(key, s)
}

// committed is the success hook of the coordinator: it promotes the submitted state to
// the committed baseline, drops the draft, follows renames and new branches, and
// resynchronizes collaborative observers.
func (s *Session) committed(ctx context.Context, ok UpdateSuccess) {
	previous := s.base.get()
	contents := FilesMap(ok.Files)
	paths := make([]string, 0, len(ok.Files))
	for _, f := range ok.Files {
		paths = append(paths, f.Path)
	}
	treeKey := ok.Result.TreeKey
	if treeKey == "" {
		treeKey = previous.TreeKey
	}
	sha := ok.Result.SHA
	if sha == "" {
		sha = previous.BaseSHA
	}
	s.base.set(CommittedState{
		InitialState:    ok.State.Clone(),
		InitialFiles:    paths,
		InitialContents: contents,
		TreeKey:         treeKey,
		BaseSHA:         sha,
		Branch:          ok.Branch,
	})
	if ok.Branch != previous.Branch {
		s.svc.follow(ok.Branch)
	}

	s.mu.Lock()
	oldID := s.id
	newID := oldID
	if oldID.Kind == KindCollection && ok.BasePath != s.cfg.BasePath(oldID.Slug) {
		if slug, isStr := ok.State[s.cfg.Codec.SlugField()].(string); isStr && slug != "" {
			newID.Slug = slug
		}
	}
	collaborative := s.source.Collaborative()
	s.notice = NoticeNone
	s.diagnostic = nil
	s.mu.Unlock()

	if newID != oldID {
		s.rename(ctx, oldID, newID)
	}

	if collaborative {
		if newID != oldID || ok.Branch != previous.Branch {
			if err := s.openCollaborative(ctx); err != nil {
				s.logger.Error("failed to reattach document after commit", "branch", ok.Branch, "error", err)
			}
		} else if err := s.currentDoc().SignalResync(ctx); err != nil {
			s.logger.Error("failed to signal resync after commit", "error", err)
		}
	} else {
		// Edits made while the submit was in flight keep their draft.
		state := s.State()
		changed := HasChanged(s.cfg.Codec, ok.State, state)
		if err := s.currentAutosaver().Apply(ctx, state, changed, treeKey); err != nil {
			s.logger.Error("failed to settle draft after commit", "error", err)
		}
	}

	s.logger.Info("update committed", "sha", sha, "branch", ok.Branch)
	s.svc.emit(newEvent(EventCommitted, newID.Key(), treeKey))
}

func (s *Session) rename(ctx context.Context, oldID, newID EntryIdentity) {
	if err := s.svc.drafts.Delete(ctx, oldID); err != nil {
		s.logger.Error("failed to delete draft of renamed entry", "error", err)
	}
	s.coordinator.Rebind(newID)
	s.mu.Lock()
	s.id = newID
	local := s.local
	var autosaver *Autosaver
	if local != nil {
		autosaver = s.newAutosaver(newID, nil)
		s.autosaver = autosaver
	}
	s.mu.Unlock()
	if local != nil {
		local.attach(autosaver)
	}
	s.svc.rekey(oldID.Key(), newID.Key(), s)
	s.logger.Info("entry renamed", "from", oldID.Key(), "to", newID.Key())
}

func (s *Session) currentSource() Source {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.source
}

func (s *Session) currentDoc() Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc
}

func (s *Session) currentAutosaver() *Autosaver {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.autosaver
}

func hasField(codec Codec, field string) bool {
	for _, f := range codec.Fields() {
		if f == field {
			return true
		}
	}
	return false
}

// IsRecoverable reports whether err is one of the conditions the UI resolves locally.
func IsRecoverable(err error) bool {
	var diverged *BranchDivergedError
	var validation *ValidationError
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrDraftCorrupt) ||
		errors.Is(err, ErrNeedsFork) || errors.As(err, &diverged) || errors.As(err, &validation)
}
