package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aretw0/lifecycle"
)

// Service loads entries and hands out their editing sessions.
type Service struct {
	registry Registry
	store    BackingStore
	drafts   DraftStore
	collab   CollabTransport
	logger   *slog.Logger
	now      func() time.Time

	mu       sync.RWMutex
	branch   string
	sessions map[string]*Session
	events   chan Event
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithLogger sets the logger of the service and its sessions.
func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithBranch sets the branch entries are loaded from and committed to.
func WithBranch(branch string) ServiceOption {
	return func(s *Service) {
		s.branch = branch
	}
}

// WithCollaboration makes sessions edit shared documents of transport instead of
// local drafts.
func WithCollaboration(transport CollabTransport) ServiceOption {
	return func(s *Service) {
		s.collab = transport
	}
}

// WithEventBuffer enables the Events channel with the given buffer size.
func WithEventBuffer(size int) ServiceOption {
	return func(s *Service) {
		if size > 0 {
			s.events = make(chan Event, size)
		}
	}
}

// WithNow overrides the clock used for draft timestamps.
func WithNow(now func() time.Time) ServiceOption {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService creates a new Service.
func NewService(registry Registry, store BackingStore, drafts DraftStore, opts ...ServiceOption) *Service {
	s := &Service{
		registry: registry,
		store:    store,
		drafts:   drafts,
		logger:   discardLogger(),
		now:      time.Now,
		sessions: make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Branch returns the current branch.
func (s *Service) Branch() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.branch
}

// Collaborative reports whether sessions use shared documents.
func (s *Service) Collaborative() bool {
	return s.collab != nil
}

// Store returns the backing store.
func (s *Service) Store() BackingStore {
	return s.store
}

// Load reads the committed state of id. A missing entry yields creation mode.
func (s *Service) Load(ctx context.Context, id EntryIdentity) (CommittedState, EntryConfig, error) {
	if err := id.Validate(); err != nil {
		return CommittedState{}, EntryConfig{}, err
	}
	cfg, err := s.registry.Resolve(id)
	if err != nil {
		return CommittedState{}, EntryConfig{}, err
	}
	branch := s.Branch()
	basePath := cfg.BasePath(id.Slug)

	res, err := s.store.Load(ctx, branch, basePath)
	committed := CommittedState{TreeKey: res.TreeKey, BaseSHA: res.BaseSHA, Branch: branch}
	if res.Branch != "" {
		committed.Branch = res.Branch
	}
	if errors.Is(err, ErrNotFound) {
		s.logger.Debug("entry not found, creation mode", "entry", id.Key(), "path", basePath)
		return committed, cfg, nil
	}
	if err != nil {
		return CommittedState{}, EntryConfig{}, fmt.Errorf("load %s: %w", id, err)
	}

	value, err := cfg.Codec.Parse(res.Files)
	if err != nil {
		return CommittedState{}, EntryConfig{}, fmt.Errorf("parse %s: %w", id, err)
	}
	committed.InitialState = value
	committed.InitialContents = res.Files
	for p := range res.Files {
		committed.InitialFiles = append(committed.InitialFiles, p)
	}
	sort.Strings(committed.InitialFiles)
	return committed, cfg, nil
}

// Open returns the session of id, creating it on first use.
func (s *Service) Open(ctx context.Context, id EntryIdentity) (*Session, error) {
	s.mu.RLock()
	existing, ok := s.sessions[id.Key()]
	s.mu.RUnlock()
	if ok {
		return existing, nil
	}

	committed, cfg, err := s.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	sess := newSession(s, id, cfg, committed)
	if s.collab != nil {
		err = sess.openCollaborative(ctx)
	} else {
		err = sess.openLocal(ctx)
	}
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if existing, ok := s.sessions[id.Key()]; ok {
		s.mu.Unlock()
		sess.Close()
		return existing, nil
	}
	s.sessions[id.Key()] = sess
	s.mu.Unlock()
	s.logger.Debug("session opened", "entry", id.Key(), "collaborative", s.collab != nil)
	return sess, nil
}

// SwitchBranch changes the current branch and refreshes every open session.
func (s *Service) SwitchBranch(ctx context.Context, branch string) error {
	s.mu.Lock()
	s.branch = branch
	s.mu.Unlock()
	s.logger.Info("switched branch", "branch", branch)
	return s.RefreshAll(ctx)
}

// follow moves the service to branch without refreshing the open sessions.
func (s *Service) follow(branch string) {
	s.mu.Lock()
	moved := s.branch != branch
	s.branch = branch
	s.mu.Unlock()
	if moved {
		s.logger.Info("following branch", "branch", branch)
	}
}

// RefreshAll refreshes every open session.
func (s *Service) RefreshAll(ctx context.Context) error {
	var errs []error
	for _, sess := range s.openSessions() {
		if err := sess.Refresh(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// List returns the slugs of the entries of a collection.
func (s *Service) List(ctx context.Context, collection string) ([]string, error) {
	lister, ok := s.store.(Lister)
	if !ok {
		return nil, fmt.Errorf("list %s: %w", collection, ErrUnsupported)
	}
	cfg, err := s.registry.Resolve(CollectionEntry(collection, "*"))
	if err != nil {
		return nil, err
	}
	prefix, suffix, found := strings.Cut(cfg.Pattern, "*")
	if !found {
		return nil, fmt.Errorf("collection %s has no slug placeholder in %q", collection, cfg.Pattern)
	}
	paths, err := lister.List(ctx, s.Branch(), cfg.Pattern+".*")
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", collection, err)
	}

	seen := make(map[string]bool)
	var slugs []string
	for _, p := range paths {
		rest, ok := strings.CutPrefix(p, prefix)
		if !ok {
			continue
		}
		slug, _, nested := strings.Cut(rest, "/")
		if !nested {
			slug = strings.TrimSuffix(slug, path.Ext(slug))
			slug = strings.TrimSuffix(slug, suffix)
		}
		if slug == "" || seen[slug] {
			continue
		}
		seen[slug] = true
		slugs = append(slugs, slug)
	}
	sort.Strings(slugs)
	return slugs, nil
}

// Drafts lists the entries with a stored draft.
func (s *Service) Drafts(ctx context.Context) ([]EntryIdentity, error) {
	return s.drafts.List(ctx)
}

// DiscardDraft deletes the stored draft of id.
func (s *Service) DiscardDraft(ctx context.Context, id EntryIdentity) error {
	if sess, ok := s.session(id.Key()); ok {
		return sess.Reset(ctx)
	}
	return s.drafts.Delete(ctx, id)
}

// Events returns the event channel, or nil unless WithEventBuffer was given.
func (s *Service) Events() <-chan Event {
	return s.events
}

// Watch observes tree changes of the store. Every TREE_CHANGED event refreshes the open
// sessions before it is forwarded.
func (s *Service) Watch(ctx context.Context) (<-chan Event, error) {
	w, ok := s.store.(Watchable)
	if !ok {
		return nil, errors.New("store does not support watching")
	}
	in, err := w.Watch(ctx)
	if err != nil {
		return nil, err
	}
	out := make(chan Event)
	lifecycle.Go(ctx, func(ctx context.Context) error {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return nil
			case e, ok := <-in:
				if !ok {
					return nil
				}
				if e.Type == EventTreeChanged {
					if err := s.RefreshAll(ctx); err != nil {
						s.logger.Error("refresh after tree change failed", "error", err)
					}
				}
				select {
				case out <- e:
				case <-ctx.Done():
					return nil
				}
			}
		}
	}, lifecycle.WithErrorHandler(func(err error) {
		s.logger.Error("watch loop failed", "error", err)
	}))
	return out, nil
}

func (s *Service) emit(e Event) {
	if s.events == nil {
		return
	}
	select {
	case s.events <- e:
	default:
		s.logger.Debug("event dropped, buffer full", "event", e.String())
	}
}

func (s *Service) session(key string) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[key]
	return sess, ok
}

func (s *Service) openSessions() []*Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess)
	}
	return out
}

func (s *Service) forget(key string, sess *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sessions[key] == sess {
		delete(s.sessions, key)
	}
}

func (s *Service) rekey(oldKey, newKey string, sess *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sessions[oldKey] == sess {
		delete(s.sessions, oldKey)
	}
	s.sessions[newKey] = sess
}
