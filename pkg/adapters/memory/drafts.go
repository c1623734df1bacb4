// Package memory provides in-process implementations of the draft store and the
// collaboration transport. They back tests and single-process editing sessions.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/aretw0/tilth/pkg/core"
)

// DraftStore keeps encoded drafts in a map.
type DraftStore struct {
	mu     sync.RWMutex
	drafts map[string]storedDraft
}

type storedDraft struct {
	id   core.EntryIdentity
	data []byte
}

// NewDraftStore creates an empty DraftStore.
func NewDraftStore() *DraftStore {
	return &DraftStore{drafts: make(map[string]storedDraft)}
}

// Get implements core.DraftStore.
func (s *DraftStore) Get(ctx context.Context, id core.EntryIdentity) (*core.DraftRecord, error) {
	s.mu.RLock()
	stored, ok := s.drafts[id.Key()]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	return core.DecodeDraft(stored.data)
}

// Set implements core.DraftStore.
func (s *DraftStore) Set(ctx context.Context, id core.EntryIdentity, d core.DraftRecord) error {
	data, err := core.EncodeDraft(d)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drafts[id.Key()] = storedDraft{id: id, data: data}
	return nil
}

// Delete implements core.DraftStore.
func (s *DraftStore) Delete(ctx context.Context, id core.EntryIdentity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.drafts, id.Key())
	return nil
}

// List implements core.DraftStore.
func (s *DraftStore) List(ctx context.Context) ([]core.EntryIdentity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]core.EntryIdentity, 0, len(s.drafts))
	for _, d := range s.drafts {
		ids = append(ids, d.id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].Key() < ids[j].Key() })
	return ids, nil
}

// PutRaw stores raw bytes for id, bypassing encoding.
func (s *DraftStore) PutRaw(id core.EntryIdentity, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drafts[id.Key()] = storedDraft{id: id, data: data}
}

// Len returns the number of stored drafts.
func (s *DraftStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.drafts)
}

var _ core.DraftStore = (*DraftStore)(nil)
