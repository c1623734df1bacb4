package core

import (
	"context"
	"fmt"
	"log/slog"
)

// DocumentKey is the collaborative document key of an entry on a branch.
func DocumentKey(branch string, id EntryIdentity) string {
	return branch + "/" + id.Key()
}

// OpenCollaborative resolves the shared document of id on branch, waits for it to load,
// and seeds it from committed state (or the schema default) when it is empty. Seeding
// runs in a single transaction that only writes into an empty document, so concurrent
// sessions seed it exactly once.
func OpenCollaborative(ctx context.Context, transport CollabTransport, branch string, id EntryIdentity, codec Codec, committed CommittedState, logger *slog.Logger) (Document, error) {
	if logger == nil {
		logger = discardLogger()
	}
	key := DocumentKey(branch, id)
	doc, err := transport.Document(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("resolve document %s: %w", key, err)
	}
	if err := doc.Load(ctx); err != nil {
		return nil, fmt.Errorf("load document %s: %w", key, err)
	}
	if err := doc.WhenLoaded(ctx); err != nil {
		return nil, fmt.Errorf("wait for document %s: %w", key, err)
	}

	seed := committedOrDefault(codec, committed)
	seeded := false
	err = doc.Transact(ctx, func(tx DocTx) error {
		seeded = false
		if tx.Len() > 0 {
			return nil
		}
		for _, field := range codec.Fields() {
			tx.Set(field, seed[field])
		}
		seeded = true
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("seed document %s: %w", key, err)
	}
	if seeded {
		logger.Info("seeded collaborative document", "key", key, "fields", len(codec.Fields()))
	}
	return doc, nil
}

// collabSource adapts a shared document to the Source contract. Edits are persisted by
// the transport, never by the draft store.
type collabSource struct {
	doc    Document
	codec  Codec
	base   *baseline
	logger *slog.Logger
}

func newCollabSource(doc Document, codec Codec, base *baseline, logger *slog.Logger) *collabSource {
	return &collabSource{doc: doc, codec: codec, base: base, logger: logger}
}

func (s *collabSource) Read() Value {
	snap := s.doc.Snapshot()
	out := make(Value, len(s.codec.Fields()))
	for _, field := range s.codec.Fields() {
		out[field] = snap[field]
	}
	return out
}

func (s *collabSource) Mutate(ctx context.Context, fn func(Value) error) error {
	return s.doc.Transact(ctx, func(tx DocTx) error {
		cur := make(Value, len(s.codec.Fields()))
		for _, field := range s.codec.Fields() {
			v, _ := tx.Get(field)
			cur[field] = v
		}
		next := cur.Clone()
		if err := fn(next); err != nil {
			return err
		}
		for _, field := range ChangedFields(s.codec, cur, next) {
			tx.Set(field, next[field])
		}
		return nil
	})
}

// Reset overwrites every top-level field with the baseline in one transaction, waits
// until the transport acknowledged it, then asks all observers to re-read the document.
func (s *collabSource) Reset(ctx context.Context) error {
	seed := committedOrDefault(s.codec, s.base.get())
	err := s.doc.Transact(ctx, func(tx DocTx) error {
		for _, field := range s.codec.Fields() {
			tx.Set(field, seed[field])
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("reset document %s: %w", s.doc.Key(), err)
	}
	if err := s.doc.WhenSynced(ctx); err != nil {
		return fmt.Errorf("sync document %s: %w", s.doc.Key(), err)
	}
	return s.doc.SignalResync(ctx)
}

func (s *collabSource) Collaborative() bool {
	return true
}
