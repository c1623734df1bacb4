// Package typed offers a struct view over entry sessions. Values are converted through
// their JSON form, so struct fields use json tags named after the schema fields.
package typed

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aretw0/tilth/pkg/core"
)

// Entry is a typed view of a committed entry.
type Entry[T any] struct {
	ID     core.EntryIdentity
	Data   T
	Exists bool
}

// Service wraps a core.Service to provide type-safe access.
type Service[T any] struct {
	svc *core.Service
}

// NewService creates a new typed service wrapper.
func NewService[T any](svc *core.Service) *Service[T] {
	return &Service[T]{svc: svc}
}

// Get loads the committed state of id. A missing entry yields the schema default with
// Exists false.
func (s *Service[T]) Get(ctx context.Context, id core.EntryIdentity) (*Entry[T], error) {
	committed, cfg, err := s.svc.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	value := committed.InitialState
	if value == nil {
		value = cfg.Codec.Default()
	}
	data, err := decode[T](value)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", id, err)
	}
	return &Entry[T]{ID: id, Data: data, Exists: committed.Exists()}, nil
}

// List returns every entry of a collection.
func (s *Service[T]) List(ctx context.Context, collection string) ([]*Entry[T], error) {
	slugs, err := s.svc.List(ctx, collection)
	if err != nil {
		return nil, err
	}
	result := make([]*Entry[T], 0, len(slugs))
	for _, slug := range slugs {
		id := core.CollectionEntry(collection, slug)
		entry, err := s.Get(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to process entry %s: %w", id, err)
		}
		result = append(result, entry)
	}
	return result, nil
}

// Open opens the editing session of id.
func (s *Service[T]) Open(ctx context.Context, id core.EntryIdentity) (*Session[T], error) {
	sess, err := s.svc.Open(ctx, id)
	if err != nil {
		return nil, err
	}
	return &Session[T]{sess: sess}, nil
}

// Session is a typed view of a core.Session.
type Session[T any] struct {
	sess *core.Session
}

// Raw returns the underlying session.
func (s *Session[T]) Raw() *core.Session {
	return s.sess
}

// Get decodes the editable state.
func (s *Session[T]) Get() (T, error) {
	return decode[T](s.sess.State())
}

// Set replaces the fields present in the JSON form of v.
func (s *Session[T]) Set(ctx context.Context, v T) error {
	fields, err := encode(v)
	if err != nil {
		return err
	}
	return s.sess.Mutate(ctx, func(state core.Value) error {
		for k, val := range fields {
			state[k] = val
		}
		return nil
	})
}

// Edit decodes the state, applies fn and writes the result back.
func (s *Session[T]) Edit(ctx context.Context, fn func(*T) error) error {
	v, err := s.Get()
	if err != nil {
		return err
	}
	if err := fn(&v); err != nil {
		return err
	}
	return s.Set(ctx, v)
}

// Update submits the state. See core.Session.Update.
func (s *Session[T]) Update(ctx context.Context, opts core.UpdateOptions) (core.UpdateResult, error) {
	return s.sess.Update(ctx, opts)
}

// HasChanged reports whether the state differs from the committed baseline.
func (s *Session[T]) HasChanged() bool {
	return s.sess.HasChanged()
}

func encode[T any](v T) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal typed data: %w", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("failed to convert typed data to map: %w", err)
	}
	return fields, nil
}

func decode[T any](value core.Value) (T, error) {
	var out T
	data, err := json.Marshal(value)
	if err != nil {
		return out, fmt.Errorf("state marshal failed: %w", err)
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("unmarshal to target type failed: %w", err)
	}
	return out, nil
}
