package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/aretw0/tilth/pkg/core"
)

// Transport is an in-process collaboration transport. Every Document call returns a new
// handle onto the shared state of the key, as if opened by a separate client.
type Transport struct {
	mu   sync.Mutex
	docs map[string]*docState
}

// NewTransport creates an empty Transport.
func NewTransport() *Transport {
	return &Transport{docs: make(map[string]*docState)}
}

// Document implements core.CollabTransport.
func (t *Transport) Document(ctx context.Context, key string) (core.Document, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.docs[key]
	if !ok {
		st = &docState{fields: make(core.Value), subs: make(map[string]chan struct{})}
		t.docs[key] = st
	}
	return &document{key: key, state: st}, nil
}

// Fields returns a copy of the stored fields of key, or nil when the key is unknown.
func (t *Transport) Fields(key string) core.Value {
	t.mu.Lock()
	st, ok := t.docs[key]
	t.mu.Unlock()
	if !ok {
		return nil
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.fields.Clone()
}

// Resyncs returns how many resync signals were sent on key.
func (t *Transport) Resyncs(key string) int {
	t.mu.Lock()
	st, ok := t.docs[key]
	t.mu.Unlock()
	if !ok {
		return 0
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.resyncs
}

type docState struct {
	mu      sync.Mutex
	fields  core.Value
	subs    map[string]chan struct{}
	resyncs int
}

func (st *docState) notifyLocked() {
	for _, ch := range st.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

type document struct {
	key   string
	state *docState
}

func (d *document) Key() string { return d.key }

func (d *document) Load(ctx context.Context) error { return ctx.Err() }

func (d *document) WhenLoaded(ctx context.Context) error { return ctx.Err() }

func (d *document) WhenSynced(ctx context.Context) error { return ctx.Err() }

func (d *document) Transact(ctx context.Context, fn func(tx core.DocTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.state.mu.Lock()
	defer d.state.mu.Unlock()

	tx := &memTx{base: d.state.fields, writes: make(map[string]any)}
	if err := fn(tx); err != nil {
		return err
	}
	if len(tx.writes) == 0 {
		return nil
	}
	for k, v := range tx.writes {
		d.state.fields[k] = v
	}
	d.state.notifyLocked()
	return nil
}

func (d *document) Snapshot() core.Value {
	d.state.mu.Lock()
	defer d.state.mu.Unlock()
	return d.state.fields.Clone()
}

func (d *document) Subscribe() (<-chan struct{}, func()) {
	id := uuid.NewString()
	ch := make(chan struct{}, 1)
	d.state.mu.Lock()
	d.state.subs[id] = ch
	d.state.mu.Unlock()
	return ch, func() {
		d.state.mu.Lock()
		defer d.state.mu.Unlock()
		delete(d.state.subs, id)
	}
}

func (d *document) SignalResync(ctx context.Context) error {
	d.state.mu.Lock()
	defer d.state.mu.Unlock()
	d.state.resyncs++
	d.state.notifyLocked()
	return nil
}

// memTx buffers writes so a failing transaction leaves the document untouched.
type memTx struct {
	base   core.Value
	writes map[string]any
}

func (tx *memTx) Get(field string) (any, bool) {
	if v, ok := tx.writes[field]; ok {
		return v, true
	}
	v, ok := tx.base[field]
	return v, ok
}

func (tx *memTx) Set(field string, v any) {
	tx.writes[field] = v
}

func (tx *memTx) Len() int {
	n := len(tx.base)
	for k := range tx.writes {
		if _, ok := tx.base[k]; !ok {
			n++
		}
	}
	return n
}

var _ core.CollabTransport = (*Transport)(nil)
