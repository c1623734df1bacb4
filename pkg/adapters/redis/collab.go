package redis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/aretw0/lifecycle"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/aretw0/tilth/pkg/core"
)

// DefaultMaxRetries bounds how often a transaction is re-run after a concurrent write.
const DefaultMaxRetries = 16

const (
	messageUpdate = "update"
	messageResync = "resync"
)

// message is published on the document channel after every write and resync.
type message struct {
	Origin string `json:"origin"`
	Type   string `json:"type"`
}

// Transport shares documents between processes through Redis. Each document is a hash
// of JSON encoded top-level fields.
type Transport struct {
	client     goredis.UniversalClient
	prefix     string
	origin     string
	logger     *slog.Logger
	maxRetries int

	ctx    context.Context
	cancel context.CancelFunc
	loads  singleflight.Group

	mu     sync.Mutex
	docs   map[string]*document
	closed bool
}

// TransportOption configures a Transport.
type TransportOption func(*Transport)

// WithLogger sets the logger of the transport.
func WithLogger(logger *slog.Logger) TransportOption {
	return func(t *Transport) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// WithMaxRetries sets how often a conflicting transaction is retried.
func WithMaxRetries(n int) TransportOption {
	return func(t *Transport) {
		if n >= 0 {
			t.maxRetries = n
		}
	}
}

// NewTransport creates a transport on client. An empty prefix uses DefaultPrefix.
// Close releases the subscriptions.
func NewTransport(client goredis.UniversalClient, prefix string, opts ...TransportOption) *Transport {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	ctx, cancel := context.WithCancel(context.Background())
	t := &Transport{
		client:     client,
		prefix:     prefix + "doc:",
		origin:     uuid.NewString(),
		logger:     slog.New(slog.DiscardHandler),
		maxRetries: DefaultMaxRetries,
		ctx:        ctx,
		cancel:     cancel,
		docs:       make(map[string]*document),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Origin identifies this transport in published messages.
func (t *Transport) Origin() string {
	return t.origin
}

// Document implements core.CollabTransport. Handles are cached per key.
func (t *Transport) Document(ctx context.Context, key string) (core.Document, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, &core.TransportError{Message: "transport closed"}
	}
	d, ok := t.docs[key]
	if !ok {
		d = &document{
			t:       t,
			key:     key,
			hashKey: t.prefix + key,
			channel: t.prefix + key + ":events",
			loaded:  make(chan struct{}),
			fields:  make(core.Value),
			subs:    make(map[string]chan struct{}),
		}
		t.docs[key] = d
	}
	return d, nil
}

// Close stops every listener and closes the subscriptions.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	docs := make([]*document, 0, len(t.docs))
	for _, d := range t.docs {
		docs = append(docs, d)
	}
	t.mu.Unlock()

	t.cancel()
	var errs []error
	for _, d := range docs {
		if err := d.close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// TransportState exposes internal state for observability.
type TransportState struct {
	Origin    string   `json:"origin"`
	Documents []string `json:"documents"`
	Closed    bool     `json:"closed"`
}

// State implements introspection.Introspectable.
func (t *Transport) State() any {
	t.mu.Lock()
	defer t.mu.Unlock()
	keys := make([]string, 0, len(t.docs))
	for k := range t.docs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return TransportState{Origin: t.origin, Documents: keys, Closed: t.closed}
}

// ComponentType implements introspection.Component.
func (t *Transport) ComponentType() string {
	return "redis-transport"
}

type document struct {
	t       *Transport
	key     string
	hashKey string
	channel string
	loaded  chan struct{}

	mu     sync.RWMutex
	ready  bool
	fields core.Value
	subs   map[string]chan struct{}
	pubsub *goredis.PubSub
}

func (d *document) Key() string {
	return d.key
}

// Load subscribes to the document channel, then reads the hash. Concurrent loads of the
// same key share one round trip.
func (d *document) Load(ctx context.Context) error {
	d.mu.RLock()
	ready := d.ready
	d.mu.RUnlock()
	if ready {
		return nil
	}
	_, err, _ := d.t.loads.Do(d.hashKey, func() (any, error) {
		return nil, d.load(ctx)
	})
	return err
}

func (d *document) load(ctx context.Context) error {
	if err := d.subscribe(ctx); err != nil {
		return err
	}
	fields, err := d.fetch(ctx, d.t.client)
	if err != nil {
		return err
	}

	d.mu.Lock()
	d.fields = fields
	if !d.ready {
		d.ready = true
		close(d.loaded)
	}
	d.notifyLocked()
	d.mu.Unlock()
	d.t.logger.Debug("document loaded", "key", d.key, "fields", len(fields))
	return nil
}

func (d *document) subscribe(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pubsub != nil {
		return nil
	}
	ps := d.t.client.Subscribe(d.t.ctx, d.channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return &core.TransportError{Message: fmt.Sprintf("subscribe %s", d.key), Err: err}
	}
	d.pubsub = ps

	lifecycle.Go(d.t.ctx, func(ctx context.Context) error {
		return d.listen(ctx, ps.Channel())
	}, lifecycle.WithErrorHandler(func(err error) {
		d.t.logger.Error("document listener failed", "key", d.key, "error", err)
	}))
	return nil
}

// listen re-reads the document whenever another origin wrote to it or asked for a resync.
func (d *document) listen(ctx context.Context, ch <-chan *goredis.Message) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var m message
			if err := json.Unmarshal([]byte(msg.Payload), &m); err != nil {
				d.t.logger.Debug("ignoring malformed message", "key", d.key, "error", err)
				continue
			}
			if m.Origin == d.t.origin {
				continue
			}
			fields, err := d.fetch(ctx, d.t.client)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				d.t.logger.Warn("failed to refresh document", "key", d.key, "error", err)
				continue
			}
			d.mu.Lock()
			d.fields = fields
			d.notifyLocked()
			d.mu.Unlock()
			d.t.logger.Debug("document changed remotely", "key", d.key, "type", m.Type, "origin", m.Origin)
		}
	}
}

func (d *document) close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pubsub == nil {
		return nil
	}
	err := d.pubsub.Close()
	d.pubsub = nil
	return err
}

func (d *document) WhenLoaded(ctx context.Context) error {
	select {
	case <-d.loaded:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WhenSynced returns once the document is loaded. Transactions are acknowledged by EXEC
// before Transact returns.
func (d *document) WhenSynced(ctx context.Context) error {
	return d.WhenLoaded(ctx)
}

// Transact runs fn against the current hash under WATCH and applies its writes in one
// MULTI/EXEC. fn is re-run when another client wrote the hash in between.
func (d *document) Transact(ctx context.Context, fn func(tx core.DocTx) error) error {
	payload, err := json.Marshal(message{Origin: d.t.origin, Type: messageUpdate})
	if err != nil {
		return err
	}

	for attempt := 0; attempt <= d.t.maxRetries; attempt++ {
		var (
			fnErr  error
			result core.Value
			wrote  bool
		)
		err := d.t.client.Watch(ctx, func(tx *goredis.Tx) error {
			current, err := d.fetch(ctx, tx)
			if err != nil {
				return err
			}
			dtx := &docTx{base: current, writes: make(map[string]any)}
			if err := fn(dtx); err != nil {
				fnErr = err
				return err
			}
			result = dtx.merged()
			if len(dtx.writes) == 0 {
				return nil
			}
			values, err := encodeFields(dtx.writes)
			if err != nil {
				fnErr = err
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
				pipe.HSet(ctx, d.hashKey, values)
				pipe.Publish(ctx, d.channel, payload)
				return nil
			})
			wrote = err == nil
			return err
		}, d.hashKey)

		if fnErr != nil {
			return fnErr
		}
		if errors.Is(err, goredis.TxFailedErr) {
			d.t.logger.Debug("transaction conflicted, retrying", "key", d.key, "attempt", attempt+1)
			continue
		}
		if err != nil {
			return &core.TransportError{Message: fmt.Sprintf("transact %s", d.key), Err: err}
		}

		d.mu.Lock()
		d.fields = result
		if wrote {
			d.notifyLocked()
		}
		d.mu.Unlock()
		return nil
	}
	return &core.TransportError{
		Message: fmt.Sprintf("transact %s: gave up after %d conflicts", d.key, d.t.maxRetries+1),
		Err:     goredis.TxFailedErr,
	}
}

func (d *document) Snapshot() core.Value {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.fields.Clone()
}

func (d *document) Subscribe() (<-chan struct{}, func()) {
	id := uuid.NewString()
	ch := make(chan struct{}, 1)
	d.mu.Lock()
	d.subs[id] = ch
	d.mu.Unlock()
	return ch, func() {
		d.mu.Lock()
		delete(d.subs, id)
		d.mu.Unlock()
	}
}

// SignalResync notifies local subscribers and asks every other client to re-read.
func (d *document) SignalResync(ctx context.Context) error {
	payload, err := json.Marshal(message{Origin: d.t.origin, Type: messageResync})
	if err != nil {
		return err
	}
	if err := d.t.client.Publish(ctx, d.channel, payload).Err(); err != nil {
		return &core.TransportError{Message: fmt.Sprintf("resync %s", d.key), Err: err}
	}
	d.mu.Lock()
	d.notifyLocked()
	d.mu.Unlock()
	return nil
}

func (d *document) notifyLocked() {
	for _, ch := range d.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// hashReader is satisfied by the client and by a WATCH transaction.
type hashReader interface {
	HGetAll(ctx context.Context, key string) *goredis.MapStringStringCmd
}

func (d *document) fetch(ctx context.Context, c hashReader) (core.Value, error) {
	raw, err := c.HGetAll(ctx, d.hashKey).Result()
	if err != nil {
		return nil, &core.TransportError{Message: fmt.Sprintf("read %s", d.key), Err: err}
	}
	return decodeFields(raw)
}

func encodeFields(fields map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(fields))
	for name, v := range fields {
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode field %s: %w", name, err)
		}
		out[name] = string(data)
	}
	return out, nil
}

func decodeFields(raw map[string]string) (core.Value, error) {
	out := make(core.Value, len(raw))
	for name, data := range raw {
		dec := json.NewDecoder(bytes.NewReader([]byte(data)))
		dec.UseNumber()
		var v any
		if err := dec.Decode(&v); err != nil {
			return nil, fmt.Errorf("decode field %s: %w", name, err)
		}
		out[name] = v
	}
	return out, nil
}

type docTx struct {
	base   core.Value
	writes map[string]any
}

func (tx *docTx) Get(field string) (any, bool) {
	if v, ok := tx.writes[field]; ok {
		return v, true
	}
	v, ok := tx.base[field]
	return v, ok
}

func (tx *docTx) Set(field string, v any) {
	tx.writes[field] = v
}

func (tx *docTx) Len() int {
	n := len(tx.base)
	for field := range tx.writes {
		if _, ok := tx.base[field]; !ok {
			n++
		}
	}
	return n
}

// merged returns the document as it reads after the writes. Written values are
// round-tripped through JSON so that local and remote readers see the same types.
func (tx *docTx) merged() core.Value {
	out := tx.base.Clone()
	if encoded, err := encodeFields(tx.writes); err == nil {
		raw := make(map[string]string, len(encoded))
		for k, v := range encoded {
			raw[k] = v.(string)
		}
		if decoded, err := decodeFields(raw); err == nil {
			for k, v := range decoded {
				out[k] = v
			}
			return out
		}
	}
	for k, v := range tx.writes {
		out[k] = v
	}
	return out
}

var _ core.CollabTransport = (*Transport)(nil)
