package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/aretw0/tilth/pkg/core"
)

// DraftStore keeps each draft under "<prefix>draft:<entry key>".
type DraftStore struct {
	client goredis.UniversalClient
	prefix string
	// TTL expires drafts that were not touched for that long. Zero keeps them forever.
	TTL time.Duration
}

// NewDraftStore creates a draft store on client. An empty prefix uses DefaultPrefix.
func NewDraftStore(client goredis.UniversalClient, prefix string) *DraftStore {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &DraftStore{client: client, prefix: prefix + "draft:"}
}

func (s *DraftStore) key(id core.EntryIdentity) string {
	return s.prefix + id.Key()
}

// Get implements core.DraftStore.
func (s *DraftStore) Get(ctx context.Context, id core.EntryIdentity) (*core.DraftRecord, error) {
	data, err := s.client.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, &core.TransportError{Message: fmt.Sprintf("load draft %s", id), Err: err}
	}
	return core.DecodeDraft(data)
}

// Set implements core.DraftStore.
func (s *DraftStore) Set(ctx context.Context, id core.EntryIdentity, d core.DraftRecord) error {
	data, err := core.EncodeDraft(d)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.key(id), data, s.TTL).Err(); err != nil {
		return &core.TransportError{Message: fmt.Sprintf("save draft %s", id), Err: err}
	}
	return nil
}

// Delete implements core.DraftStore.
func (s *DraftStore) Delete(ctx context.Context, id core.EntryIdentity) error {
	if err := s.client.Del(ctx, s.key(id)).Err(); err != nil {
		return &core.TransportError{Message: fmt.Sprintf("delete draft %s", id), Err: err}
	}
	return nil
}

// List implements core.DraftStore by scanning the draft prefix.
func (s *DraftStore) List(ctx context.Context) ([]core.EntryIdentity, error) {
	var ids []core.EntryIdentity
	iter := s.client.Scan(ctx, 0, s.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		id, err := core.ParseIdentity(strings.TrimPrefix(iter.Val(), s.prefix))
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	if err := iter.Err(); err != nil {
		return nil, &core.TransportError{Message: "list drafts", Err: err}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].Key() < ids[j].Key() })
	return ids, nil
}

var _ core.DraftStore = (*DraftStore)(nil)
