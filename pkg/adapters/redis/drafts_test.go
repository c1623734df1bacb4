package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/tilth/pkg/adapters/redis"
	"github.com/aretw0/tilth/pkg/core"
)

func setupRedis(t *testing.T) (*goredis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := redis.Connect(context.Background(), "redis://"+mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client, mr
}

func TestConnect(t *testing.T) {
	_, err := redis.Connect(context.Background(), "not a url")
	assert.Error(t, err)

	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()
	_, err = redis.Connect(context.Background(), "redis://"+addr)
	assert.Error(t, err)
}

func TestDraftStore(t *testing.T) {
	ctx := context.Background()
	client, mr := setupRedis(t)
	store := redis.NewDraftStore(client, "")

	post := core.CollectionEntry("posts", "hello")
	settings := core.Singleton("settings")

	got, err := store.Get(ctx, post)
	require.NoError(t, err)
	assert.Nil(t, got)

	draft := core.DraftRecord{
		SavedAt:       time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		BeforeTreeKey: "abc",
		Files:         map[string][]byte{"content/posts/hello.md": []byte("hi")},
	}
	require.NoError(t, store.Set(ctx, post, draft))
	require.NoError(t, store.Set(ctx, settings, draft))
	assert.True(t, mr.Exists("tilth:draft:collection/posts/hello"))

	got, err = store.Get(ctx, post)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, core.DraftVersion, got.Version)
	assert.Equal(t, "abc", got.BeforeTreeKey)
	assert.Equal(t, draft.Files, got.Files)

	mr.Set("tilth:draft:a/b/c/d", "{}")
	ids, err := store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []core.EntryIdentity{post, settings}, ids)

	require.NoError(t, store.Delete(ctx, post))
	got, err = store.Get(ctx, post)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestDraftStoreCorrupt(t *testing.T) {
	ctx := context.Background()
	client, mr := setupRedis(t)
	store := redis.NewDraftStore(client, "site:")
	id := core.Singleton("settings")

	mr.Set("site:draft:singleton/settings", "garbage")
	_, err := store.Get(ctx, id)
	assert.ErrorIs(t, err, core.ErrDraftStoreCorrupt)

	mr.Set("site:draft:singleton/settings", `{"version":7,"files":{}}`)
	got, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, got, "unknown versions are discarded")
}

func TestDraftStoreTTL(t *testing.T) {
	ctx := context.Background()
	client, mr := setupRedis(t)
	store := redis.NewDraftStore(client, "")
	store.TTL = time.Hour
	id := core.Singleton("settings")

	require.NoError(t, store.Set(ctx, id, core.DraftRecord{Files: map[string][]byte{}}))
	mr.FastForward(2 * time.Hour)

	got, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestDraftStoreTransportError(t *testing.T) {
	client, mr := setupRedis(t)
	store := redis.NewDraftStore(client, "")
	mr.Close()

	_, err := store.Get(context.Background(), core.Singleton("settings"))
	var transportErr *core.TransportError
	assert.ErrorAs(t, err, &transportErr)
}
