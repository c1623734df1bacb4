package core_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/tilth/pkg/adapters/memory"
	"github.com/aretw0/tilth/pkg/core"
)

type fixture struct {
	store  *fakeStore
	drafts *memory.DraftStore
	codec  *jsonCodec
	svc    *core.Service
}

func newFixture(t *testing.T, opts ...core.ServiceOption) *fixture {
	t.Helper()
	codec := newJSONCodec("slug", "title")
	codec.slug = "slug"
	codec.required = []string{"title"}
	settings := newJSONCodec("theme")

	f := &fixture{store: newFakeStore(), drafts: memory.NewDraftStore(), codec: codec}
	registry := staticRegistry{
		"posts":    {Codec: codec, Pattern: "content/posts/*"},
		"settings": {Codec: settings, Pattern: "data/settings"},
	}
	opts = append([]core.ServiceOption{core.WithBranch("main"), core.WithEventBuffer(64)}, opts...)
	f.svc = core.NewService(registry, f.store, f.drafts, opts...)
	return f
}

func (f *fixture) seedPost(slug, title string) {
	f.store.put("main", "content/posts/"+slug+".json", jsonFile(map[string]any{"slug": slug, "title": title}))
}

func TestService_Load(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedPost("hello", "Hello")

	committed, cfg, err := f.svc.Load(ctx, core.CollectionEntry("posts", "hello"))
	require.NoError(t, err)
	assert.True(t, committed.Exists())
	assert.Equal(t, core.Value{"slug": "hello", "title": "Hello"}, committed.InitialState)
	assert.Equal(t, []string{"content/posts/hello.json"}, committed.InitialFiles)
	assert.Equal(t, "main-1", committed.TreeKey)
	assert.Equal(t, "content/posts/*", cfg.Pattern)

	missing, _, err := f.svc.Load(ctx, core.CollectionEntry("posts", "nope"))
	require.NoError(t, err)
	assert.False(t, missing.Exists())
	assert.Equal(t, "main-1", missing.TreeKey)

	_, _, err = f.svc.Load(ctx, core.CollectionEntry("unknown", "x"))
	assert.Error(t, err)
	_, _, err = f.svc.Load(ctx, core.EntryIdentity{Kind: core.KindSingleton, Name: "settings", Slug: "x"})
	assert.Error(t, err)
}

func TestSession_LocalEditingLifecycle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedPost("hello", "Hello")
	id := core.CollectionEntry("posts", "hello")

	s, err := f.svc.Open(ctx, id)
	require.NoError(t, err)
	again, err := f.svc.Open(ctx, id)
	require.NoError(t, err)
	assert.Same(t, s, again)

	snap := s.Snapshot()
	assert.False(t, snap.HasChanged)
	assert.Equal(t, core.NoticeNone, snap.Notice)
	assert.False(t, snap.Collaborative)

	require.NoError(t, s.Set(ctx, "title", "Hello, world"))
	assert.True(t, s.HasChanged())
	draft, err := f.drafts.Get(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, draft)
	assert.Equal(t, "main-1", draft.BeforeTreeKey)

	// Editing back to the committed value clears the draft.
	require.NoError(t, s.Set(ctx, "title", "Hello"))
	assert.False(t, s.HasChanged())
	assert.Equal(t, 0, f.drafts.Len())

	assert.Error(t, s.Set(ctx, "nope", 1))
}

func TestSession_RestoresDraftOnOpen(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedPost("hello", "Hello")
	id := core.CollectionEntry("posts", "hello")

	s, err := f.svc.Open(ctx, id)
	require.NoError(t, err)
	require.NoError(t, s.Set(ctx, "title", "Draft title"))
	s.Close()

	reopened, err := f.svc.Open(ctx, id)
	require.NoError(t, err)
	assert.NotSame(t, s, reopened)
	snap := reopened.Snapshot()
	assert.Equal(t, "Draft title", snap.State["title"])
	assert.Equal(t, core.NoticeRestored, snap.Notice)
	assert.True(t, snap.HasChanged)
	reopened.Close()

	// Someone else committed in the meantime.
	f.store.put("main", "content/posts/other.json", jsonFile(map[string]any{"slug": "other", "title": "Other"}))
	stale, err := f.svc.Open(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, core.NoticeRestoredTreeChanged, stale.Snapshot().Notice)
	assert.Equal(t, "Draft title", stale.State()["title"])
}

func TestSession_UpdateCommitsAndClearsDraft(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedPost("hello", "Hello")
	id := core.CollectionEntry("posts", "hello")

	s, err := f.svc.Open(ctx, id)
	require.NoError(t, err)
	require.NoError(t, s.Set(ctx, "title", "Updated"))
	require.Equal(t, 1, f.drafts.Len())

	res, err := s.Update(ctx, core.UpdateOptions{})
	require.NoError(t, err)
	assert.Equal(t, core.StatusIdle, res.Status)

	assert.Equal(t, 0, f.drafts.Len())
	assert.False(t, s.HasChanged())
	committed := s.Committed()
	assert.Equal(t, "main-2", committed.BaseSHA)
	assert.Equal(t, "Updated", committed.InitialState["title"])

	req := f.store.lastRequest()
	assert.Equal(t, "main-1", req.BaseSHA)
	require.Len(t, req.Additions, 1)
	assert.Equal(t, "content/posts/hello.json", req.Additions[0].Path)

	var types []core.EventType
	for len(f.svc.Events()) > 0 {
		types = append(types, (<-f.svc.Events()).Type)
	}
	assert.Contains(t, types, core.EventDraftSaved)
	assert.Contains(t, types, core.EventCommitted)
}

func TestSession_ValidationBlocksSubmit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	s, err := f.svc.Open(ctx, core.CollectionEntry("posts", "new-post"))
	require.NoError(t, err)

	_, err = s.Update(ctx, core.UpdateOptions{})
	var verr *core.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "title")
	assert.Empty(t, f.store.requests)
}

func TestSession_CreationModeCommit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := core.CollectionEntry("posts", "new-post")

	s, err := f.svc.Open(ctx, id)
	require.NoError(t, err)
	assert.True(t, s.HasChanged(), "creation mode is always changed")

	require.NoError(t, s.Mutate(ctx, func(v core.Value) error {
		v["slug"] = "new-post"
		v["title"] = "New"
		return nil
	}))
	res, err := s.Update(ctx, core.UpdateOptions{})
	require.NoError(t, err)
	assert.Equal(t, core.StatusIdle, res.Status)
	assert.True(t, s.Committed().Exists())
	assert.Equal(t, 0, f.drafts.Len())
}

func TestSession_SlugChangeRenamesEntry(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedPost("hello", "Hello")

	s, err := f.svc.Open(ctx, core.CollectionEntry("posts", "hello"))
	require.NoError(t, err)
	require.NoError(t, s.Set(ctx, "slug", "goodbye"))

	res, err := s.Update(ctx, core.UpdateOptions{})
	require.NoError(t, err)
	require.Equal(t, core.StatusIdle, res.Status)

	req := f.store.lastRequest()
	assert.Equal(t, []string{"content/posts/hello.json"}, req.Deletions)
	assert.Equal(t, "content/posts/goodbye.json", req.Additions[0].Path)

	assert.Equal(t, core.CollectionEntry("posts", "goodbye"), s.Entry())
	reopened, err := f.svc.Open(ctx, core.CollectionEntry("posts", "goodbye"))
	require.NoError(t, err)
	assert.Same(t, s, reopened)
	assert.Equal(t, 0, f.drafts.Len())

	slugs, err := f.svc.List(ctx, "posts")
	require.NoError(t, err)
	assert.Equal(t, []string{"goodbye"}, slugs)
}

func TestSession_SlugChangeReattachesDocument(t *testing.T) {
	ctx := context.Background()
	transport := memory.NewTransport()
	f := newFixture(t, core.WithCollaboration(transport))
	f.seedPost("hello", "Hello")

	s, err := f.svc.Open(ctx, core.CollectionEntry("posts", "hello"))
	require.NoError(t, err)
	require.True(t, s.Snapshot().Collaborative)
	require.NoError(t, s.Set(ctx, "slug", "goodbye"))

	res, err := s.Update(ctx, core.UpdateOptions{})
	require.NoError(t, err)
	require.Equal(t, core.StatusIdle, res.Status)
	assert.Equal(t, core.CollectionEntry("posts", "goodbye"), s.Entry())

	require.NoError(t, s.Set(ctx, "title", "Renamed"))
	assert.Equal(t, "Renamed", transport.Fields("main/collection/posts/goodbye")["title"])
	assert.Equal(t, "Hello", transport.Fields("main/collection/posts/hello")["title"])
	assert.Equal(t, 0, f.drafts.Len())
}

func TestSession_NewBranchRecovery(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedPost("hello", "Hello")
	id := core.CollectionEntry("posts", "hello")

	s, err := f.svc.Open(ctx, id)
	require.NoError(t, err)
	require.NoError(t, s.Set(ctx, "title", "Mine"))

	// The branch moves under the session.
	f.seedPost("other", "Other")

	res, err := s.Update(ctx, core.UpdateOptions{})
	require.NoError(t, err)
	assert.Equal(t, core.StatusNeedsNewBranch, res.Status)
	assert.Equal(t, "stale", res.Reason)
	assert.Equal(t, "main-1", res.BranchOid)
	assert.Equal(t, 1, f.drafts.Len(), "draft survives a failed submit")

	res, err = s.CreateBranch(ctx, "feature-x")
	require.NoError(t, err)
	assert.Equal(t, core.StatusIdle, res.Status)

	req := f.store.lastRequest()
	assert.Equal(t, "feature-x", req.Branch)
	assert.Equal(t, "main-1", req.BaseSHA)
	assert.Equal(t, "feature-x", s.Committed().Branch)
	assert.Equal(t, 0, f.drafts.Len())
	assert.Equal(t, "feature-x", f.svc.Branch())

	// A later refresh stays on the new branch.
	require.NoError(t, f.svc.RefreshAll(ctx))
	assert.Equal(t, "feature-x", s.Committed().Branch)
	assert.Equal(t, "Mine", s.State()["title"])

	require.NoError(t, s.Set(ctx, "title", "Again"))
	res, err = s.Update(ctx, core.UpdateOptions{})
	require.NoError(t, err)
	assert.Equal(t, core.StatusIdle, res.Status)
	req = f.store.lastRequest()
	assert.Equal(t, "feature-x", req.Branch)
	assert.Equal(t, "feature-x-1", req.BaseSHA)
}

func TestSession_ForkRecovery(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedPost("hello", "Hello")
	f.store.setCommitErr(core.ErrNeedsFork)

	s, err := f.svc.Open(ctx, core.CollectionEntry("posts", "hello"))
	require.NoError(t, err)
	require.NoError(t, s.Set(ctx, "title", "Mine"))

	res, err := s.Update(ctx, core.UpdateOptions{})
	require.NoError(t, err)
	require.Equal(t, core.StatusNeedsFork, res.Status)

	_, err = s.CreateBranch(ctx, "x")
	assert.Error(t, err, "no branch dialog is pending")

	res, err = s.Fork(ctx)
	require.NoError(t, err)
	assert.Equal(t, core.StatusIdle, res.Status)
	assert.True(t, f.store.forked)
}

func TestSession_ResetUpdateItem(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedPost("hello", "Hello")
	f.store.setCommitErr(assert.AnError)

	s, err := f.svc.Open(ctx, core.CollectionEntry("posts", "hello"))
	require.NoError(t, err)
	require.NoError(t, s.Set(ctx, "title", "Mine"))

	res, err := s.Update(ctx, core.UpdateOptions{})
	require.NoError(t, err)
	assert.Equal(t, core.StatusError, res.Status)
	assert.Equal(t, assert.AnError.Error(), s.Snapshot().UpdateResult.Message)

	assert.True(t, s.ResetUpdateItem())
	assert.Equal(t, core.StatusIdle, s.UpdateResult().Status)
}

func TestSession_ResetDiscardsDraft(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedPost("hello", "Hello")

	s, err := f.svc.Open(ctx, core.CollectionEntry("posts", "hello"))
	require.NoError(t, err)
	require.NoError(t, s.Set(ctx, "title", "Mine"))
	require.NoError(t, s.Reset(ctx))

	assert.Equal(t, "Hello", s.State()["title"])
	assert.Equal(t, 0, f.drafts.Len())
}

func TestSession_RefreshFollowsTree(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedPost("hello", "Hello")
	id := core.CollectionEntry("posts", "hello")

	s, err := f.svc.Open(ctx, id)
	require.NoError(t, err)

	f.seedPost("hello", "Changed elsewhere")
	require.NoError(t, f.svc.RefreshAll(ctx))
	assert.Equal(t, "Changed elsewhere", s.State()["title"])
	assert.False(t, s.HasChanged())

	require.NoError(t, s.Set(ctx, "title", "Local"))
	f.seedPost("hello", "Again")
	require.NoError(t, s.Refresh(ctx))
	snap := s.Snapshot()
	assert.Equal(t, "Local", snap.State["title"], "pending edits are kept")
	assert.Equal(t, core.NoticeRestoredTreeChanged, snap.Notice)
}

func TestService_SwitchBranch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedPost("hello", "Hello")
	require.NoError(t, f.store.CreateBranch(ctx, "draft", "main-1"))

	s, err := f.svc.Open(ctx, core.CollectionEntry("posts", "hello"))
	require.NoError(t, err)

	require.NoError(t, f.svc.SwitchBranch(ctx, "draft"))
	assert.Equal(t, "draft", f.svc.Branch())
	assert.Equal(t, "draft", s.Committed().Branch)
}

func TestService_DraftsAndIntrospection(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	s, err := f.svc.Open(ctx, core.Singleton("settings"))
	require.NoError(t, err)
	require.NoError(t, s.Set(ctx, "theme", "dark"))

	ids, err := f.svc.Drafts(ctx)
	require.NoError(t, err)
	assert.Equal(t, []core.EntryIdentity{core.Singleton("settings")}, ids)

	require.NoError(t, f.svc.DiscardDraft(ctx, core.Singleton("settings")))
	assert.Equal(t, 0, f.drafts.Len())

	state := f.svc.State().(core.ServiceState)
	assert.Equal(t, "main", state.Branch)
	assert.Equal(t, []string{"singleton/settings"}, state.OpenSessions)
	assert.Equal(t, "service", f.svc.ComponentType())
}
