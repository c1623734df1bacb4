package platform_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/tilth/internal/platform"
	"github.com/aretw0/tilth/pkg/adapters/fs"
	"github.com/aretw0/tilth/pkg/adapters/gitstore"
	"github.com/aretw0/tilth/pkg/adapters/memory"
	"github.com/aretw0/tilth/pkg/core"
	"github.com/aretw0/tilth/pkg/schema"
)

func openWorkspace(t *testing.T, root string, cfg *schema.Config, opts ...platform.Option) *platform.Workspace {
	t.Helper()
	opts = append(opts, platform.WithProject(cfg))
	ws, err := platform.New(root, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func editTitle(t *testing.T, ws *platform.Workspace, title string) core.UpdateResult {
	t.Helper()
	ctx := context.Background()
	sess, err := ws.Service.Open(ctx, core.Singleton("settings"))
	require.NoError(t, err)
	defer sess.Close()

	require.NoError(t, sess.Set(ctx, "title", title))
	result, err := sess.Update(ctx, core.UpdateOptions{Message: "edit settings"})
	require.NoError(t, err)
	return result
}

func TestNewFilesystem(t *testing.T) {
	root := t.TempDir()
	ws := openWorkspace(t, root, schema.SampleConfig())

	assert.IsType(t, &fs.Store{}, ws.Store)
	assert.IsType(t, &fs.DraftStore{}, ws.Drafts)
	assert.False(t, ws.Service.Collaborative())
	assert.Equal(t, "main", ws.Service.Branch())

	result := editTitle(t, ws, "Tilled")
	assert.Equal(t, core.StatusIdle, result.Status)

	data, err := os.ReadFile(filepath.Join(root, "data", "settings.yaml"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "Tilled")

	_, err = os.Stat(filepath.Join(root, fs.DefaultSystemDir, "drafts"))
	assert.NoError(t, err)
}

func TestNewReadsProjectFile(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, schema.SampleConfig().Save(root))

	ws, err := platform.New(root)
	require.NoError(t, err)
	defer ws.Close()

	assert.Equal(t, []string{"posts"}, ws.Registry.Collections())
}

func TestNewMissingProjectFile(t *testing.T) {
	_, err := platform.New(t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), schema.ConfigFileName)
}

func TestNewUnknownKinds(t *testing.T) {
	cfg := schema.SampleConfig()
	cfg.Storage.Kind = "s3"
	_, err := platform.New(t.TempDir(), platform.WithProject(cfg))
	assert.ErrorContains(t, err, "unknown storage kind")

	cfg = schema.SampleConfig()
	cfg.Drafts.Kind = "sqlite"
	_, err = platform.New(t.TempDir(), platform.WithProject(cfg))
	assert.ErrorContains(t, err, "unknown drafts kind")

	cfg = schema.SampleConfig()
	cfg.Collab.Kind = "websocket"
	_, err = platform.New(t.TempDir(), platform.WithProject(cfg))
	assert.ErrorContains(t, err, "unknown collab kind")
}

func TestNewGit(t *testing.T) {
	root := t.TempDir()
	cfg := schema.SampleConfig()
	cfg.Storage.Kind = "git"
	cfg.Drafts.Kind = "memory"

	ws := openWorkspace(t, root, cfg)
	assert.IsType(t, &gitstore.Store{}, ws.Store)
	assert.IsType(t, &memory.DraftStore{}, ws.Drafts)

	result := editTitle(t, ws, "Versioned")
	assert.Equal(t, core.StatusIdle, result.Status)

	committed, _, err := ws.Service.Load(context.Background(), core.Singleton("settings"))
	require.NoError(t, err)
	assert.Equal(t, "Versioned", committed.InitialState["title"])
	assert.NotEqual(t, committed.TreeKey, committed.BaseSHA)
}

func TestNewGitBranchOverride(t *testing.T) {
	root := t.TempDir()
	cfg := schema.SampleConfig()
	cfg.Storage.Kind = "git"
	cfg.Drafts.Kind = "memory"

	ws := openWorkspace(t, root, cfg, platform.WithBranch("preview"))
	assert.Equal(t, "preview", ws.Service.Branch())
}

func TestNewRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := schema.SampleConfig()
	cfg.Drafts.Kind = "redis"
	cfg.Drafts.RedisURL = "redis://" + mr.Addr()

	ws := openWorkspace(t, t.TempDir(), cfg)
	assert.False(t, ws.Service.Collaborative())

	ctx := context.Background()
	sess, err := ws.Service.Open(ctx, core.Singleton("settings"))
	require.NoError(t, err)
	defer sess.Close()

	require.NoError(t, sess.Set(ctx, "title", "Drafted"))
	assert.True(t, mr.Exists("tilth:draft:singleton/settings"))

	ids, err := ws.Service.Drafts(ctx)
	require.NoError(t, err)
	assert.Equal(t, []core.EntryIdentity{core.Singleton("settings")}, ids)
}

func TestNewRedisCollaboration(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := schema.SampleConfig()
	cfg.Drafts.Kind = "memory"
	cfg.Collab.Kind = "redis"

	ws := openWorkspace(t, t.TempDir(), cfg, platform.WithRedisURL("redis://"+mr.Addr()))
	assert.True(t, ws.Service.Collaborative())

	ctx := context.Background()
	sess, err := ws.Service.Open(ctx, core.Singleton("settings"))
	require.NoError(t, err)
	defer sess.Close()

	snap := sess.Snapshot()
	assert.True(t, snap.Collaborative)
	assert.Equal(t, "My site", snap.State["title"])

	require.NoError(t, ws.Close())
}

func TestNewRedisMissingURL(t *testing.T) {
	cfg := schema.SampleConfig()
	cfg.Collab.Kind = "redis"
	_, err := platform.New(t.TempDir(), platform.WithProject(cfg))
	assert.ErrorContains(t, err, "redis URL is not configured")
}

func TestNewInjectedAdapters(t *testing.T) {
	drafts := memory.NewDraftStore()
	transport := memory.NewTransport()

	ws := openWorkspace(t, t.TempDir(), schema.SampleConfig(),
		platform.WithDraftStore(drafts),
		platform.WithTransport(transport),
	)
	assert.Same(t, drafts, ws.Drafts)
	assert.True(t, ws.Service.Collaborative())
}

func TestInitProject(t *testing.T) {
	root := filepath.Join(t.TempDir(), "site")

	resolved, err := platform.InitProject(root, nil)
	require.NoError(t, err)
	assert.Equal(t, root, resolved)

	cfg, err := schema.LoadConfig(root)
	require.NoError(t, err)
	assert.Equal(t, "fs", cfg.Storage.Kind)

	// A second run keeps the existing project file.
	custom := schema.SampleConfig()
	custom.Storage.Branch = "other"
	_, err = platform.InitProject(root, custom)
	require.NoError(t, err)

	cfg, err = schema.LoadConfig(root)
	require.NoError(t, err)
	assert.Equal(t, "main", cfg.Storage.Branch)
}

func TestInitProjectGit(t *testing.T) {
	root := t.TempDir()
	cfg := schema.SampleConfig()
	cfg.Storage.Kind = "git"

	_, err := platform.InitProject(root, cfg)
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(root, ".git"))
	assert.NoError(t, err)
}
