// Package platform composes a core.Service from the project file and the selected
// adapters.
package platform

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/aretw0/tilth/pkg/adapters/fs"
	"github.com/aretw0/tilth/pkg/adapters/gitstore"
	"github.com/aretw0/tilth/pkg/adapters/memory"
	tredis "github.com/aretw0/tilth/pkg/adapters/redis"
	"github.com/aretw0/tilth/pkg/core"
	"github.com/aretw0/tilth/pkg/schema"

	goredis "github.com/redis/go-redis/v9"
)

// Workspace is a composed service together with the resources it owns.
type Workspace struct {
	Root     string
	Project  *schema.Config
	Registry *schema.Registry
	Store    core.BackingStore
	Drafts   core.DraftStore
	Service  *core.Service

	closers []io.Closer
}

// Close releases the Redis connections and transports opened for the workspace.
func (w *Workspace) Close() error {
	var errs []error
	for i := len(w.closers) - 1; i >= 0; i-- {
		if err := w.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	w.closers = nil
	return errors.Join(errs...)
}

// New opens the workspace rooted at root:
//
//	ws, err := platform.New("./site", platform.WithLogger(logger))
//
// The project file is read from the root unless WithProject is given.
func New(root string, opts ...Option) (*Workspace, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = slog.New(slog.DiscardHandler)
	}

	resolved := ResolveRoot(root, IsDevRun() && o.devSafety())
	if resolved != root {
		o.logger.Warn("running in SAFE MODE (dev sandbox)", "original_path", root, "resolved_path", resolved)
	}

	project := o.project
	if project == nil {
		var err error
		project, err = schema.LoadConfig(resolved)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("%s not found in %s (run \"tilth init\")", schema.ConfigFileName, resolved)
			}
			return nil, err
		}
	}
	registry, err := project.Registry()
	if err != nil {
		return nil, err
	}

	ws := &Workspace{Root: resolved, Project: project, Registry: registry}
	ctx := context.Background()

	if ws.Store, err = ws.openStore(ctx, o); err != nil {
		return nil, err
	}
	if ws.Drafts, err = ws.openDrafts(ctx, o); err != nil {
		_ = ws.Close()
		return nil, err
	}
	transport, err := ws.openTransport(ctx, o)
	if err != nil {
		_ = ws.Close()
		return nil, err
	}

	branch := project.Storage.Branch
	if b := o.string("branch"); b != "" {
		branch = b
	}
	svcOpts := []core.ServiceOption{core.WithLogger(o.logger), core.WithBranch(branch)}
	if transport != nil {
		svcOpts = append(svcOpts, core.WithCollaboration(transport))
	}
	if size, ok := o.config["event_buffer"].(int); ok && size > 0 {
		svcOpts = append(svcOpts, core.WithEventBuffer(size))
	}
	ws.Service = core.NewService(registry, ws.Store, ws.Drafts, svcOpts...)

	o.logger.Debug("workspace opened", "root", resolved, "storage", project.Storage.Kind,
		"drafts", project.Drafts.Kind, "collab", project.Collab.Kind, "branch", branch)
	return ws, nil
}

func (w *Workspace) systemDir(o *options) string {
	if dir := o.string("system_dir"); dir != "" {
		return dir
	}
	return fs.DefaultSystemDir
}

func (w *Workspace) openStore(ctx context.Context, o *options) (core.BackingStore, error) {
	if o.store != nil {
		return o.store, nil
	}
	storage := w.Project.Storage
	readOnly := storage.ReadOnly || o.bool("read_only")

	switch storage.Kind {
	case "", "fs":
		errorHandler, _ := o.config["watcher_error_handler"].(func(error))
		store := fs.NewStore(fs.Config{
			Path:         w.Root,
			MustExist:    o.bool("must_exist"),
			ReadOnly:     readOnly,
			Logger:       o.logger,
			SystemDir:    w.systemDir(o),
			ErrorHandler: errorHandler,
		})
		if err := store.Initialize(ctx); err != nil {
			return nil, err
		}
		return store, nil
	case "git":
		forkPath := storage.ForkPath
		if forkPath != "" && !filepath.IsAbs(forkPath) {
			forkPath = filepath.Join(w.Root, forkPath)
		}
		store := gitstore.New(gitstore.Config{
			Path:        w.Root,
			Branch:      storage.Branch,
			ReadOnly:    readOnly,
			ForkPath:    forkPath,
			AuthorName:  storage.Author,
			AuthorEmail: storage.Email,
			Logger:      o.logger,
		})
		if err := store.Initialize(ctx); err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage kind: %s", storage.Kind)
	}
}

func (w *Workspace) openDrafts(ctx context.Context, o *options) (core.DraftStore, error) {
	if o.drafts != nil {
		return o.drafts, nil
	}
	drafts := w.Project.Drafts

	switch drafts.Kind {
	case "", "fs":
		dir := drafts.Dir
		switch {
		case dir == "":
			dir = fs.DraftDir(w.Root, w.systemDir(o))
		case !filepath.IsAbs(dir):
			dir = filepath.Join(w.Root, dir)
		}
		return fs.NewDraftStore(dir), nil
	case "memory":
		return memory.NewDraftStore(), nil
	case "redis":
		client, err := w.redisClient(ctx, o, drafts.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("drafts: %w", err)
		}
		return tredis.NewDraftStore(client, ""), nil
	default:
		return nil, fmt.Errorf("unknown drafts kind: %s", drafts.Kind)
	}
}

func (w *Workspace) openTransport(ctx context.Context, o *options) (core.CollabTransport, error) {
	if o.transport != nil {
		return o.transport, nil
	}
	collab := w.Project.Collab

	switch collab.Kind {
	case "", "none":
		return nil, nil
	case "memory":
		return memory.NewTransport(), nil
	case "redis":
		client, err := w.redisClient(ctx, o, collab.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("collab: %w", err)
		}
		transport := tredis.NewTransport(client, "", tredis.WithLogger(o.logger))
		w.closers = append(w.closers, transport)
		return transport, nil
	default:
		return nil, fmt.Errorf("unknown collab kind: %s", collab.Kind)
	}
}

// redisClient connects to the configured URL. The URL given by WithRedisURL wins.
func (w *Workspace) redisClient(ctx context.Context, o *options, url string) (*goredis.Client, error) {
	if override := o.string("redis_url"); override != "" {
		url = override
	}
	if url == "" {
		return nil, errors.New("redis URL is not configured")
	}
	client, err := tredis.Connect(ctx, url)
	if err != nil {
		return nil, err
	}
	w.closers = append(w.closers, client)
	return client, nil
}
