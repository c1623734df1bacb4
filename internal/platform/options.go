package platform

import (
	"log/slog"

	"github.com/aretw0/tilth/pkg/core"
	"github.com/aretw0/tilth/pkg/schema"
)

// options holds the internal configuration of a workspace.
type options struct {
	store     core.BackingStore
	drafts    core.DraftStore
	transport core.CollabTransport
	project   *schema.Config
	logger    *slog.Logger
	config    map[string]interface{}
}

// Option defines a functional option for configuring a workspace.
type Option func(*options)

// defaultOptions returns the default configuration.
func defaultOptions() *options {
	return &options{
		config: make(map[string]interface{}),
	}
}

// WithLogger sets the logger for the service and the adapters.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithProject uses cfg instead of reading tilth.yaml from the root.
func WithProject(cfg *schema.Config) Option {
	return func(o *options) {
		o.project = cfg
	}
}

// WithStore injects a backing store. The storage section of the project is ignored.
func WithStore(store core.BackingStore) Option {
	return func(o *options) {
		o.store = store
	}
}

// WithDraftStore injects a draft store. The drafts section of the project is ignored.
func WithDraftStore(drafts core.DraftStore) Option {
	return func(o *options) {
		o.drafts = drafts
	}
}

// WithTransport injects a collaboration transport, switching sessions to collaborative mode.
func WithTransport(transport core.CollabTransport) Option {
	return func(o *options) {
		o.transport = transport
	}
}

// WithMustExist ensures the content root must already exist.
func WithMustExist(must bool) Option {
	return func(o *options) {
		o.config["must_exist"] = must
	}
}

// WithReadOnly opens the store read-only. For the git store this means commits
// require a fork.
func WithReadOnly(enabled bool) Option {
	return func(o *options) {
		o.config["read_only"] = enabled
	}
}

// WithBranch overrides the branch declared in the project.
func WithBranch(branch string) Option {
	return func(o *options) {
		o.config["branch"] = branch
	}
}

// WithSystemDir sets the hidden directory name (e.g. ".tilth").
func WithSystemDir(name string) Option {
	return func(o *options) {
		o.config["system_dir"] = name
	}
}

// WithRedisURL overrides the Redis URL of the drafts and collab sections.
func WithRedisURL(url string) Option {
	return func(o *options) {
		o.config["redis_url"] = url
	}
}

// WithEventBuffer sets the size of the service event buffer.
func WithEventBuffer(size int) Option {
	return func(o *options) {
		o.config["event_buffer"] = size
	}
}

// WithWatcherErrorHandler registers a callback for errors of the filesystem watcher.
func WithWatcherErrorHandler(fn func(error)) Option {
	return func(o *options) {
		o.config["watcher_error_handler"] = fn
	}
}

// WithDevSafety controls the sandbox used when running via `go run`. By default (true)
// the root is re-rooted into a temporary directory.
func WithDevSafety(enabled bool) Option {
	return func(o *options) {
		o.config["dev_safety"] = enabled
	}
}

func (o *options) bool(key string) bool {
	v, _ := o.config[key].(bool)
	return v
}

func (o *options) string(key string) string {
	v, _ := o.config[key].(string)
	return v
}

func (o *options) devSafety() bool {
	if v, ok := o.config["dev_safety"].(bool); ok {
		return v
	}
	return true
}
