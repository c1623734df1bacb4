package tilth

import (
	"log/slog"

	"github.com/aretw0/tilth/internal/platform"
	"github.com/aretw0/tilth/pkg/core"
	"github.com/aretw0/tilth/pkg/schema"
	"github.com/aretw0/tilth/pkg/typed"
)

// --- Types ---

// Workspace is a composed service and the adapters it owns.
type Workspace = platform.Workspace

// Project is the parsed tilth.yaml.
type Project = schema.Config

// TypedService is a public alias for the typed service.
type TypedService[T any] = typed.Service[T]

// TypedSession is a public alias for the typed session.
type TypedSession[T any] = typed.Session[T]

// --- Configuration ---

// Option defines a functional option for configuring a workspace.
type Option = platform.Option

// WithLogger sets the logger for the service and the adapters.
func WithLogger(logger *slog.Logger) Option {
	return platform.WithLogger(logger)
}

// WithProject uses cfg instead of reading tilth.yaml.
func WithProject(cfg *Project) Option {
	return platform.WithProject(cfg)
}

// WithStore injects a custom backing store.
func WithStore(store core.BackingStore) Option {
	return platform.WithStore(store)
}

// WithDraftStore injects a custom draft store.
func WithDraftStore(drafts core.DraftStore) Option {
	return platform.WithDraftStore(drafts)
}

// WithTransport injects a collaboration transport.
func WithTransport(transport core.CollabTransport) Option {
	return platform.WithTransport(transport)
}

// WithMustExist ensures the content root must already exist.
func WithMustExist(must bool) Option {
	return platform.WithMustExist(must)
}

// WithReadOnly opens the store read-only.
func WithReadOnly(enabled bool) Option {
	return platform.WithReadOnly(enabled)
}

// WithBranch overrides the branch of the project.
func WithBranch(branch string) Option {
	return platform.WithBranch(branch)
}

// WithRedisURL overrides the Redis URL of the project.
func WithRedisURL(url string) Option {
	return platform.WithRedisURL(url)
}

// WithEventBuffer enables service events with a buffer of size.
func WithEventBuffer(size int) Option {
	return platform.WithEventBuffer(size)
}

// WithDevSafety controls the sandbox used when running via `go run` or `go test`.
func WithDevSafety(enabled bool) Option {
	return platform.WithDevSafety(enabled)
}

// --- Entry points ---

// New opens the workspace at root.
func New(root string, opts ...Option) (*Workspace, error) {
	return platform.New(root, opts...)
}

// Init prepares root as a content root, writing cfg (or the sample project) when
// tilth.yaml is missing. It returns the resolved root.
func Init(root string, cfg *Project, opts ...Option) (string, error) {
	return platform.InitProject(root, cfg, opts...)
}

// FindRoot looks upwards from dir for a content root.
func FindRoot(dir string) (string, error) {
	return platform.FindRoot(dir)
}

// SampleProject returns the project written by Init when none is given.
func SampleProject() *Project {
	return schema.SampleConfig()
}

// NewTyped creates a typed view over svc.
// T is the struct the entry fields are decoded into.
func NewTyped[T any](svc *core.Service) *TypedService[T] {
	return typed.NewService[T](svc)
}
