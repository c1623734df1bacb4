package core

import (
	"context"
	"strings"
)

// Codec is the schema value codec of one entry schema. It parses raw files into a
// Value, produces the default value, and serializes values back to files.
type Codec interface {
	// Fields lists the top-level field names in declaration order.
	Fields() []string
	// SlugField names the field holding the collection slug, or "".
	SlugField() string
	// Default returns the empty/default value of the schema.
	Default() Value
	// Parse decodes the files backing an entry.
	Parse(files map[string][]byte) (Value, error)
	// Serialize encodes v into files rooted at basePath.
	Serialize(v Value, basePath string) ([]File, error)
	// FieldEqual compares two values of the named field.
	FieldEqual(field string, a, b any) bool
	// Validate checks v before it is submitted. It returns a *ValidationError.
	Validate(v Value) error
}

// EntryConfig binds an entry to its codec and the base path its files live under.
type EntryConfig struct {
	Codec Codec
	// Pattern is the base path of the entry files. For collections "*" stands for the slug.
	Pattern string
}

// BasePath returns the base path of the entry with the given slug.
func (c EntryConfig) BasePath(slug string) string {
	return strings.Replace(c.Pattern, "*", slug, 1)
}

// PathFor returns the base path state would be written to. For collections whose codec
// has a slug field, the slug is taken from state so that a slug edit renames the entry.
func (c EntryConfig) PathFor(id EntryIdentity, state Value) string {
	if id.Kind != KindCollection {
		return c.Pattern
	}
	if field := c.Codec.SlugField(); field != "" {
		if slug, ok := state[field].(string); ok && slug != "" {
			return c.BasePath(slug)
		}
	}
	return c.BasePath(id.Slug)
}

// Registry resolves entry identities to their configuration.
type Registry interface {
	Resolve(id EntryIdentity) (EntryConfig, error)
}

// LoadResult is what a BackingStore returns for one entry.
type LoadResult struct {
	Files   map[string][]byte
	TreeKey string
	BaseSHA string
	Branch  string
}

// CommitRequest carries the file changes of one update.
type CommitRequest struct {
	Branch    string
	BaseSHA   string
	Additions []File
	Deletions []string
	Message   string
}

// CommitResult describes the state of the branch after a successful commit.
type CommitResult struct {
	SHA     string
	TreeKey string
}

// BackingStore is the committed-state storage.
// Adhering to this interface keeps the core independent of local and versioned backends.
type BackingStore interface {
	// Load reads the files under basePath on branch. When no file exists it returns
	// ErrNotFound along with a result that still carries TreeKey and BaseSHA.
	Load(ctx context.Context, branch, basePath string) (LoadResult, error)

	// Commit applies the changes on top of BaseSHA. It returns *BranchDivergedError
	// when the branch moved or is missing, and ErrNeedsFork without write access.
	Commit(ctx context.Context, req CommitRequest) (CommitResult, error)
}

// BranchCreator is implemented by stores that can create branches.
type BranchCreator interface {
	CreateBranch(ctx context.Context, name, fromOid string) error
}

// Forker is implemented by stores that can fork the repository for the acting user.
type Forker interface {
	Fork(ctx context.Context) error
}

// Watchable is implemented by stores that report tree changes.
type Watchable interface {
	Watch(ctx context.Context) (<-chan Event, error)
}

// Lister is implemented by stores that can enumerate the paths matching a glob.
type Lister interface {
	List(ctx context.Context, branch, pattern string) ([]string, error)
}

// DraftStore persists one draft per entry identity.
type DraftStore interface {
	// Get returns nil with no error when no draft is stored.
	Get(ctx context.Context, id EntryIdentity) (*DraftRecord, error)
	Set(ctx context.Context, id EntryIdentity, d DraftRecord) error
	Delete(ctx context.Context, id EntryIdentity) error
	List(ctx context.Context) ([]EntryIdentity, error)
}

// CollabTransport resolves shared documents. Documents are created on first use.
type CollabTransport interface {
	Document(ctx context.Context, key string) (Document, error)
}

// Document is a shared mutable map mirroring an entry's top-level fields.
type Document interface {
	Key() string
	// Load starts loading the document. It is safe to call more than once.
	Load(ctx context.Context) error
	// WhenLoaded blocks until the document has been loaded.
	WhenLoaded(ctx context.Context) error
	// WhenSynced blocks until local transactions are acknowledged by the transport.
	WhenSynced(ctx context.Context) error
	// Transact runs fn atomically; other sessions never observe a partial write.
	// fn may be re-run if the transport detects a concurrent transaction.
	Transact(ctx context.Context, fn func(tx DocTx) error) error
	// Snapshot returns a copy of the current document contents.
	Snapshot() Value
	// Subscribe returns a channel signalled whenever the document changed or observers
	// must re-read it, and a func releasing the subscription.
	Subscribe() (<-chan struct{}, func())
	// SignalResync asks every connected session to re-read the whole document.
	SignalResync(ctx context.Context) error
}

// DocTx is the view of a document inside a transaction.
type DocTx interface {
	Get(field string) (any, bool)
	Set(field string, v any)
	Len() int
}
