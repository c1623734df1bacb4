// Package core holds the entry synchronization domain: identities, committed and draft
// state, the ports to storage and collaboration, and the logic that reconciles them.
package core

import (
	"fmt"
	"strings"
	"time"
)

// Kind distinguishes single-instance entries from collection items.
type Kind string

const (
	KindCollection Kind = "collection"
	KindSingleton  Kind = "singleton"
)

// EntryIdentity uniquely identifies an entry. Slug is only set for collection entries.
type EntryIdentity struct {
	Kind Kind   `json:"kind"`
	Name string `json:"name"`
	Slug string `json:"slug,omitempty"`
}

// Singleton returns the identity of the named singleton.
func Singleton(name string) EntryIdentity {
	return EntryIdentity{Kind: KindSingleton, Name: name}
}

// CollectionEntry returns the identity of an item of the named collection.
func CollectionEntry(collection, slug string) EntryIdentity {
	return EntryIdentity{Kind: KindCollection, Name: collection, Slug: slug}
}

// Key is the stable string form used for drafts and collaborative documents.
func (id EntryIdentity) Key() string {
	if id.Kind == KindCollection {
		return string(id.Kind) + "/" + id.Name + "/" + id.Slug
	}
	return string(id.Kind) + "/" + id.Name
}

func (id EntryIdentity) String() string {
	return id.Key()
}

// Validate checks the identity shape.
func (id EntryIdentity) Validate() error {
	if id.Name == "" {
		return fmt.Errorf("entry name cannot be empty")
	}
	if strings.Contains(id.Name, "/") {
		return fmt.Errorf("entry name %q must not contain '/'", id.Name)
	}
	switch id.Kind {
	case KindSingleton:
		if id.Slug != "" {
			return fmt.Errorf("singleton %q cannot have a slug", id.Name)
		}
	case KindCollection:
		if id.Slug == "" {
			return fmt.Errorf("collection entry %q requires a slug", id.Name)
		}
		if strings.Contains(id.Slug, "/") {
			return fmt.Errorf("slug %q must not contain '/'", id.Slug)
		}
	default:
		return fmt.Errorf("unknown entry kind %q", id.Kind)
	}
	return nil
}

// ParseIdentity parses the forms "singleton/<name>" and "collection/<name>/<slug>".
// The shorthand "<name>" (singleton) and "<name>/<slug>" (collection) is also accepted.
func ParseIdentity(s string) (EntryIdentity, error) {
	parts := strings.Split(strings.Trim(s, "/"), "/")
	var id EntryIdentity
	switch {
	case len(parts) == 2 && parts[0] == string(KindSingleton):
		id = Singleton(parts[1])
	case len(parts) == 3 && parts[0] == string(KindCollection):
		id = CollectionEntry(parts[1], parts[2])
	case len(parts) == 1:
		id = Singleton(parts[0])
	case len(parts) == 2:
		id = CollectionEntry(parts[0], parts[1])
	default:
		return EntryIdentity{}, fmt.Errorf("invalid entry identity %q", s)
	}
	return id, id.Validate()
}

// Value is the in-memory value tree of an entry, keyed by top-level field name.
type Value map[string]any

// Clone returns a deep copy of maps and slices held by the value.
func (v Value) Clone() Value {
	if v == nil {
		return nil
	}
	out := make(Value, len(v))
	for k, val := range v {
		out[k] = cloneAny(val)
	}
	return out
}

func cloneAny(val any) any {
	switch t := val.(type) {
	case Value:
		return t.Clone()
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, v := range t {
			m[k] = cloneAny(v)
		}
		return m
	case []any:
		l := make([]any, len(t))
		for i, v := range t {
			l[i] = cloneAny(v)
		}
		return l
	case []string:
		return append([]string(nil), t...)
	case []byte:
		return append([]byte(nil), t...)
	default:
		return t
	}
}

// File is one serialized file of an entry.
type File struct {
	Path     string
	Contents []byte
}

// CommittedState is the last-known committed state of an entry.
// A nil InitialState means the entry does not exist yet (creation mode).
type CommittedState struct {
	InitialState    Value
	InitialFiles    []string
	InitialContents map[string][]byte
	// TreeKey fingerprints the backing tree the state was read against.
	TreeKey string
	// BaseSHA is the commit the state was read from. Unversioned stores use the tree key.
	BaseSHA string
	Branch  string
}

// Exists reports whether the entry exists in the backing store.
func (c CommittedState) Exists() bool {
	return c.InitialState != nil
}

// EventType represents the type of change observed by the service.
type EventType string

const (
	EventTreeChanged  EventType = "TREE_CHANGED"
	EventDraftSaved   EventType = "DRAFT_SAVED"
	EventDraftDeleted EventType = "DRAFT_DELETED"
	EventCommitted    EventType = "COMMITTED"
	EventResync       EventType = "RESYNC"
)

// Event is emitted on tree, draft and commit changes.
type Event struct {
	Type      EventType
	Key       string
	TreeKey   string
	Timestamp int64 // Unix timestamp
}

func (e Event) String() string {
	if e.Key == "" {
		return fmt.Sprintf("%s tree=%s", e.Type, e.TreeKey)
	}
	return fmt.Sprintf("%s %s", e.Type, e.Key)
}

func newEvent(t EventType, key, treeKey string) Event {
	return Event{Type: t, Key: key, TreeKey: treeKey, Timestamp: time.Now().Unix()}
}

type contextKey string

// ChangeReasonKey is the context key for passing the commit message of an update.
const ChangeReasonKey contextKey = "change_reason"
