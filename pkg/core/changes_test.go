package core_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/aretw0/tilth/pkg/core"
)

func TestHasChanged(t *testing.T) {
	codec := newJSONCodec("slug", "title", "tags")
	codec.slug = "slug"
	base := core.Value{"slug": "hello", "title": "Hello", "tags": []any{"a", "b"}}

	tests := []struct {
		name     string
		baseline core.Value
		current  core.Value
		want     bool
	}{
		{"creation mode is always changed", nil, base.Clone(), true},
		{"identical value", base, base.Clone(), false},
		{"slug only", base, core.Value{"slug": "bye", "title": "Hello", "tags": []any{"a", "b"}}, true},
		{"title", base, core.Value{"slug": "hello", "title": "Hi", "tags": []any{"a", "b"}}, true},
		{"nested list", base, core.Value{"slug": "hello", "title": "Hello", "tags": []any{"a"}}, true},
		{"fields outside the schema are ignored", base, core.Value{"slug": "hello", "title": "Hello", "tags": []any{"a", "b"}, "x": 1}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, core.HasChanged(codec, tt.baseline, tt.current))
		})
	}
}

func TestChangedFields(t *testing.T) {
	codec := newJSONCodec("a", "b", "c")
	got := core.ChangedFields(codec, core.Value{"a": 1, "b": 2, "c": 3}, core.Value{"a": 1, "b": 5, "c": 4})
	assert.Equal(t, []string{"b", "c"}, got)
	assert.True(t, core.ValuesEqual(codec, core.Value{"a": 1}, core.Value{"a": 1}))
	assert.False(t, core.ValuesEqual(codec, nil, core.Value{}))
}

func TestDiff(t *testing.T) {
	committed := core.CommittedState{
		InitialFiles: []string{"p/a.json", "p/a/body.md", "p/a/old.md"},
		InitialContents: map[string][]byte{
			"p/a.json":    []byte("1"),
			"p/a/body.md": []byte("body"),
			"p/a/old.md":  []byte("old"),
		},
	}
	cs := core.Diff(committed, []core.File{
		{Path: "p/a.json", Contents: []byte("2")},
		{Path: "p/a/body.md", Contents: []byte("body")},
		{Path: "p/a/new.md", Contents: []byte("new")},
	})
	assert.Equal(t, []core.File{{Path: "p/a/new.md", Contents: []byte("new")}}, cs.Added)
	assert.Equal(t, []core.File{{Path: "p/a.json", Contents: []byte("2")}}, cs.Modified)
	assert.Equal(t, []string{"p/a/old.md"}, cs.Deleted)
	assert.False(t, cs.Empty())

	assert.True(t, core.Diff(committed, []core.File{
		{Path: "p/a.json", Contents: []byte("1")},
		{Path: "p/a/body.md", Contents: []byte("body")},
		{Path: "p/a/old.md", Contents: []byte("old")},
	}).Empty())
}

func TestEntryIdentity(t *testing.T) {
	t.Run("Keys", func(t *testing.T) {
		assert.Equal(t, "collection/posts/hello", core.CollectionEntry("posts", "hello").Key())
		assert.Equal(t, "singleton/settings", core.Singleton("settings").Key())
		assert.Equal(t, "main/singleton/settings", core.DocumentKey("main", core.Singleton("settings")))
	})

	t.Run("Parse", func(t *testing.T) {
		for in, want := range map[string]core.EntryIdentity{
			"singleton/settings":     core.Singleton("settings"),
			"settings":               core.Singleton("settings"),
			"collection/posts/hello": core.CollectionEntry("posts", "hello"),
			"posts/hello":            core.CollectionEntry("posts", "hello"),
		} {
			got, err := core.ParseIdentity(in)
			assert.NoError(t, err, in)
			assert.Equal(t, want, got, in)
		}
		_, err := core.ParseIdentity("a/b/c/d")
		assert.Error(t, err)
		_, err = core.ParseIdentity("singleton/a/b")
		assert.Error(t, err)
	})

	t.Run("Validate", func(t *testing.T) {
		assert.Error(t, core.EntryIdentity{Kind: core.KindSingleton, Name: "s", Slug: "x"}.Validate())
		assert.Error(t, core.EntryIdentity{Kind: core.KindCollection, Name: "posts"}.Validate())
		assert.Error(t, core.EntryIdentity{Kind: "other", Name: "x"}.Validate())
		assert.NoError(t, core.CollectionEntry("posts", "x").Validate())
	})
}
