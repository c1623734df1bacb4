package fs_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/aretw0/tilth/pkg/adapters/fs"
	"github.com/aretw0/tilth/pkg/core"
)

func TestDraftStore(t *testing.T) {
	ctx := context.Background()
	dir := fs.DraftDir(t.TempDir(), "")
	store := fs.NewDraftStore(dir)

	post := core.CollectionEntry("posts", "hello")
	settings := core.Singleton("settings")

	got, err := store.Get(ctx, post)
	if err != nil || got != nil {
		t.Fatalf("expected no draft, got %v, %v", got, err)
	}

	draft := core.DraftRecord{
		Version:       core.DraftVersion,
		SavedAt:       time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		BeforeTreeKey: "tree-1",
		Files:         map[string][]byte{"content/posts/hello.md": []byte("hi")},
	}
	for _, id := range []core.EntryIdentity{post, settings} {
		if err := store.Set(ctx, id, draft); err != nil {
			t.Fatalf("Set %s failed: %v", id, err)
		}
	}

	got, err = store.Get(ctx, post)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !got.SavedAt.Equal(draft.SavedAt) || got.BeforeTreeKey != "tree-1" ||
		!reflect.DeepEqual(got.Files, draft.Files) {
		t.Errorf("unexpected draft %+v", got)
	}

	// Stray files are not drafts.
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"%zz.json", "a%2Fb%2Fc%2Fd.json"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("{}"), 0644); err != nil {
			t.Fatal(err)
		}
	}

	ids, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	want := []core.EntryIdentity{post, settings}
	if !reflect.DeepEqual(ids, want) {
		t.Errorf("List = %v, want %v", ids, want)
	}

	if err := store.Delete(ctx, post); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := store.Delete(ctx, post); err != nil {
		t.Errorf("second Delete should be a no-op: %v", err)
	}
	if got, _ := store.Get(ctx, post); got != nil {
		t.Error("draft should be gone")
	}
}

func TestDraftStoreCorrupt(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := fs.NewDraftStore(dir)
	id := core.Singleton("settings")

	if err := store.Set(ctx, id, core.DraftRecord{Version: core.DraftVersion, Files: map[string][]byte{}}); err != nil {
		t.Fatal(err)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Fatalf("expected one draft file, got %d", len(entries))
	}
	if err := os.WriteFile(filepath.Join(dir, entries[0].Name()), []byte("not json"), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := store.Get(ctx, id); !errors.Is(err, core.ErrDraftStoreCorrupt) {
		t.Errorf("expected ErrDraftStoreCorrupt, got %v", err)
	}
}

func TestDraftStoreMissingDir(t *testing.T) {
	store := fs.NewDraftStore(filepath.Join(t.TempDir(), "nope"))
	ids, err := store.List(context.Background())
	if err != nil || len(ids) != 0 {
		t.Errorf("expected empty list, got %v, %v", ids, err)
	}
}
