package fs

import (
	"context"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/aretw0/tilth/pkg/core"
)

// DraftStore keeps one JSON draft file per entry below "<root>/<systemDir>/drafts".
type DraftStore struct {
	Dir string
}

// NewDraftStore creates a draft store rooted at dir. The directory is created on first write.
func NewDraftStore(dir string) *DraftStore {
	return &DraftStore{Dir: dir}
}

// DraftDir returns the default draft directory of a content root.
func DraftDir(root, systemDir string) string {
	if systemDir == "" {
		systemDir = DefaultSystemDir
	}
	return filepath.Join(root, systemDir, "drafts")
}

func (s *DraftStore) file(id core.EntryIdentity) string {
	return filepath.Join(s.Dir, url.PathEscape(id.Key())+".json")
}

// Get implements core.DraftStore.
func (s *DraftStore) Get(ctx context.Context, id core.EntryIdentity) (*core.DraftRecord, error) {
	data, err := os.ReadFile(s.file(id))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read draft %s: %w", id, err)
	}
	return core.DecodeDraft(data)
}

// Set implements core.DraftStore.
func (s *DraftStore) Set(ctx context.Context, id core.EntryIdentity, d core.DraftRecord) error {
	data, err := core.EncodeDraft(d)
	if err != nil {
		return err
	}
	if err := writeFileAtomic(s.file(id), data, 0644); err != nil {
		return fmt.Errorf("failed to write draft %s: %w", id, err)
	}
	return nil
}

// Delete implements core.DraftStore.
func (s *DraftStore) Delete(ctx context.Context, id core.EntryIdentity) error {
	if err := os.Remove(s.file(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete draft %s: %w", id, err)
	}
	return nil
}

// List implements core.DraftStore. Files whose name is not an entry key are skipped.
func (s *DraftStore) List(ctx context.Context) ([]core.EntryIdentity, error) {
	entries, err := os.ReadDir(s.Dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list drafts: %w", err)
	}
	var ids []core.EntryIdentity
	for _, e := range entries {
		if !isDraftFile(e) {
			continue
		}
		key, err := url.PathUnescape(strings.TrimSuffix(e.Name(), ".json"))
		if err != nil {
			continue
		}
		id, err := core.ParseIdentity(key)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].Key() < ids[j].Key() })
	return ids, nil
}

func isDraftFile(e fs.DirEntry) bool {
	return !e.IsDir() && strings.HasSuffix(e.Name(), ".json") && !isTempFile(e.Name())
}

var _ core.DraftStore = (*DraftStore)(nil)
