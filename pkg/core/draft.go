package core

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"time"
)

// DraftVersion is the only draft record version this package parses.
const DraftVersion = 1

// DraftRecord is a locally persisted, unsynced snapshot of an entry.
type DraftRecord struct {
	Version int       `json:"version"`
	SavedAt time.Time `json:"savedAt"`
	// BeforeTreeKey is the tree key the draft was taken against. Empty means unknown.
	BeforeTreeKey string            `json:"beforeTreeKey,omitempty"`
	Files         map[string][]byte `json:"files"`
}

// Stale reports whether the backing tree advanced since the draft was taken.
func (d DraftRecord) Stale(treeKey string) bool {
	return d.BeforeTreeKey != treeKey
}

// SameContent reports whether two drafts hold identical files against the same tree.
func (d DraftRecord) SameContent(other DraftRecord) bool {
	if d.BeforeTreeKey != other.BeforeTreeKey {
		return false
	}
	return maps.EqualFunc(d.Files, other.Files, bytes.Equal)
}

// EncodeDraft serializes a draft for storage.
func EncodeDraft(d DraftRecord) ([]byte, error) {
	if d.Version == 0 {
		d.Version = DraftVersion
	}
	return json.Marshal(d)
}

// DecodeDraft parses stored draft bytes. Records with an unrecognized version are
// discarded: the result is nil with no error.
func DecodeDraft(data []byte) (*DraftRecord, error) {
	var probe struct {
		Version int `json:"version"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDraftStoreCorrupt, err)
	}
	if probe.Version != DraftVersion {
		return nil, nil
	}
	var d DraftRecord
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDraftStoreCorrupt, err)
	}
	if d.Files == nil {
		d.Files = make(map[string][]byte)
	}
	return &d, nil
}

// FilesMap converts serialized files into the map stored in a draft.
func FilesMap(files []File) map[string][]byte {
	m := make(map[string][]byte, len(files))
	for _, f := range files {
		m[f.Path] = f.Contents
	}
	return m
}
