package fs

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const hashIndexVersion = 1

// hashEntry is the content hash of one file, valid while size and mtime match.
type hashEntry struct {
	Hash         uint64    `json:"hash"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"lastModified"`
}

// hashIndex is the persistent cache state.
type hashIndex struct {
	Version int                   `json:"version"`
	Entries map[string]*hashEntry `json:"entries"` // Key is relative path (e.g. "content/posts/a.md")
	dirty   bool
	mu      sync.RWMutex
}

// hashCache avoids rehashing unchanged files when the tree key is recomputed.
type hashCache struct {
	Path  string
	index *hashIndex
}

func newHashCache(root, systemDir string) *hashCache {
	return &hashCache{
		Path: filepath.Join(root, systemDir, "hashes.json"),
		index: &hashIndex{
			Version: hashIndexVersion,
			Entries: make(map[string]*hashEntry),
		},
	}
}

// Load reads the cache from disk. A missing, corrupt or outdated file yields an empty cache.
func (c *hashCache) Load() error {
	c.index.mu.Lock()
	defer c.index.mu.Unlock()

	data, err := os.ReadFile(c.Path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read hash cache: %w", err)
	}

	if err := json.Unmarshal(data, c.index); err != nil || c.index.Version != hashIndexVersion {
		c.index.Version = hashIndexVersion
		c.index.Entries = make(map[string]*hashEntry)
		return nil
	}
	if c.index.Entries == nil {
		c.index.Entries = make(map[string]*hashEntry)
	}
	c.index.dirty = false
	return nil
}

// Save persists the cache if it changed since the last load or save.
func (c *hashCache) Save() error {
	c.index.mu.RLock()
	if !c.index.dirty {
		c.index.mu.RUnlock()
		return nil
	}
	data, err := json.Marshal(c.index)
	c.index.mu.RUnlock()
	if err != nil {
		return err
	}

	if err := writeFileAtomic(c.Path, data, 0644); err != nil {
		return err
	}

	c.index.mu.Lock()
	c.index.dirty = false
	c.index.mu.Unlock()
	return nil
}

// Get returns the cached hash of relPath if the file is unchanged.
func (c *hashCache) Get(relPath string, info os.FileInfo) (uint64, bool) {
	c.index.mu.RLock()
	defer c.index.mu.RUnlock()

	entry, ok := c.index.Entries[relPath]
	if !ok || entry.Size != info.Size() || !entry.LastModified.Equal(info.ModTime()) {
		return 0, false
	}
	return entry.Hash, true
}

// Set records the hash of relPath.
func (c *hashCache) Set(relPath string, info os.FileInfo, hash uint64) {
	c.index.mu.Lock()
	defer c.index.mu.Unlock()

	c.index.Entries[relPath] = &hashEntry{Hash: hash, Size: info.Size(), LastModified: info.ModTime()}
	c.index.dirty = true
}

// Prune removes entries that are not in the keep set.
func (c *hashCache) Prune(keep map[string]bool) {
	c.index.mu.Lock()
	defer c.index.mu.Unlock()

	for path := range c.index.Entries {
		if !keep[path] {
			delete(c.index.Entries, path)
			c.index.dirty = true
		}
	}
}

// Len returns the number of entries in the cache.
func (c *hashCache) Len() int {
	c.index.mu.RLock()
	defer c.index.mu.RUnlock()
	return len(c.index.Entries)
}
