package fs

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestHashCache_Load(t *testing.T) {
	t.Run("Starts Empty if File Missing", func(t *testing.T) {
		c := newHashCache(t.TempDir(), ".tilth")
		if err := c.Load(); err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if c.Len() != 0 {
			t.Errorf("Expected empty entries, got %d", c.Len())
		}
	})

	t.Run("Resets on Corrupted JSON", func(t *testing.T) {
		tmpDir := t.TempDir()
		os.MkdirAll(filepath.Join(tmpDir, ".tilth"), 0755)
		os.WriteFile(filepath.Join(tmpDir, ".tilth", "hashes.json"), []byte("{invalid"), 0644)

		c := newHashCache(tmpDir, ".tilth")
		if err := c.Load(); err != nil {
			t.Fatalf("Load should self-heal, got: %v", err)
		}
		if c.Len() != 0 {
			t.Errorf("Expected empty entries after corruption, got %d", c.Len())
		}
	})

	t.Run("Resets on Unknown Version", func(t *testing.T) {
		tmpDir := t.TempDir()
		os.MkdirAll(filepath.Join(tmpDir, ".tilth"), 0755)
		os.WriteFile(filepath.Join(tmpDir, ".tilth", "hashes.json"),
			[]byte(`{"version": 99, "entries": {"a.md": {"hash": 1}}}`), 0644)

		c := newHashCache(tmpDir, ".tilth")
		if err := c.Load(); err != nil {
			t.Fatal(err)
		}
		if c.Len() != 0 {
			t.Errorf("Expected entries of another version to be dropped, got %d", c.Len())
		}
	})
}

func TestHashCache_Freshness(t *testing.T) {
	tmpDir := t.TempDir()
	file := filepath.Join(tmpDir, "a.md")
	os.WriteFile(file, []byte("one"), 0644)
	info, _ := os.Stat(file)

	c := newHashCache(tmpDir, ".tilth")
	c.Set("a.md", info, 42)

	if h, ok := c.Get("a.md", info); !ok || h != 42 {
		t.Fatalf("Expected hit with 42, got %d (%v)", h, ok)
	}

	// Change content and mtime.
	os.WriteFile(file, []byte("three"), 0644)
	later := time.Now().Add(time.Hour)
	os.Chtimes(file, later, later)
	info2, _ := os.Stat(file)
	if _, ok := c.Get("a.md", info2); ok {
		t.Error("Expected miss after modification")
	}
}

func TestHashCache_SaveAndReload(t *testing.T) {
	tmpDir := t.TempDir()
	file := filepath.Join(tmpDir, "a.md")
	os.WriteFile(file, []byte("one"), 0644)
	info, _ := os.Stat(file)

	c := newHashCache(tmpDir, ".tilth")
	c.Set("a.md", info, 7)
	c.Set("gone.md", info, 8)
	c.Prune(map[string]bool{"a.md": true})
	if err := c.Save(); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	reloaded := newHashCache(tmpDir, ".tilth")
	if err := reloaded.Load(); err != nil {
		t.Fatal(err)
	}
	if reloaded.Len() != 1 {
		t.Fatalf("Expected 1 entry, got %d", reloaded.Len())
	}
	if h, ok := reloaded.Get("a.md", info); !ok || h != 7 {
		t.Errorf("Expected reloaded hit with 7, got %d (%v)", h, ok)
	}
}
