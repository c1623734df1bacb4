package fs

import (
	"os"
	"path/filepath"
	"testing"
)

func TestWriteFileAtomic(t *testing.T) {
	t.Run("Creates New File", func(t *testing.T) {
		tmpDir := t.TempDir()
		filename := filepath.Join(tmpDir, "test.txt")
		content := []byte("hello atomic")

		if err := writeFileAtomic(filename, content, 0644); err != nil {
			t.Fatalf("writeFileAtomic failed: %v", err)
		}

		got, err := os.ReadFile(filename)
		if err != nil {
			t.Fatalf("Failed to read file: %v", err)
		}
		if string(got) != string(content) {
			t.Errorf("Expected content 'hello atomic', got '%s'", string(got))
		}
	})

	t.Run("Overwrites Existing File", func(t *testing.T) {
		tmpDir := t.TempDir()
		filename := filepath.Join(tmpDir, "test.txt")

		if err := os.WriteFile(filename, []byte("initial"), 0644); err != nil {
			t.Fatalf("Setup failed: %v", err)
		}

		if err := writeFileAtomic(filename, []byte("overwritten"), 0644); err != nil {
			t.Fatalf("writeFileAtomic failed: %v", err)
		}

		got, err := os.ReadFile(filename)
		if err != nil {
			t.Fatalf("Failed to read file: %v", err)
		}
		if string(got) != "overwritten" {
			t.Errorf("Expected content 'overwritten', got '%s'", string(got))
		}
	})

	t.Run("Creates Missing Directories", func(t *testing.T) {
		tmpDir := t.TempDir()
		filename := filepath.Join(tmpDir, "a", "b", "test.txt")

		if err := writeFileAtomic(filename, []byte("nested"), 0644); err != nil {
			t.Fatalf("writeFileAtomic failed: %v", err)
		}
		if _, err := os.Stat(filename); err != nil {
			t.Fatalf("File was not created: %v", err)
		}
	})

	t.Run("Leaves No Temp Files", func(t *testing.T) {
		tmpDir := t.TempDir()
		if err := writeFileAtomic(filepath.Join(tmpDir, "x.txt"), []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
		matches, _ := filepath.Glob(filepath.Join(tmpDir, TempFilePrefix+"*"))
		if len(matches) != 0 {
			t.Errorf("Expected no temp files, got %v", matches)
		}
	})
}

func TestRemoveEmptyParents(t *testing.T) {
	root := t.TempDir()
	file := filepath.Join(root, "a", "b", "c.txt")
	if err := writeFileAtomic(file, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := writeFileAtomic(filepath.Join(root, "a", "keep.txt"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(file); err != nil {
		t.Fatal(err)
	}

	removeEmptyParents(root, file)

	if _, err := os.Stat(filepath.Join(root, "a", "b")); !os.IsNotExist(err) {
		t.Error("Expected empty directory to be removed")
	}
	if _, err := os.Stat(filepath.Join(root, "a")); err != nil {
		t.Error("Expected non-empty directory to be kept")
	}
}
