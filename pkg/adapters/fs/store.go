// Package fs implements the committed-state store and the draft store on a plain
// directory tree. The tree key of the store fingerprints every content file.
package fs

import (
	"context"
	"encoding/binary"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/errgroup"

	"github.com/aretw0/tilth/pkg/core"
)

// DefaultSystemDir holds the lock, hash cache and drafts of a store.
const DefaultSystemDir = ".tilth"

// Config holds the configuration for the filesystem store.
type Config struct {
	Path      string
	MustExist bool
	ReadOnly  bool
	Logger    *slog.Logger
	SystemDir string // e.g. ".tilth"
	// Parallelism bounds concurrent file hashing. Zero uses GOMAXPROCS.
	Parallelism int
	// ErrorHandler receives errors of background goroutines.
	ErrorHandler func(error)
}

// Store implements core.BackingStore on a directory tree.
type Store struct {
	Path   string
	config Config
	logger *slog.Logger
	lock   *fileLock
	hashes *hashCache

	mu            sync.RWMutex
	watcherActive bool
	lastTreeKey   string
	lastCommit    *time.Time
	commits       int
}

// NewStore creates a new filesystem store.
func NewStore(config Config) *Store {
	if config.SystemDir == "" {
		config.SystemDir = DefaultSystemDir
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}
	if config.Parallelism <= 0 {
		config.Parallelism = runtime.GOMAXPROCS(0)
	}
	return &Store{
		Path:   config.Path,
		config: config,
		logger: config.Logger,
		lock:   newFileLock(filepath.Join(config.Path, config.SystemDir, "store.lock")),
		hashes: newHashCache(config.Path, config.SystemDir),
	}
}

// Initialize creates the content directory and the system directory, and keeps the
// system directory out of version control when the tree is a git checkout.
func (s *Store) Initialize(ctx context.Context) error {
	if s.config.MustExist {
		info, err := os.Stat(s.Path)
		if os.IsNotExist(err) {
			return fmt.Errorf("content path does not exist: %s", s.Path)
		}
		if err != nil {
			return err
		}
		if !info.IsDir() {
			return fmt.Errorf("content path is not a directory: %s", s.Path)
		}
	} else if err := os.MkdirAll(s.Path, 0755); err != nil {
		return fmt.Errorf("failed to create content directory: %w", err)
	}

	if !s.config.ReadOnly {
		if err := os.MkdirAll(filepath.Join(s.Path, s.config.SystemDir), 0755); err != nil {
			return fmt.Errorf("failed to create system directory: %w", err)
		}
		if _, err := os.Stat(filepath.Join(s.Path, ".git")); err == nil {
			if _, err := ensureIgnore(s.Path, s.config.SystemDir); err != nil {
				return fmt.Errorf("failed to ensure .gitignore: %w", err)
			}
		}
	}
	return s.hashes.Load()
}

// ensureIgnore appends the system directory to .gitignore. It reports whether the file changed.
func ensureIgnore(root, systemDir string) (bool, error) {
	ignorePath := filepath.Join(root, ".gitignore")
	ignoreEntry := systemDir + "/"

	content, err := os.ReadFile(ignorePath)
	if err != nil && !os.IsNotExist(err) {
		return false, err
	}
	for _, line := range strings.Split(string(content), "\n") {
		if strings.TrimSpace(line) == ignoreEntry {
			return false, nil
		}
	}

	f, err := os.OpenFile(ignorePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return false, err
	}
	defer f.Close()

	if len(content) > 0 && !strings.HasSuffix(string(content), "\n") {
		if _, err := f.WriteString("\n"); err != nil {
			return false, err
		}
	}
	if _, err := f.WriteString(ignoreEntry + "\n"); err != nil {
		return false, err
	}
	return true, nil
}

// Load implements core.BackingStore. The branch is ignored: a directory has one tree.
// The entry consists of "<basePath>.<ext>" and every file below "<basePath>/".
func (s *Store) Load(ctx context.Context, branch, basePath string) (core.LoadResult, error) {
	rel, err := s.cleanRel(basePath)
	if err != nil {
		return core.LoadResult{}, err
	}
	treeKey, err := s.TreeKey(ctx)
	if err != nil {
		return core.LoadResult{}, err
	}
	res := core.LoadResult{Files: make(map[string][]byte), TreeKey: treeKey, BaseSHA: treeKey, Branch: branch}

	dir := filepath.Join(s.Path, filepath.FromSlash(path.Dir(rel)))
	name := path.Base(rel)
	entries, err := os.ReadDir(dir)
	if err != nil && !os.IsNotExist(err) {
		return core.LoadResult{}, fmt.Errorf("failed to read %s: %w", dir, err)
	}
	for _, e := range entries {
		if e.IsDir() || isTempFile(e.Name()) {
			continue
		}
		ext := path.Ext(e.Name())
		if ext == "" || strings.TrimSuffix(e.Name(), ext) != name {
			continue
		}
		if err := s.readInto(res.Files, path.Join(path.Dir(rel), e.Name())); err != nil {
			return core.LoadResult{}, err
		}
	}

	sub := filepath.Join(s.Path, filepath.FromSlash(rel))
	err = filepath.WalkDir(sub, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return filepath.SkipDir
			}
			return err
		}
		if d.IsDir() || isTempFile(d.Name()) {
			return nil
		}
		r, err := filepath.Rel(s.Path, p)
		if err != nil {
			return err
		}
		return s.readInto(res.Files, filepath.ToSlash(r))
	})
	if err != nil {
		return core.LoadResult{}, fmt.Errorf("failed to read %s: %w", rel, err)
	}

	if len(res.Files) == 0 {
		return res, core.ErrNotFound
	}
	return res, nil
}

func (s *Store) readInto(files map[string][]byte, rel string) error {
	data, err := os.ReadFile(filepath.Join(s.Path, filepath.FromSlash(rel)))
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", rel, err)
	}
	files[rel] = data
	return nil
}

// cleanRel normalizes a slash path and rejects paths leaving the root or touching the
// system directory.
func (s *Store) cleanRel(p string) (string, error) {
	rel := path.Clean(strings.TrimPrefix(filepath.ToSlash(p), "/"))
	if rel == "." || rel == ".." || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("invalid path %q", p)
	}
	if rel == s.config.SystemDir || strings.HasPrefix(rel, s.config.SystemDir+"/") ||
		rel == ".git" || strings.HasPrefix(rel, ".git/") {
		return "", fmt.Errorf("path %q is reserved", p)
	}
	return rel, nil
}

// Commit implements core.BackingStore. The base is the tree key the changes were
// computed against; an empty base skips the check.
func (s *Store) Commit(ctx context.Context, req core.CommitRequest) (core.CommitResult, error) {
	if s.config.ReadOnly {
		return core.CommitResult{}, core.ErrReadOnly
	}

	unlock, err := s.lock.Acquire(ctx)
	if err != nil {
		return core.CommitResult{}, err
	}
	defer unlock()

	current, err := s.TreeKey(ctx)
	if err != nil {
		return core.CommitResult{}, err
	}
	if req.BaseSHA != "" && req.BaseSHA != current {
		s.logger.Warn("commit rejected, tree moved", "base", req.BaseSHA, "tree", current)
		return core.CommitResult{}, &core.BranchDivergedError{Reason: "stale", BranchOid: req.BaseSHA}
	}

	cs := newChangeSet(s)
	for _, f := range req.Additions {
		if err := cs.write(f.Path, f.Contents); err != nil {
			return core.CommitResult{}, err
		}
	}
	for _, p := range req.Deletions {
		if err := cs.remove(p); err != nil {
			return core.CommitResult{}, err
		}
	}
	if err := cs.apply(); err != nil {
		return core.CommitResult{}, err
	}

	treeKey, err := s.TreeKey(ctx)
	if err != nil {
		return core.CommitResult{}, err
	}

	s.mu.Lock()
	now := time.Now()
	s.lastCommit = &now
	s.commits++
	s.mu.Unlock()

	s.logger.Info("changes written", "message", req.Message, "additions", len(req.Additions),
		"deletions", len(req.Deletions), "tree", treeKey)
	return core.CommitResult{SHA: treeKey, TreeKey: treeKey}, nil
}

// List implements core.Lister with doublestar patterns relative to the root.
func (s *Store) List(ctx context.Context, branch, pattern string) ([]string, error) {
	matches, err := doublestar.Glob(os.DirFS(s.Path), pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}
	out := matches[:0]
	for _, m := range matches {
		if _, err := s.cleanRel(m); err != nil || isTempFile(path.Base(m)) {
			continue
		}
		out = append(out, m)
	}
	sort.Strings(out)
	return out, nil
}

// TreeKey fingerprints the content tree: the xxhash of every file path and content hash
// in path order. Content hashes are cached by size and mtime.
func (s *Store) TreeKey(ctx context.Context) (string, error) {
	paths, err := s.contentFiles()
	if err != nil {
		return "", err
	}

	hashes := make([]uint64, len(paths))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.config.Parallelism)
	for i, rel := range paths {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			h, err := s.fileHash(rel)
			if err != nil {
				return err
			}
			hashes[i] = h
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", fmt.Errorf("failed to fingerprint tree: %w", err)
	}

	digest := xxhash.New()
	keep := make(map[string]bool, len(paths))
	var buf [8]byte
	for i, rel := range paths {
		keep[rel] = true
		digest.WriteString(rel)
		digest.Write([]byte{0})
		binary.BigEndian.PutUint64(buf[:], hashes[i])
		digest.Write(buf[:])
	}
	key := fmt.Sprintf("%016x", digest.Sum64())

	s.hashes.Prune(keep)
	if !s.config.ReadOnly {
		if err := s.hashes.Save(); err != nil {
			s.logger.Debug("failed to persist hash cache", "error", err)
		}
	}

	s.mu.Lock()
	s.lastTreeKey = key
	s.mu.Unlock()
	return key, nil
}

func (s *Store) fileHash(rel string) (uint64, error) {
	full := filepath.Join(s.Path, filepath.FromSlash(rel))
	info, err := os.Stat(full)
	if err != nil {
		return 0, err
	}
	if h, ok := s.hashes.Get(rel, info); ok {
		return h, nil
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return 0, err
	}
	h := xxhash.Sum64(data)
	s.hashes.Set(rel, info, h)
	return h, nil
}

// contentFiles lists every content file as a sorted slash path.
func (s *Store) contentFiles() ([]string, error) {
	var paths []string
	err := filepath.WalkDir(s.Path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && p == s.Path {
				return filepath.SkipDir
			}
			return err
		}
		if d.IsDir() {
			if p != s.Path && s.ignoredDir(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if isTempFile(d.Name()) {
			return nil
		}
		rel, err := filepath.Rel(s.Path, p)
		if err != nil {
			return err
		}
		paths = append(paths, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", s.Path, err)
	}
	sort.Strings(paths)
	return paths, nil
}

func (s *Store) ignoredDir(name string) bool {
	return name == s.config.SystemDir || name == ".git"
}

func isTempFile(name string) bool {
	return strings.HasPrefix(name, TempFilePrefix)
}

var (
	_ core.BackingStore = (*Store)(nil)
	_ core.Lister       = (*Store)(nil)
	_ core.Watchable    = (*Store)(nil)
)
