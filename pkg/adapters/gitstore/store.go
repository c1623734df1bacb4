// Package gitstore implements a versioned committed-state store on a git repository.
// Loads read the tree of a branch head; commits are rejected when the branch moved
// since the state was read.
package gitstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/aretw0/tilth/pkg/core"
)

// DefaultBranch is used when neither the config nor a request names a branch.
const DefaultBranch = "main"

// Config holds the configuration for the git store.
type Config struct {
	Path string
	// Branch is the default branch.
	Branch string
	// ReadOnly marks the repository as not writable by the acting user: commits
	// fail with core.ErrNeedsFork until Fork is called.
	ReadOnly bool
	// ForkPath is where Fork places the writable copy. Defaults to Path + "-fork".
	ForkPath    string
	AuthorName  string
	AuthorEmail string
	Logger      *slog.Logger
}

// Store implements core.BackingStore on a non-bare git repository.
type Store struct {
	config Config
	logger *slog.Logger

	mu         sync.Mutex
	path       string
	repo       *git.Repository
	readOnly   bool
	forked     bool
	commits    int
	lastCommit string
}

// New returns a store for the repository at config.Path. Call Initialize before use.
func New(config Config) *Store {
	if config.Branch == "" {
		config.Branch = DefaultBranch
	}
	if config.ForkPath == "" {
		config.ForkPath = strings.TrimRight(config.Path, string(filepath.Separator)) + "-fork"
	}
	if config.AuthorName == "" {
		config.AuthorName = "tilth"
	}
	if config.AuthorEmail == "" {
		config.AuthorEmail = "tilth@localhost"
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}
	return &Store{
		config:   config,
		logger:   config.Logger,
		path:     config.Path,
		readOnly: config.ReadOnly,
	}
}

// Initialize opens the repository, creating it with an empty first commit on the
// default branch when the directory holds none.
func (s *Store) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	repo, err := git.PlainOpen(s.path)
	if err == nil {
		s.repo = repo
		return nil
	}
	if !errors.Is(err, git.ErrRepositoryNotExists) {
		return fmt.Errorf("open repo: %w", err)
	}
	if s.readOnly {
		return fmt.Errorf("open repo %s: %w", s.path, err)
	}

	if err := os.MkdirAll(s.path, 0o755); err != nil {
		return fmt.Errorf("create repo dir: %w", err)
	}
	repo, err = git.PlainInit(s.path, false)
	if err != nil {
		return fmt.Errorf("init repo: %w", err)
	}
	branchRef := plumbing.NewBranchReferenceName(s.config.Branch)
	if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, branchRef)); err != nil {
		return fmt.Errorf("set HEAD to %s: %w", s.config.Branch, err)
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("open worktree: %w", err)
	}
	if _, err := worktree.Commit("Initialize content repository", &git.CommitOptions{
		AllowEmptyCommits: true,
		Author:            s.signature(),
	}); err != nil {
		return fmt.Errorf("commit initial tree: %w", err)
	}
	s.repo = repo
	s.logger.Info("initialized content repository", "path", s.path, "branch", s.config.Branch)
	return nil
}

func (s *Store) signature() *object.Signature {
	return &object.Signature{
		Name:  s.config.AuthorName,
		Email: s.config.AuthorEmail,
		When:  time.Now(),
	}
}

func (s *Store) branchName(branch string) string {
	if branch == "" {
		return s.config.Branch
	}
	return branch
}

// head resolves the commit a branch points to.
func (s *Store) head(branch string) (*object.Commit, error) {
	if s.repo == nil {
		return nil, fmt.Errorf("repository not initialized")
	}
	ref, err := s.repo.Reference(plumbing.NewBranchReferenceName(branch), true)
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return nil, fmt.Errorf("%w: %s", core.ErrBranchNotFound, branch)
	}
	if err != nil {
		return nil, fmt.Errorf("resolve branch %s: %w", branch, err)
	}
	commitObj, err := s.repo.CommitObject(ref.Hash())
	if err != nil {
		return nil, fmt.Errorf("load commit object: %w", err)
	}
	return commitObj, nil
}

// Load implements core.BackingStore. TreeKey is the hash of the branch head tree and
// BaseSHA the head commit.
func (s *Store) Load(ctx context.Context, branch, basePath string) (core.LoadResult, error) {
	rel, err := cleanRel(basePath)
	if err != nil {
		return core.LoadResult{}, err
	}
	branch = s.branchName(branch)

	s.mu.Lock()
	defer s.mu.Unlock()

	commitObj, err := s.head(branch)
	if err != nil {
		return core.LoadResult{}, err
	}
	tree, err := commitObj.Tree()
	if err != nil {
		return core.LoadResult{}, fmt.Errorf("load tree: %w", err)
	}

	res := core.LoadResult{
		Files:   make(map[string][]byte),
		TreeKey: tree.Hash.String(),
		BaseSHA: commitObj.Hash.String(),
		Branch:  branch,
	}
	dir, name := path.Dir(rel), path.Base(rel)
	err = tree.Files().ForEach(func(f *object.File) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !belongsTo(f.Name, rel, dir, name) {
			return nil
		}
		data, err := readFile(f)
		if err != nil {
			return err
		}
		res.Files[f.Name] = data
		return nil
	})
	if err != nil {
		return core.LoadResult{}, fmt.Errorf("read %s on %s: %w", rel, branch, err)
	}
	if len(res.Files) == 0 {
		return res, core.ErrNotFound
	}
	return res, nil
}

// belongsTo reports whether file is "<rel>.<ext>" or lives below "<rel>/".
func belongsTo(file, rel, dir, name string) bool {
	if strings.HasPrefix(file, rel+"/") {
		return true
	}
	if path.Dir(file) != dir {
		return false
	}
	base := path.Base(file)
	ext := path.Ext(base)
	return ext != "" && strings.TrimSuffix(base, ext) == name
}

func readFile(f *object.File) ([]byte, error) {
	reader, err := f.Reader()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", f.Name, err)
	}
	defer reader.Close()
	return io.ReadAll(reader)
}

func cleanRel(p string) (string, error) {
	rel := path.Clean(strings.TrimPrefix(filepath.ToSlash(p), "/"))
	if rel == "." || rel == ".." || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("invalid path %q", p)
	}
	if rel == ".git" || strings.HasPrefix(rel, ".git/") {
		return "", fmt.Errorf("path %q is reserved", p)
	}
	return rel, nil
}

// Commit implements core.BackingStore. The branch head must equal req.BaseSHA; a
// missing branch or a moved head yields *core.BranchDivergedError carrying the base.
func (s *Store) Commit(ctx context.Context, req core.CommitRequest) (core.CommitResult, error) {
	branch := s.branchName(req.Branch)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.readOnly {
		return core.CommitResult{}, core.ErrNeedsFork
	}
	headCommit, err := s.head(branch)
	if errors.Is(err, core.ErrBranchNotFound) {
		return core.CommitResult{}, &core.BranchDivergedError{Reason: "branch-missing", BranchOid: req.BaseSHA}
	}
	if err != nil {
		return core.CommitResult{}, err
	}
	if req.BaseSHA != "" && headCommit.Hash.String() != req.BaseSHA {
		s.logger.Warn("commit rejected, branch moved", "branch", branch, "base", req.BaseSHA, "head", headCommit.Hash.String())
		return core.CommitResult{}, &core.BranchDivergedError{Reason: "stale", BranchOid: req.BaseSHA}
	}

	worktree, err := s.repo.Worktree()
	if err != nil {
		return core.CommitResult{}, fmt.Errorf("open worktree: %w", err)
	}
	if err := worktree.Checkout(&git.CheckoutOptions{Branch: plumbing.NewBranchReferenceName(branch), Force: true}); err != nil {
		return core.CommitResult{}, fmt.Errorf("checkout branch %s: %w", branch, err)
	}

	var hash plumbing.Hash
	err = s.stage(worktree, req)
	if err == nil {
		message := req.Message
		if message == "" {
			message = "Update content"
		}
		hash, err = worktree.Commit(message, &git.CommitOptions{
			AllowEmptyCommits: true,
			Author:            s.signature(),
		})
	}
	if err != nil {
		if rerr := worktree.Reset(&git.ResetOptions{Commit: headCommit.Hash, Mode: git.HardReset}); rerr != nil {
			err = errors.Join(err, fmt.Errorf("reset worktree: %w", rerr))
		}
		return core.CommitResult{}, fmt.Errorf("commit content: %w", err)
	}

	commitObj, err := s.repo.CommitObject(hash)
	if err != nil {
		return core.CommitResult{}, fmt.Errorf("read commit object: %w", err)
	}
	s.commits++
	s.lastCommit = hash.String()
	s.logger.Info("committed", "branch", branch, "sha", hash.String(), "additions", len(req.Additions), "deletions", len(req.Deletions))
	return core.CommitResult{SHA: hash.String(), TreeKey: commitObj.TreeHash.String()}, nil
}

// stage writes the additions and removes the deletions in the worktree.
func (s *Store) stage(worktree *git.Worktree, req core.CommitRequest) error {
	root := worktree.Filesystem.Root()
	for _, f := range req.Additions {
		rel, err := cleanRel(f.Path)
		if err != nil {
			return err
		}
		full := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			return fmt.Errorf("create dir for %s: %w", rel, err)
		}
		if err := os.WriteFile(full, f.Contents, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", rel, err)
		}
		if _, err := worktree.Add(rel); err != nil {
			return fmt.Errorf("git add %s: %w", rel, err)
		}
	}
	for _, p := range req.Deletions {
		rel, err := cleanRel(p)
		if err != nil {
			return err
		}
		if _, err := os.Stat(filepath.Join(root, filepath.FromSlash(rel))); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if _, err := worktree.Remove(rel); err != nil {
			return fmt.Errorf("git rm %s: %w", rel, err)
		}
	}
	return nil
}

// CreateBranch implements core.BranchCreator. An empty fromOid uses the default
// branch head. Creating an existing branch at the same commit is a no-op.
func (s *Store) CreateBranch(ctx context.Context, name, fromOid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.readOnly {
		return core.ErrNeedsFork
	}
	var from plumbing.Hash
	if fromOid == "" {
		commitObj, err := s.head(s.config.Branch)
		if err != nil {
			return err
		}
		from = commitObj.Hash
	} else {
		resolved, err := s.repo.ResolveRevision(plumbing.Revision(fromOid))
		if err != nil {
			return fmt.Errorf("resolve %s: %w", fromOid, err)
		}
		from = *resolved
	}

	branchRef := plumbing.NewBranchReferenceName(name)
	if existing, err := s.repo.Reference(branchRef, true); err == nil {
		if existing.Hash() == from {
			return nil
		}
		return fmt.Errorf("branch %s already exists", name)
	}
	if err := s.repo.Storer.SetReference(plumbing.NewHashReference(branchRef, from)); err != nil {
		return fmt.Errorf("create branch ref: %w", err)
	}
	s.logger.Info("created branch", "branch", name, "from", from.String())
	return nil
}

// Fork implements core.Forker. It copies the repository to ForkPath, records the
// original as the "upstream" remote and switches the store to the copy.
func (s *Store) Fork(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.forked {
		return nil
	}
	target := s.config.ForkPath
	if _, err := os.Stat(target); err == nil {
		return fmt.Errorf("fork path %s already exists", target)
	}
	if err := copyTree(ctx, s.path, target); err != nil {
		_ = os.RemoveAll(target)
		return fmt.Errorf("copy repository: %w", err)
	}

	repo, err := git.PlainOpen(target)
	if err != nil {
		return fmt.Errorf("open fork: %w", err)
	}
	if _, err := repo.CreateRemote(&config.RemoteConfig{Name: "upstream", URLs: []string{s.path}}); err != nil &&
		!errors.Is(err, git.ErrRemoteExists) {
		return fmt.Errorf("add upstream remote: %w", err)
	}

	s.logger.Info("forked repository", "from", s.path, "to", target)
	s.repo = repo
	s.path = target
	s.readOnly = false
	s.forked = true
	return nil
}

func copyTree(ctx context.Context, src, dst string) error {
	return filepath.WalkDir(src, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		info, err := d.Info()
		if err != nil {
			return err
		}
		if d.IsDir() {
			return os.MkdirAll(target, info.Mode().Perm()|0o700)
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		return os.WriteFile(target, data, info.Mode().Perm())
	})
}

// List implements core.Lister by matching the paths of the branch head tree.
func (s *Store) List(ctx context.Context, branch, pattern string) ([]string, error) {
	if !doublestar.ValidatePattern(pattern) {
		return nil, fmt.Errorf("invalid pattern %q: %w", pattern, doublestar.ErrBadPattern)
	}
	branch = s.branchName(branch)

	s.mu.Lock()
	defer s.mu.Unlock()

	commitObj, err := s.head(branch)
	if err != nil {
		return nil, err
	}
	tree, err := commitObj.Tree()
	if err != nil {
		return nil, fmt.Errorf("load tree: %w", err)
	}
	var out []string
	err = tree.Files().ForEach(func(f *object.File) error {
		if ok, _ := doublestar.Match(pattern, f.Name); ok {
			out = append(out, f.Name)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(out)
	return out, nil
}

// Path returns the repository path commits are written to.
func (s *Store) Path() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.path
}

var (
	_ core.BackingStore  = (*Store)(nil)
	_ core.BranchCreator = (*Store)(nil)
	_ core.Forker        = (*Store)(nil)
	_ core.Lister        = (*Store)(nil)
)
