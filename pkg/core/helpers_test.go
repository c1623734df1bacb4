package core_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/aretw0/tilth/pkg/core"
)

// jsonCodec stores an entry as a single "<base>.json" file.
type jsonCodec struct {
	fields   []string
	slug     string
	defaults core.Value
	required []string
}

func newJSONCodec(fields ...string) *jsonCodec {
	defaults := make(core.Value, len(fields))
	for _, f := range fields {
		defaults[f] = ""
	}
	return &jsonCodec{fields: fields, defaults: defaults}
}

func (c *jsonCodec) Fields() []string  { return c.fields }
func (c *jsonCodec) SlugField() string { return c.slug }
func (c *jsonCodec) Default() core.Value {
	return c.defaults.Clone()
}

func (c *jsonCodec) Parse(files map[string][]byte) (core.Value, error) {
	for p, data := range files {
		if !strings.HasSuffix(p, ".json") {
			continue
		}
		var v core.Value
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("parse %s: %w", p, err)
		}
		return v, nil
	}
	return nil, errors.New("no data file")
}

func (c *jsonCodec) Serialize(v core.Value, basePath string) ([]core.File, error) {
	out := make(map[string]any, len(c.fields))
	for _, f := range c.fields {
		out[f] = v[f]
	}
	data, err := json.Marshal(out)
	if err != nil {
		return nil, err
	}
	return []core.File{{Path: basePath + ".json", Contents: data}}, nil
}

func (c *jsonCodec) FieldEqual(field string, a, b any) bool {
	return reflect.DeepEqual(a, b)
}

func (c *jsonCodec) Validate(v core.Value) error {
	verr := &core.ValidationError{}
	for _, f := range c.required {
		if s, _ := v[f].(string); s == "" {
			verr.Add(f, "required")
		}
	}
	return verr.OrNil()
}

type staticRegistry map[string]core.EntryConfig

func (r staticRegistry) Resolve(id core.EntryIdentity) (core.EntryConfig, error) {
	cfg, ok := r[id.Name]
	if !ok {
		return core.EntryConfig{}, fmt.Errorf("unknown entry %s", id.Name)
	}
	return cfg, nil
}

// fakeStore is an in-memory versioned BackingStore with one linear history per branch.
type fakeStore struct {
	mu       sync.Mutex
	branches map[string]*fakeBranch
	commits  atomic.Int32
	// commitErr, when set, is returned by the next Commit calls.
	commitErr error
	// gate, when set, blocks Commit until it is closed.
	gate      chan struct{}
	entered   chan struct{}
	requests  []core.CommitRequest
	history   map[string]map[string][]byte
	forked    bool
	forkFails bool
}

type fakeBranch struct {
	head  string
	seq   int
	files map[string][]byte
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		branches: map[string]*fakeBranch{"main": {head: "main-0", files: map[string][]byte{}}},
		history:  map[string]map[string][]byte{"main-0": {}},
	}
}

func (s *fakeStore) recordLocked(b *fakeBranch) {
	snap := make(map[string][]byte, len(b.files))
	for k, v := range b.files {
		snap[k] = v
	}
	s.history[b.head] = snap
}

func (s *fakeStore) put(branch, path string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.branches[branch]
	b.files[path] = data
	b.seq++
	b.head = fmt.Sprintf("%s-%d", branch, b.seq)
	s.recordLocked(b)
}

func (s *fakeStore) Load(ctx context.Context, branch, basePath string) (core.LoadResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.branches[branch]
	if !ok {
		return core.LoadResult{}, core.ErrBranchNotFound
	}
	res := core.LoadResult{Files: map[string][]byte{}, TreeKey: b.head, BaseSHA: b.head, Branch: branch}
	for p, data := range b.files {
		if strings.HasPrefix(p, basePath+".") || strings.HasPrefix(p, basePath+"/") {
			res.Files[p] = data
		}
	}
	if len(res.Files) == 0 {
		return res, core.ErrNotFound
	}
	return res, nil
}

func (s *fakeStore) Commit(ctx context.Context, req core.CommitRequest) (core.CommitResult, error) {
	s.mu.Lock()
	gate, entered := s.gate, s.entered
	s.mu.Unlock()
	if entered != nil {
		entered <- struct{}{}
	}
	if gate != nil {
		<-gate
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	if s.commitErr != nil {
		return core.CommitResult{}, s.commitErr
	}
	b, ok := s.branches[req.Branch]
	if !ok {
		return core.CommitResult{}, &core.BranchDivergedError{Reason: "branch-missing", BranchOid: req.BaseSHA}
	}
	if b.head != req.BaseSHA {
		return core.CommitResult{}, &core.BranchDivergedError{Reason: "stale", BranchOid: req.BaseSHA}
	}
	for _, f := range req.Additions {
		b.files[f.Path] = f.Contents
	}
	for _, p := range req.Deletions {
		delete(b.files, p)
	}
	b.seq++
	b.head = fmt.Sprintf("%s-%d", req.Branch, b.seq)
	s.recordLocked(b)
	s.commits.Add(1)
	return core.CommitResult{SHA: b.head, TreeKey: b.head}, nil
}

func (s *fakeStore) CreateBranch(ctx context.Context, name, fromOid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.history[fromOid]
	if !ok {
		return fmt.Errorf("unknown commit %s", fromOid)
	}
	files := make(map[string][]byte, len(snap))
	for k, v := range snap {
		files[k] = v
	}
	s.branches[name] = &fakeBranch{head: fromOid, files: files}
	return nil
}

func (s *fakeStore) Fork(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.forkFails {
		return errors.New("fork refused")
	}
	s.forked = true
	s.commitErr = nil
	return nil
}

func (s *fakeStore) List(ctx context.Context, branch, pattern string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for p := range s.branches[branch].files {
		out = append(out, p)
	}
	sort.Strings(out)
	return out, nil
}

func (s *fakeStore) lastRequest() core.CommitRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[len(s.requests)-1]
}

func (s *fakeStore) setCommitErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commitErr = err
}

func jsonFile(v map[string]any) []byte {
	data, _ := json.Marshal(v)
	return data
}

// scriptedStore answers each Commit with the next scripted error, nil meaning success.
type scriptedStore struct {
	mu       sync.Mutex
	script   []error
	requests []core.CommitRequest
}

func (s *scriptedStore) Load(ctx context.Context, branch, basePath string) (core.LoadResult, error) {
	return core.LoadResult{TreeKey: "t0", BaseSHA: "t0", Branch: branch}, core.ErrNotFound
}

func (s *scriptedStore) Commit(ctx context.Context, req core.CommitRequest) (core.CommitResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	if len(s.script) == 0 {
		return core.CommitResult{SHA: "sha-ok", TreeKey: "tree-ok"}, nil
	}
	err := s.script[0]
	s.script = s.script[1:]
	if err != nil {
		return core.CommitResult{}, err
	}
	return core.CommitResult{SHA: "sha-ok", TreeKey: "tree-ok"}, nil
}

func (s *scriptedStore) calls() []core.CommitRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.CommitRequest(nil), s.requests...)
}
