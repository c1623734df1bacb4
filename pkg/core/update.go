package core

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
)

// UpdateStatus is the tag of an UpdateResult.
type UpdateStatus string

const (
	StatusIdle           UpdateStatus = "idle"
	StatusLoading        UpdateStatus = "loading"
	StatusError          UpdateStatus = "error"
	StatusNeedsNewBranch UpdateStatus = "needs-new-branch"
	StatusNeedsFork      UpdateStatus = "needs-fork"
)

// UpdateResult is the observable state of the Update Coordinator.
// Message is set for StatusError; Reason and BranchOid for StatusNeedsNewBranch.
type UpdateResult struct {
	Status    UpdateStatus `json:"kind"`
	Message   string       `json:"message,omitempty"`
	Reason    string       `json:"reason,omitempty"`
	BranchOid string       `json:"branchOid,omitempty"`
}

func (r UpdateResult) String() string {
	switch r.Status {
	case StatusError:
		return fmt.Sprintf("error(%s)", r.Message)
	case StatusNeedsNewBranch:
		return fmt.Sprintf("needs-new-branch(%s, %s)", r.Reason, r.BranchOid)
	case "":
		return string(StatusIdle)
	default:
		return string(r.Status)
	}
}

// UpdateOptions overrides the target of an update. A non-empty Branch or SHA marks a
// retry after branch creation or fork.
type UpdateOptions struct {
	Branch  string
	SHA     string
	Message string
}

func (o UpdateOptions) retry() bool {
	return o.Branch != "" || o.SHA != ""
}

// ChangeSet is the file diff between committed files and a serialized state.
type ChangeSet struct {
	Added    []File
	Modified []File
	Deleted  []string
}

// Empty reports whether the change set has no changes.
func (c ChangeSet) Empty() bool {
	return len(c.Added) == 0 && len(c.Modified) == 0 && len(c.Deleted) == 0
}

// Diff computes the changes needed to turn committed files into files.
func Diff(committed CommittedState, files []File) ChangeSet {
	var cs ChangeSet
	seen := make(map[string]bool, len(files))
	for _, f := range files {
		seen[f.Path] = true
		if !slices.Contains(committed.InitialFiles, f.Path) {
			cs.Added = append(cs.Added, f)
			continue
		}
		old, ok := committed.InitialContents[f.Path]
		if !ok || !bytes.Equal(old, f.Contents) {
			cs.Modified = append(cs.Modified, f)
		}
	}
	for _, p := range committed.InitialFiles {
		if !seen[p] {
			cs.Deleted = append(cs.Deleted, p)
		}
	}
	return cs
}

// UpdateInput is the editable state and committed baseline an update is built from.
type UpdateInput struct {
	State     Value
	BasePath  string
	Committed CommittedState
}

// UpdateSuccess describes a completed commit to success hooks.
type UpdateSuccess struct {
	State    Value
	BasePath string
	Files    []File
	Branch   string
	Result   CommitResult
}

type pendingUpdate struct {
	state    Value
	basePath string
	files    []File
	changes  ChangeSet
	branch   string
	baseSHA  string
}

// UpdateCoordinator submits serialized entries to the BackingStore and classifies the
// result. At most one submit is in flight at a time.
type UpdateCoordinator struct {
	id     EntryIdentity
	codec  Codec
	store  BackingStore
	logger *slog.Logger

	mu       sync.Mutex
	result   UpdateResult
	pending  *pendingUpdate
	hooks    []func(context.Context, UpdateSuccess)
	onChange func(UpdateResult)
}

// NewUpdateCoordinator creates an idle coordinator.
func NewUpdateCoordinator(id EntryIdentity, codec Codec, store BackingStore, logger *slog.Logger) *UpdateCoordinator {
	if logger == nil {
		logger = discardLogger()
	}
	return &UpdateCoordinator{
		id:     id,
		codec:  codec,
		store:  store,
		logger: logger,
		result: UpdateResult{Status: StatusIdle},
	}
}

// OnSuccess registers a hook run after every successful commit.
func (c *UpdateCoordinator) OnSuccess(fn func(context.Context, UpdateSuccess)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hooks = append(c.hooks, fn)
}

// OnChange registers the listener notified on every transition.
func (c *UpdateCoordinator) OnChange(fn func(UpdateResult)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onChange = fn
}

// Result returns the current state.
func (c *UpdateCoordinator) Result() UpdateResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.result
}

// Rebind points the coordinator at a new identity after a rename.
func (c *UpdateCoordinator) Rebind(id EntryIdentity) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.id = id
}

// Update serializes the state returned by input and commits it. It is a no-op while
// another update is loading. A retry (opts.Branch or opts.SHA set) following a
// needs-new-branch or needs-fork result reuses the payload serialized by the first
// attempt; input is not called again.
func (c *UpdateCoordinator) Update(ctx context.Context, input func() UpdateInput, opts UpdateOptions) UpdateResult {
	c.mu.Lock()
	if c.result.Status == StatusLoading {
		c.mu.Unlock()
		c.logger.Debug("update ignored, submit in flight", "entry", c.id.Key())
		return UpdateResult{Status: StatusLoading}
	}
	var p *pendingUpdate
	if opts.retry() && c.pending != nil {
		p = c.pending
	}
	id := c.id
	c.setLocked(UpdateResult{Status: StatusLoading})
	c.mu.Unlock()

	if p == nil {
		var err error
		p, err = c.prepare(input())
		if err != nil {
			return c.finish(ctx, nil, UpdateResult{Status: StatusError, Message: err.Error()}, nil)
		}
	}

	// An empty change set stays on the committed branch, retry or not.
	if p.changes.Empty() {
		c.logger.Debug("nothing to commit", "entry", id.Key())
		return c.finish(ctx, nil, UpdateResult{Status: StatusIdle}, &UpdateSuccess{
			State: p.state, BasePath: p.basePath, Files: p.files, Branch: p.branch,
			Result: CommitResult{SHA: p.baseSHA},
		})
	}

	branch, base := p.branch, p.baseSHA
	if opts.Branch != "" {
		branch = opts.Branch
	}
	if opts.SHA != "" {
		base = opts.SHA
	}

	req := CommitRequest{
		Branch:    branch,
		BaseSHA:   base,
		Additions: append(append([]File(nil), p.changes.Added...), p.changes.Modified...),
		Deletions: p.changes.Deleted,
		Message:   commitMessage(ctx, id, opts),
	}
	c.logger.Info("submitting update", "entry", id.Key(), "branch", branch, "base", base,
		"additions", len(req.Additions), "deletions", len(req.Deletions))

	res, err := c.store.Commit(ctx, req)
	if err != nil {
		return c.finish(ctx, p, classify(err), nil)
	}
	return c.finish(ctx, nil, UpdateResult{Status: StatusIdle}, &UpdateSuccess{
		State: p.state, BasePath: p.basePath, Files: p.files, Branch: branch, Result: res,
	})
}

// Reset returns a terminal, error, or dialog state to idle and drops the retained
// payload. It has no effect while a submit is loading and reports whether it applied.
func (c *UpdateCoordinator) Reset() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.result.Status == StatusLoading {
		return false
	}
	c.pending = nil
	c.setLocked(UpdateResult{Status: StatusIdle})
	return true
}

func (c *UpdateCoordinator) prepare(in UpdateInput) (*pendingUpdate, error) {
	files, err := c.codec.Serialize(in.State, in.BasePath)
	if err != nil {
		return nil, fmt.Errorf("serialize entry: %w", err)
	}
	return &pendingUpdate{
		state:    in.State.Clone(),
		basePath: in.BasePath,
		files:    files,
		changes:  Diff(in.Committed, files),
		branch:   in.Committed.Branch,
		baseSHA:  in.Committed.BaseSHA,
	}, nil
}

// finish records the result. keep is retained as the retry payload for dialog states.
func (c *UpdateCoordinator) finish(ctx context.Context, keep *pendingUpdate, result UpdateResult, success *UpdateSuccess) UpdateResult {
	c.mu.Lock()
	switch result.Status {
	case StatusNeedsNewBranch, StatusNeedsFork:
		c.pending = keep
	default:
		c.pending = nil
	}
	c.setLocked(result)
	hooks := slices.Clone(c.hooks)
	id := c.id
	c.mu.Unlock()

	switch result.Status {
	case StatusError:
		c.logger.Error("update failed", "entry", id.Key(), "error", result.Message)
	case StatusNeedsNewBranch:
		c.logger.Warn("update needs a new branch", "entry", id.Key(), "reason", result.Reason, "branch_oid", result.BranchOid)
	case StatusNeedsFork:
		c.logger.Warn("update needs a fork", "entry", id.Key())
	}

	if success != nil {
		for _, hook := range hooks {
			hook(ctx, *success)
		}
	}
	return result
}

func (c *UpdateCoordinator) setLocked(r UpdateResult) {
	c.result = r
	if c.onChange != nil {
		c.onChange(r)
	}
}

func classify(err error) UpdateResult {
	var diverged *BranchDivergedError
	switch {
	case errors.As(err, &diverged):
		return UpdateResult{Status: StatusNeedsNewBranch, Reason: diverged.Reason, BranchOid: diverged.BranchOid}
	case errors.Is(err, ErrNeedsFork):
		return UpdateResult{Status: StatusNeedsFork}
	default:
		return UpdateResult{Status: StatusError, Message: err.Error()}
	}
}

func commitMessage(ctx context.Context, id EntryIdentity, opts UpdateOptions) string {
	if opts.Message != "" {
		return opts.Message
	}
	if val, ok := ctx.Value(ChangeReasonKey).(string); ok && val != "" {
		return val
	}
	return "update " + id.Key()
}
