package core

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Common errors.
var (
	// ErrNotFound is returned by a BackingStore when no file backs the entry.
	ErrNotFound = errors.New("entry not found")
	// ErrDraftCorrupt marks a stored draft the codec could not parse.
	ErrDraftCorrupt = errors.New("draft is corrupt")
	// ErrDraftStoreCorrupt marks draft bytes that cannot be decoded at all.
	ErrDraftStoreCorrupt = errors.New("draft store is corrupt")
	// ErrNeedsFork is returned by a commit when the actor lacks write access.
	ErrNeedsFork = errors.New("write access denied, fork required")
	// ErrReadOnly is returned by stores opened in read-only mode.
	ErrReadOnly = errors.New("store is in read-only mode")
	// ErrBranchNotFound is returned when loading from a branch that does not exist.
	ErrBranchNotFound = errors.New("branch not found")
	// ErrUnsupported is returned when a store lacks an optional capability.
	ErrUnsupported = errors.New("operation not supported by store")
)

// BranchDivergedError is returned by a commit whose base no longer matches the branch
// head, or whose branch does not exist. BranchOid is the commit a new branch should be
// created from to replay the update.
type BranchDivergedError struct {
	Reason    string
	BranchOid string
}

func (e *BranchDivergedError) Error() string {
	return fmt.Sprintf("branch diverged (%s), base %s", e.Reason, e.BranchOid)
}

// TransportError wraps a network or backend failure.
type TransportError struct {
	Message string
	Err     error
}

func (e *TransportError) Error() string {
	if e.Err != nil && e.Message == "" {
		return e.Err.Error()
	}
	return e.Message
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ValidationError reports per-field client-side validation failures.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	msgs := make([]string, 0, len(names))
	for _, name := range names {
		msgs = append(msgs, name+": "+e.Fields[name])
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}

// Add records a failure for field.
func (e *ValidationError) Add(field, msg string) {
	if e.Fields == nil {
		e.Fields = make(map[string]string)
	}
	e.Fields[field] = msg
}

// OrNil returns nil when no failure was recorded.
func (e *ValidationError) OrNil() error {
	if e == nil || len(e.Fields) == 0 {
		return nil
	}
	return e
}
