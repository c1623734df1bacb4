package core

import (
	"context"
	"fmt"
	"log/slog"
)

// RestoreNotice tells the user whether the initial state came from a draft.
type RestoreNotice int

const (
	NoticeNone RestoreNotice = iota
	// NoticeRestored means a draft was restored and the tree is unchanged.
	NoticeRestored
	// NoticeRestoredTreeChanged means a draft was restored but the backing tree advanced
	// since it was taken; the edit may conflict with newer committed changes.
	NoticeRestoredTreeChanged
)

func (n RestoreNotice) String() string {
	switch n {
	case NoticeRestored:
		return "restored"
	case NoticeRestoredTreeChanged:
		return "restored-tree-changed"
	default:
		return "none"
	}
}

// Reconciliation is the outcome of reconciling committed state with a stored draft.
type Reconciliation struct {
	State Value
	// Draft is the draft the state was restored from, if any.
	Draft  *DraftRecord
	Notice RestoreNotice
	// Diagnostic is a non-fatal condition (ErrDraftCorrupt) surfaced to the user.
	Diagnostic error
}

// Reconciler produces the initial editable state of an entry.
type Reconciler struct {
	codec  Codec
	drafts DraftStore
	logger *slog.Logger
}

// NewReconciler creates a Reconciler.
func NewReconciler(codec Codec, drafts DraftStore, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = discardLogger()
	}
	return &Reconciler{codec: codec, drafts: drafts, logger: logger}
}

// Reconcile loads the stored draft of id, if any, and merges it with committed.
func (r *Reconciler) Reconcile(ctx context.Context, id EntryIdentity, committed CommittedState) (Reconciliation, error) {
	draft, err := r.drafts.Get(ctx, id)
	if err != nil {
		return Reconciliation{}, fmt.Errorf("load draft %s: %w", id, err)
	}
	return r.ReconcileWith(ctx, id, committed, draft), nil
}

// ReconcileWith reconciles committed against an already loaded draft (nil for none).
func (r *Reconciler) ReconcileWith(ctx context.Context, id EntryIdentity, committed CommittedState, draft *DraftRecord) Reconciliation {
	if draft == nil {
		return Reconciliation{State: r.committedValue(committed)}
	}

	state, err := r.codec.Parse(draft.Files)
	if err != nil {
		diag := fmt.Errorf("%w: %s: %v", ErrDraftCorrupt, id, err)
		r.logger.Warn("discarding corrupt draft", "entry", id.Key(), "error", err)
		if delErr := r.drafts.Delete(ctx, id); delErr != nil {
			r.logger.Error("failed to delete corrupt draft", "entry", id.Key(), "error", delErr)
		}
		return Reconciliation{State: r.committedValue(committed), Diagnostic: diag}
	}

	notice := NoticeRestored
	if draft.Stale(committed.TreeKey) {
		notice = NoticeRestoredTreeChanged
		r.logger.Info("restored draft predates current tree", "entry", id.Key(),
			"draft_tree", draft.BeforeTreeKey, "tree", committed.TreeKey)
	}
	return Reconciliation{State: state, Draft: draft, Notice: notice}
}

func (r *Reconciler) committedValue(committed CommittedState) Value {
	if committed.InitialState == nil {
		return r.codec.Default()
	}
	return committed.InitialState.Clone()
}

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
