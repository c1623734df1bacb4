// Package tilth is the composition root for the tilth content engine.
//
// tilth edits content entries (singletons and collection items) stored as files in a
// local tree or a Git repository. Every entry is edited through a session that keeps
// unsaved work in a draft store, restores it on the next open, and commits changes
// with race detection against the branch head.
//
// Features:
//
//   - Draft reconciliation: drafts are restored when they still differ from the
//     committed state, with a notice when the tree changed underneath.
//   - Autosave: local edits are stored as drafts after every accepted mutation.
//   - Updates: commits report needs-new-branch and needs-fork outcomes that can be
//     resolved by creating a branch or forking the repository.
//   - Collaboration: sessions can share a document over Redis instead of keeping drafts.
//   - Typed access: NewTyped[T] decodes entry fields into a struct.
//
// Usage:
//
//	ws, err := tilth.New("./site", tilth.WithLogger(logger))
//	if err != nil {
//		return err
//	}
//	defer ws.Close()
//
//	sess, err := ws.Service.Open(ctx, core.Singleton("settings"))
//	err = sess.Set(ctx, "title", "My site")
//	result, err := sess.Update(ctx, core.UpdateOptions{Message: "update settings"})
package tilth
