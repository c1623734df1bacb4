package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/aretw0/tilth/pkg/core"
)

var (
	commitMsg    string
	commitType   string
	commitScope  string
	createBranch string
	forkOnDemand bool
)

// commitCmd represents the commit command
var commitCmd = &cobra.Command{
	Use:   "commit <entry>",
	Short: "Commit the draft of an entry",
	Long: `Serialize the editable state of an entry and commit the changed files.

When the branch moved or disappeared since the entry was loaded the commit stops with
needs-new-branch; pass --create-branch to commit onto a new branch instead. A read-only
Git store stops with needs-fork; pass --fork to fork the repository and commit there.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		id, err := parseEntry(args[0])
		if err != nil {
			fatal("Invalid entry", err)
		}
		ws, err := openWorkspace()
		if err != nil {
			fatal("Failed to open workspace", err)
		}
		defer ws.Close()

		ctx := context.Background()
		sess, err := ws.Service.Open(ctx, id)
		if err != nil {
			fatal("Failed to open entry", err)
		}
		defer sess.Close()

		if !sess.HasChanged() {
			fmt.Printf("Nothing to commit for '%s'.\n", id.Key())
			return
		}

		message := entryCommitMessage(id, commitType, commitScope, commitMsg)
		result, err := sess.Update(ctx, core.UpdateOptions{Message: message})
		if err != nil {
			fatal("Failed to commit", err)
		}

		switch {
		case result.Status == core.StatusNeedsNewBranch && createBranch != "":
			result, err = sess.CreateBranch(ctx, createBranch)
		case result.Status == core.StatusNeedsFork && forkOnDemand:
			result, err = sess.Fork(ctx)
		}
		if err != nil {
			fatal("Failed to recover", err)
		}

		switch result.Status {
		case core.StatusIdle:
			committed := sess.Committed()
			fmt.Printf("Committed '%s' to %s (%s).\n", sess.Entry().Key(), committed.Branch, committed.BaseSHA)
		case core.StatusNeedsNewBranch:
			fmt.Fprintf(os.Stderr, "Branch %s: %s. Retry with --create-branch <name>.\n", sess.Committed().Branch, result.Reason)
			os.Exit(2)
		case core.StatusNeedsFork:
			fmt.Fprintln(os.Stderr, "The repository is read-only. Retry with --fork.")
			os.Exit(2)
		default:
			fatal("Failed to commit", fmt.Errorf("%s", result.Message))
		}
	},
}

func init() {
	rootCmd.AddCommand(commitCmd)
	commitCmd.Flags().StringVarP(&commitMsg, "message", "m", "", "Commit message (subject when --type is given)")
	commitCmd.Flags().StringVarP(&commitType, "type", "t", "", "Change type (feat, fix, docs, chore)")
	commitCmd.Flags().StringVarP(&commitScope, "scope", "s", "", "Commit scope (default: entry name)")
	commitCmd.Flags().StringVar(&createBranch, "create-branch", "", "Create this branch when the current one diverged")
	commitCmd.Flags().BoolVar(&forkOnDemand, "fork", false, "Fork the repository when it is read-only")
}
