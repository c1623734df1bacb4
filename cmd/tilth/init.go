package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/aretw0/tilth"
)

var (
	initGit    bool
	initDrafts string
)

// initCmd represents the init command
var initCmd = &cobra.Command{
	Use:   "init [dir]",
	Short: "Initialize a content root",
	Long: `Write a sample tilth.yaml (unless one exists) and prepare the store.
With --git the content is committed to a Git repository, created when missing.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		dir := rootDir
		if len(args) == 1 {
			dir = args[0]
		}
		if dir == "" {
			cwd, err := os.Getwd()
			if err != nil {
				fatal("Failed to get CWD", err)
			}
			dir = cwd
		}

		project := tilth.SampleProject()
		if initGit {
			project.Storage.Kind = "git"
		}
		if initDrafts != "" {
			project.Drafts.Kind = initDrafts
		}

		root, err := tilth.Init(dir, project, tilth.WithLogger(slog.Default()))
		if err != nil {
			fatal("Failed to initialize", err)
		}
		fmt.Println("Initialized tilth content root in", root)
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().BoolVar(&initGit, "git", false, "Use a Git repository as the store")
	initCmd.Flags().StringVar(&initDrafts, "drafts", "", "Draft store kind (fs, memory, redis)")
}
