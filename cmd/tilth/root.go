package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/aretw0/tilth"
	"github.com/aretw0/tilth/pkg/core"
)

var (
	verbose  bool
	rootDir  string
	branch   string
	readOnly bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "tilth",
	Short: "Edit Git-backed content entries with drafts and safe commits",
	Long: `tilth edits the singletons and collections declared in tilth.yaml.
Edits are kept as drafts until they are committed to the content tree or Git branch.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}

		opts := &slog.HandlerOptions{
			Level: level,
		}
		logger := slog.New(slog.NewTextHandler(os.Stderr, opts))
		slog.SetDefault(logger)
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&rootDir, "root", "C", "", "Content root (default: nearest directory with tilth.yaml)")
	rootCmd.PersistentFlags().StringVarP(&branch, "branch", "b", "", "Branch to read and commit (default: from tilth.yaml)")
	rootCmd.PersistentFlags().BoolVar(&readOnly, "read-only", false, "Open the store read-only")
}

// openWorkspace opens the workspace selected by the persistent flags. TILTH_REDIS_URL
// overrides the Redis URL of the project file.
func openWorkspace(opts ...tilth.Option) (*tilth.Workspace, error) {
	root := rootDir
	if root == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		if root, err = tilth.FindRoot(cwd); err != nil {
			return nil, err
		}
	}

	opts = append([]tilth.Option{
		tilth.WithLogger(slog.Default()),
		tilth.WithMustExist(true),
		tilth.WithReadOnly(readOnly),
	}, opts...)
	if branch != "" {
		opts = append(opts, tilth.WithBranch(branch))
	}
	if url := os.Getenv("TILTH_REDIS_URL"); url != "" {
		opts = append(opts, tilth.WithRedisURL(url))
	}
	return tilth.New(root, opts...)
}

func parseEntry(arg string) (core.EntryIdentity, error) {
	id, err := core.ParseIdentity(arg)
	if err != nil {
		return id, fmt.Errorf("%w (use <singleton> or <collection>/<slug>)", err)
	}
	return id, nil
}
