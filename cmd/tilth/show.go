package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/aretw0/tilth/pkg/core"
)

var showJSON bool

type showOutput struct {
	Entry      string     `json:"entry"`
	Branch     string     `json:"branch"`
	TreeKey    string     `json:"treeKey"`
	HasChanged bool       `json:"hasChanged"`
	Notice     string     `json:"notice,omitempty"`
	Diagnostic string     `json:"diagnostic,omitempty"`
	State      core.Value `json:"state"`
}

var showCmd = &cobra.Command{
	Use:   "show <entry>",
	Short: "Show the editable state of an entry",
	Long: `Open an entry the way an editor does: a stored draft is restored when it still
differs from the committed state. Prints the state as YAML, or a JSON object with --json.`,
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

		sess, err := ws.Service.Open(context.Background(), id)
		if err != nil {
			fatal("Failed to open entry", err)
		}
		defer sess.Close()

		snap := sess.Snapshot()
		out := showOutput{
			Entry:      snap.Entry.Key(),
			Branch:     snap.Branch,
			TreeKey:    snap.TreeKey,
			HasChanged: snap.HasChanged,
			State:      snap.State,
		}
		if snap.Notice != core.NoticeNone {
			out.Notice = snap.Notice.String()
		}
		if snap.Diagnostic != nil {
			out.Diagnostic = snap.Diagnostic.Error()
		}

		if showJSON {
			encoder := json.NewEncoder(os.Stdout)
			encoder.SetIndent("", "  ")
			if err := encoder.Encode(out); err != nil {
				fatal("Failed to encode JSON", err)
			}
			return
		}

		if out.Notice != "" {
			fmt.Fprintf(os.Stderr, "notice: %s\n", out.Notice)
		}
		if out.Diagnostic != "" {
			fmt.Fprintf(os.Stderr, "diagnostic: %s\n", out.Diagnostic)
		}
		encoder := yaml.NewEncoder(os.Stdout)
		encoder.SetIndent(2)
		if err := encoder.Encode(map[string]any(out.State)); err != nil {
			fatal("Failed to encode YAML", err)
		}
		_ = encoder.Close()
	},
}

func init() {
	rootCmd.AddCommand(showCmd)
	showCmd.Flags().BoolVar(&showJSON, "json", false, "Output in JSON format")
}
