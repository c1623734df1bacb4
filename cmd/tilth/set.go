package main

import (
	"context"
	"fmt"
	"maps"
	"os"
	"slices"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var setCmd = &cobra.Command{
	Use:   "set <entry> <field=value>...",
	Short: "Edit fields of an entry",
	Long: `Set top-level fields of an entry. The change is saved as a draft until "tilth commit".
Values are parsed as YAML scalars or flow collections ("tags=[news, guide]").
A value starting with @ is read from a file ("content=@post.md").`,
	Args: cobra.MinimumNArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		id, err := parseEntry(args[0])
		if err != nil {
			fatal("Invalid entry", err)
		}
		assignments := make(map[string]any, len(args)-1)
		for _, arg := range args[1:] {
			field, value, err := parseAssignment(arg)
			if err != nil {
				fatal("Invalid assignment", err)
			}
			assignments[field] = value
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

		for _, field := range slices.Sorted(maps.Keys(assignments)) {
			if err := sess.Set(ctx, field, assignments[field]); err != nil {
				fatal("Failed to edit entry", err)
			}
		}

		snap := sess.Snapshot()
		switch {
		case snap.Collaborative:
			fmt.Printf("Entry '%s' updated in the shared document.\n", id.Key())
		case snap.HasChanged:
			fmt.Printf("Draft of '%s' saved.\n", id.Key())
		default:
			fmt.Printf("Entry '%s' matches the committed state; draft discarded.\n", id.Key())
		}
	},
}

func parseAssignment(arg string) (string, any, error) {
	field, raw, ok := strings.Cut(arg, "=")
	if !ok || field == "" {
		return "", nil, fmt.Errorf("expected field=value, got %q", arg)
	}
	if path, ok := strings.CutPrefix(raw, "@"); ok {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", nil, err
		}
		return field, string(data), nil
	}
	if raw == "" {
		return field, "", nil
	}
	var value any
	if err := yaml.Unmarshal([]byte(raw), &value); err != nil {
		return field, raw, nil
	}
	return field, value, nil
}

func init() {
	rootCmd.AddCommand(setCmd)
}
