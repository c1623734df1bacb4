package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var draftsJSON bool

var draftsCmd = &cobra.Command{
	Use:   "drafts",
	Short: "List entries with unsaved drafts",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		ws, err := openWorkspace()
		if err != nil {
			fatal("Failed to open workspace", err)
		}
		defer ws.Close()

		ids, err := ws.Service.Drafts(context.Background())
		if err != nil {
			fatal("Failed to list drafts", err)
		}

		keys := make([]string, 0, len(ids))
		for _, id := range ids {
			keys = append(keys, id.Key())
		}
		if draftsJSON {
			encoder := json.NewEncoder(os.Stdout)
			encoder.SetIndent("", "  ")
			if err := encoder.Encode(keys); err != nil {
				fatal("Failed to encode JSON", err)
			}
			return
		}
		for _, key := range keys {
			fmt.Println(key)
		}
	},
}

func init() {
	rootCmd.AddCommand(draftsCmd)
	draftsCmd.Flags().BoolVar(&draftsJSON, "json", false, "Output in JSON format")
}
