package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var discardCmd = &cobra.Command{
	Use:   "discard <entry>",
	Short: "Discard the draft of an entry",
	Args:  cobra.ExactArgs(1),
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

		if err := ws.Service.DiscardDraft(context.Background(), id); err != nil {
			fatal("Failed to discard draft", err)
		}
		fmt.Printf("Draft of '%s' discarded.\n", id.Key())
	},
}

func init() {
	rootCmd.AddCommand(discardCmd)
}
