package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var listJSON bool

var listCmd = &cobra.Command{
	Use:   "list [collection]",
	Short: "List entries",
	Long:  `Without arguments, list the declared singletons and collections. With a collection, list its slugs.`,
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ws, err := openWorkspace()
		if err != nil {
			fatal("Failed to open workspace", err)
		}
		defer ws.Close()

		var out []string
		if len(args) == 0 {
			out = append(out, ws.Registry.Singletons()...)
			for _, name := range ws.Registry.Collections() {
				out = append(out, name+"/")
			}
		} else {
			slugs, err := ws.Service.List(context.Background(), args[0])
			if err != nil {
				fatal("Failed to list entries", err)
			}
			for _, slug := range slugs {
				out = append(out, args[0]+"/"+slug)
			}
		}

		if listJSON {
			encoder := json.NewEncoder(os.Stdout)
			encoder.SetIndent("", "  ")
			if err := encoder.Encode(out); err != nil {
				fatal("Failed to encode JSON", err)
			}
			return
		}
		for _, entry := range out {
			fmt.Println(entry)
		}
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
	listCmd.Flags().BoolVar(&listJSON, "json", false, "Output in JSON format")
}
