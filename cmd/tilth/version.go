package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/aretw0/tilth"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of tilth",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("tilth version %s\n", strings.TrimSpace(tilth.Version))
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
