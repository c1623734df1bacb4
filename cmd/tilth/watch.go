package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	tlifecycle "github.com/aretw0/tilth/pkg/adapters/lifecycle"
	"github.com/aretw0/tilth/pkg/core"
)

var watchAll bool

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print tree changes of the content root",
	Long: `Watch the content root and print an event whenever its tree key changes.
Stops on interrupt.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		ws, err := openWorkspace()
		if err != nil {
			fatal("Failed to open workspace", err)
		}
		defer ws.Close()

		events, err := ws.Service.Watch(ctx)
		if err != nil {
			fatal("Failed to watch", err)
		}

		var types []core.EventType
		if !watchAll {
			types = append(types, core.EventTreeChanged)
		}
		source := tlifecycle.NewSource(events, types...)
		if err := source.Start(ctx); err != nil {
			fatal("Failed to start event source", err)
		}

		fmt.Fprintf(os.Stderr, "Watching %s (Ctrl+C to stop)\n", ws.Root)
		for e := range source.Events() {
			fmt.Println(e)
		}
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().BoolVar(&watchAll, "all", false, "Print every event, not only tree changes")
}
