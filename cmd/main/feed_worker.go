package main

import (
	"os"
	"os/signal"
	"syscall"

	"market-platform/src/extensions"
	"market-platform/src/websocket"

	"github.com/spf13/cobra"
)

// feedWorkerCmd is what the feed manager re-executes for every supervised
// feed. It talks to its parent over stdin and stdout only.
var feedWorkerCmd = &cobra.Command{
	Use:    "feed-worker",
	Hidden: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		spec, _ := cmd.Flags().GetString("spec")
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return websocket.RunChild(ctx, spec, extensions.FeedProtocols(), os.Stdin, os.Stdout, os.Stderr)
	},
}

func init() {
	feedWorkerCmd.Flags().String("spec", "", "feed spec as JSON")
	_ = feedWorkerCmd.MarkFlagRequired("spec")
}
