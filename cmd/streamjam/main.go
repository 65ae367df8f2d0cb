package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "streamjam",
		Short: "Server-side reactive component synchronization engine",
		Long: `StreamJam keeps server-side component state and connected clients in
sync over WebSocket: reactive stores mirrored to the client, RPC into
server components, and singleton services broadcasting through rooms.

Commands:
  serve    run the built-in chat demo server
  init     write a starter streamjam.json
  version  print version information`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		serveCmd(),
		initCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
