package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	// Best effort: a missing .env file is fine.
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:   "tilewire",
		Short: "Realtime sync client for multiplayer tile game rooms",
		Long: `tilewire connects to a game server room over WebSocket and keeps a
local copy of the room state in sync: heartbeats, reconnects with
backoff, sequence-gap recovery, and snapshot persistence.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		joinCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
