package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/tilewire-dev/tilewire"
	"github.com/tilewire-dev/tilewire/pkg/gamestate"
)

func joinCmd() *cobra.Command {
	var (
		configPath string
		serverURL  string
		playerName string
		storageDir string
		debugAddr  string
		verbose    bool
	)

	cmd := &cobra.Command{
		Use:   "join <room-id>",
		Short: "Join a room and follow its state",
		Long: `Join connects to the given room, prints every state transition, and
stays connected until interrupted. Heartbeats, reconnects, and
sequence-gap recovery all run in the background.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			roomID := args[0]

			cfg, err := loadConfig(configPath, serverURL)
			if err != nil {
				return err
			}
			if storageDir != "" {
				cfg.StorageDir = storageDir
			}
			if debugAddr != "" {
				cfg.DebugAddr = debugAddr
			}
			if playerName == "" {
				playerName = os.Getenv("TILEWIRE_PLAYER")
			}
			if playerName == "" {
				return fmt.Errorf("player name required (--player or TILEWIRE_PLAYER)")
			}

			level := zerolog.InfoLevel
			if verbose {
				level = zerolog.DebugLevel
			}
			log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
				Level(level).With().Timestamp().Logger()

			client, err := tilewire.New(cfg, tilewire.WithLogger(log))
			if err != nil {
				return err
			}
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			if err := client.Initialize(ctx); err != nil {
				return err
			}
			defer client.Destroy()

			client.Store().AddListener(func(s gamestate.GameState) {
				printState(s)
			})

			if err := client.JoinRoom(ctx, roomID, playerName); err != nil {
				return err
			}
			fmt.Printf("joined %s as %s — Ctrl-C to leave\n", roomID, playerName)

			<-ctx.Done()
			client.LeaveRoom()
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML config file")
	cmd.Flags().StringVar(&serverURL, "server", "", "Game server WebSocket URL (overrides config)")
	cmd.Flags().StringVarP(&playerName, "player", "p", "", "Player name")
	cmd.Flags().StringVar(&storageDir, "storage", "", "Directory for recovery snapshots")
	cmd.Flags().StringVar(&debugAddr, "debug-addr", "", "Serve /healthz, /errors, /metrics on this address")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Debug logging")

	return cmd
}

// loadConfig builds the client config from the file, flags, and
// environment, in increasing precedence.
func loadConfig(path, serverURL string) (tilewire.Config, error) {
	cfg := tilewire.DefaultConfig()
	if path != "" {
		loaded, err := tilewire.LoadConfig(path)
		if err != nil {
			return tilewire.Config{}, err
		}
		cfg = loaded
	}
	if env := os.Getenv("TILEWIRE_SERVER_URL"); env != "" {
		cfg.ServerURL = env
	}
	if serverURL != "" {
		cfg.ServerURL = serverURL
	}
	if cfg.ServerURL == "" {
		return tilewire.Config{}, fmt.Errorf("server URL required (--server, config file, or TILEWIRE_SERVER_URL)")
	}
	return cfg, nil
}

// printState renders one state transition to stdout.
func printState(s gamestate.GameState) {
	var b strings.Builder
	fmt.Fprintf(&b, "[round %d] phase=%s", s.Round, s.Phase)
	if s.Error != "" {
		fmt.Fprintf(&b, " error=%q", s.Error)
	}
	if s.IsMyTurn {
		b.WriteString(" (your turn)")
		if len(s.ValidOptions.DeclarationValues) > 0 {
			fmt.Fprintf(&b, " declare one of %v", s.ValidOptions.DeclarationValues)
		}
		if n := len(s.ValidOptions.PlayCombinations); n > 0 {
			fmt.Fprintf(&b, " %d playable combinations", n)
		}
	}
	if len(s.Hand) > 0 {
		fmt.Fprintf(&b, " hand=%v", s.Hand)
	}
	fmt.Println(b.String())
}
