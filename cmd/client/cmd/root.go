package cmd

import (
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "confera",
	Short: "Headless mesh video-room client",
	Long: `Confera is a headless client for the Confera relay: it joins a room,
negotiates a direct WebRTC link with every other participant and keeps
the room state (members, mic/cam, hands, chat) in sync.`,
}

// Execute runs the CLI. Called once from main.
func Execute() {
	rootCmd.SilenceUsage = true

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}
