package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/confera/mesh/internal/client"
	"github.com/confera/mesh/internal/client/media"
	"github.com/confera/mesh/internal/client/rtc"
)

var (
	flagServer string
	flagName   string
	flagSTUN   string
	flagMicOff bool
	flagCamOff bool
)

var joinCmd = &cobra.Command{
	Use:   "join <room-id>",
	Short: "Join a room and stay connected until interrupted",
	Long: `Join a room on the relay and hold the session open. The client sends
a synthetic audio/video feed and logs roster changes.

Examples:
  confera join ABCD-EFGH-1234
  confera join --server ws://relay.example.com/api/ws/relay --name Alice ABCD-EFGH-1234`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return joinRoom(args[0])
	},
}

func joinRoom(room string) error {
	rtcCfg := rtc.DefaultWebRTCConfig()
	if flagSTUN != "" {
		rtcCfg = webrtc.Configuration{
			ICEServers: []webrtc.ICEServer{{URLs: []string{flagSTUN}}},
		}
	}

	sess := client.NewSession(flagServer, room, flagName,
		media.SyntheticProvider{}, rtc.Factory(rtcCfg))

	if err := sess.Join(); err != nil {
		return fmt.Errorf("join %s: %w", room, err)
	}
	defer sess.Leave()

	if flagMicOff {
		sess.ToggleMic()
	}
	if flagCamOff {
		sess.ToggleCam()
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	log.Info().Str("room", room).Msg("joined, Ctrl-C to leave")
	for {
		select {
		case <-sig:
			log.Info().Msg("leaving")
			return nil
		case <-sess.Done():
			return fmt.Errorf("relay connection lost")
		case <-ticker.C:
			for _, tile := range sess.Roster().Tiles() {
				log.Info().
					Str("handle", string(tile.Handle)).
					Str("name", tile.Name).
					Bool("micOn", tile.MicOn).
					Bool("camOn", tile.CamOn).
					Bool("hand", tile.HandRaised).
					Bool("connected", tile.Connected).
					Msg("tile")
			}
		}
	}
}

func init() {
	joinCmd.Flags().StringVar(&flagServer, "server", "ws://localhost:4000/api/ws/relay", "relay websocket URL")
	joinCmd.Flags().StringVar(&flagName, "name", "User", "display name")
	joinCmd.Flags().StringVar(&flagSTUN, "stun", "", "STUN server URL overriding the default")
	joinCmd.Flags().BoolVar(&flagMicOff, "mic-off", false, "join with the microphone muted")
	joinCmd.Flags().BoolVar(&flagCamOff, "cam-off", false, "join with the camera off")
	rootCmd.AddCommand(joinCmd)
}
