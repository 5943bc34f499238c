package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/BioHazard786/meshroom/internal/config"
	"github.com/BioHazard786/meshroom/internal/relay"
	"github.com/BioHazard786/meshroom/internal/ui"
)

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Run the signaling relay",
	Long: `Run the websocket relay that introduces room participants to each other.

Endpoints:
  /ws       signaling websocket
  /health   liveness check
  /metrics  Prometheus metrics

Examples:
  meshroom relay
  meshroom relay --listen :9000 --max-room-size 4`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, closeLog, err := LoadConfig(cmd)
		if err != nil {
			return err
		}
		defer closeLog()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		ui.PrintInfof("Relay listening on %s (rooms of up to %d)", cfg.ListenAddr, cfg.MaxRoomSize)
		if err := relay.NewServer(cfg.ListenAddr, cfg.MaxRoomSize).Run(ctx); err != nil {
			return err
		}
		ui.PrintSuccess("Relay stopped")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(relayCmd)

	relayCmd.Flags().StringP("listen", "l", config.DefaultListenAddr, "Address to listen on")
	relayCmd.Flags().Int("max-room-size", config.DefaultMaxRoomSize, "Maximum participants per room")
}
