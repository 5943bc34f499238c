package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/BioHazard786/meshroom/internal/ui"
	"github.com/BioHazard786/meshroom/internal/version"
)

var flagConfigFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "meshroom",
	Short: "Mesh audio and video rooms over WebRTC, straight from the terminal",
	Long: `Meshroom connects every participant of a room directly to every other
participant using WebRTC. A small relay only introduces peers and forwards
their session descriptions; media never passes through it.`,
	Version: version.Version,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.Execute(); err != nil {
		ui.PrintError(err.Error())
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfigFile, "config", "", "Config file (default $HOME/.config/meshroom/config.yaml)")
	rootCmd.PersistentFlags().String("log-file", "", "Write logs to a file instead of the terminal")
}
