// Package cmd implements CLI commands using cobra framework.
package cmd

import (
	"github.com/spf13/cobra"

	"firestige.xyz/resmeter/internal/config"
	_ "firestige.xyz/resmeter/plugins"
)

var (
	// Global flags
	configFile string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "resmeter",
	Short: "resmeter - passive combat meter for Star Resonance",
	Long: `resmeter watches the game's network traffic and reports per-player combat statistics.
It finds the game server connection, rebuilds its TCP stream, decodes the framed
messages and aggregates damage, healing and damage taken.

Statistics are served over HTTP (/api/data) and WebSocket (/ws).`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "",
		"config file path (defaults only when empty)")

	// Add subcommands
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(replayCmd)
	rootCmd.AddCommand(devicesCmd)
}

func loadConfig() (*config.GlobalConfig, error) {
	return config.Load(configFile)
}
