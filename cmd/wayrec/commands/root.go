package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"wayrec/internal/config"
)

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "wayrec",
		Short: "wayrec - screen recording for wlroots compositors",
		Long: `wayrec drives wf-recorder and slurp to capture the screen on
wlroots-based Wayland compositors.

Features:
  • Full-screen, region and window capture
  • Graceful stop with automatic kill escalation
  • Persistent YAML configuration with live reload
  • Desktop notifications on start, completion and failure
  • REST API and WebSocket event stream for front-ends`,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "settings file (default is $HOME/.config/wayrec/settings.yaml)")
	rootCmd.PersistentFlags().Int("port", 0, "server port (default is 8537)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("pretty", false, "human-readable log output")

	viper.BindPFlag("server_port", rootCmd.PersistentFlags().Lookup("port"))
	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("pretty", rootCmd.PersistentFlags().Lookup("pretty"))

	viper.SetEnvPrefix("WAYREC")
	viper.AutomaticEnv()
}

// settingsPath resolves the settings file from the flag or the default
func settingsPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	return config.DefaultSettingsPath()
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
