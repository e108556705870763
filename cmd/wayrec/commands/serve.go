package commands

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"wayrec/internal/api"
	"wayrec/internal/config"
	"wayrec/internal/logger"
	"wayrec/internal/notify"
	"wayrec/internal/session"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the wayrec recording daemon",
	Long: `Start the wayrec HTTP server.

The server exposes a REST API for recording control and configuration,
plus a WebSocket event stream for front-ends.`,
	Example: `  # Start on the configured port (8537)
  wayrec serve

  # Start on a custom port with debug logging
  wayrec serve --port 9090 --log-level debug`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	store, err := config.NewStore(settingsPath())
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}
	cfg := store.Current()

	// Flags override the persisted settings without rewriting them
	port := cfg.ServerPort
	if p := viper.GetInt("server_port"); p > 0 {
		port = p
	}
	level := cfg.LogLevel
	if l := viper.GetString("log_level"); l != "" {
		level = l
	}
	logger.Init(level, viper.GetBool("pretty"))
	log := logger.WithComponent("serve")
	log.Info().Str("settings", store.Path()).Msg("settings loaded")

	notifier := notify.New()
	defer notifier.Close()

	ctrl := session.New(store, session.Options{Notifier: notifier})
	defer ctrl.Close()

	watcher, err := config.NewWatcher(store, ctrl.ConfigReloaded)
	if err != nil {
		log.Warn().Err(err).Msg("settings file watching unavailable")
	} else {
		watcher.Start()
		defer watcher.Stop()
	}

	server := api.NewServer(ctrl)
	go func() {
		if err := server.Start(port); err != nil {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	log.Info().Int("port", port).Msg("wayrec is running, press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info().Msg("shutting down gracefully")
	return nil
}
