package commands

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"wayrec/internal/config"
	"wayrec/internal/logger"
	"wayrec/internal/notify"
	"wayrec/internal/session"
)

var (
	modeFlag string

	recordCmd = &cobra.Command{
		Use:   "record",
		Short: "Record the screen from the terminal",
		Long: `Start a recording without the daemon. The recording runs until
Ctrl+C, which stops it gracefully and finalizes the output file.`,
		Example: `  # Record the full screen
  wayrec record

  # Select a region first
  wayrec record --mode region

  # Pick a window
  wayrec record --mode window`,
		RunE: runRecord,
	}
)

func init() {
	rootCmd.AddCommand(recordCmd)
	recordCmd.Flags().StringVarP(&modeFlag, "mode", "m", "", "capture mode (full-screen, region or window)")
}

func runRecord(cmd *cobra.Command, args []string) error {
	store, err := config.NewStore(settingsPath())
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}

	level := store.Current().LogLevel
	if l := viper.GetString("log_level"); l != "" {
		level = l
	}
	logger.Init(level, true)

	notifier := notify.New()
	defer notifier.Close()

	ctrl := session.New(store, session.Options{Notifier: notifier})
	events := ctrl.Subscribe()
	defer ctrl.Unsubscribe(events)

	if err := ctrl.Start(config.CaptureMode(modeFlag)); err != nil {
		return err
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	var failure error
	for {
		select {
		case <-sigChan:
			// Second Ctrl+C during the stop falls through to the kill
			// escalation inside the controller.
			if err := ctrl.Stop(); err != nil {
				ctrl.Close()
				return nil
			}
		case ev, ok := <-events:
			if !ok {
				return failure
			}
			switch ev.Type {
			case session.EventStateChanged:
				switch ev.State {
				case session.StateRecording:
					fmt.Printf("Recording to %s (Ctrl+C to stop)\n", ev.OutputPath)
				case session.StateCompleted:
					fmt.Printf("Saved %s\n", ev.OutputPath)
				case session.StateFailed:
					failure = fmt.Errorf("recording failed: %s", ev.Reason)
				case session.StateIdle:
					if failure == nil && ev.Reason != "" {
						fmt.Println(ev.Reason)
					}
					return failure
				}
			case session.EventError:
				logger.WithComponent("record").Debug().
					Str("kind", string(ev.Kind)).Str("message", ev.Message).
					Msg("session error")
			}
		}
	}
}
