package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"wayrec/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage wayrec configuration",
	Long:  `View and manage the persisted recording settings.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Example: `  # Show settings as YAML (default)
  wayrec config show

  # Show settings as JSON
  wayrec config show --format json`,
	RunE: runConfigShow,
}

var configSetCmd = &cobra.Command{
	Use:   "set KEY VALUE",
	Short: "Set a configuration value",
	Example: `  # Set the framerate
  wayrec config set framerate 60

  # Switch to a region capture by default
  wayrec config set capture_mode region`,
	Args: cobra.ExactArgs(2),
	RunE: runConfigSet,
}

var configGetCmd = &cobra.Command{
	Use:   "get KEY",
	Short: "Get a configuration value",
	Example: `  # Get the output directory
  wayrec config get output_dir`,
	Args: cobra.ExactArgs(1),
	RunE: runConfigGet,
}

var configResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Restore the built-in defaults",
	RunE:  runConfigReset,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show the settings file path",
	RunE:  runConfigPath,
}

var formatFlag string

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configResetCmd)
	configCmd.AddCommand(configPathCmd)

	configShowCmd.Flags().StringVarP(&formatFlag, "format", "f", "yaml", "output format (yaml or json)")
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	store, err := config.NewStore(settingsPath())
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}
	cfg := store.Current()

	switch formatFlag {
	case "json":
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(cfg)
	case "yaml":
		encoder := yaml.NewEncoder(os.Stdout)
		encoder.SetIndent(2)
		return encoder.Encode(cfg)
	default:
		return fmt.Errorf("unsupported format: %s (use 'yaml' or 'json')", formatFlag)
	}
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	key, value := args[0], args[1]

	store, err := config.NewStore(settingsPath())
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}

	cfg := store.Current()
	if err := assignField(&cfg, key, value); err != nil {
		return err
	}
	if err := store.Save(cfg); err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}

	fmt.Printf("Configuration updated: %s = %s\n", key, value)
	return nil
}

// assignField maps a settings key from the YAML document onto its field
func assignField(cfg *config.Settings, key, value string) error {
	parseInt := func() (int, error) {
		n, err := strconv.Atoi(value)
		if err != nil {
			return 0, fmt.Errorf("invalid number: %s", value)
		}
		return n, nil
	}
	parseBool := func() (bool, error) {
		b, err := strconv.ParseBool(value)
		if err != nil {
			return false, fmt.Errorf("invalid boolean: %s (use: true or false)", value)
		}
		return b, nil
	}

	var err error
	switch key {
	case "output_dir":
		cfg.OutputDir = value
	case "filename_template":
		cfg.FilenameTemplate = value
	case "container":
		cfg.Container = value
	case "video_codec":
		cfg.VideoCodec = value
	case "pixel_format":
		cfg.PixelFormat = value
	case "framerate":
		cfg.Framerate, err = parseInt()
	case "video_bitrate":
		cfg.VideoBitrate = value
	case "preset":
		cfg.Preset = value
	case "crf":
		cfg.CRF, err = parseInt()
	case "audio_enabled":
		cfg.AudioEnabled, err = parseBool()
	case "audio_device":
		cfg.AudioDevice = value
	case "audio_codec":
		cfg.AudioCodec = value
	case "audio_bitrate":
		cfg.AudioBitrate = value
	case "sample_rate":
		cfg.SampleRate, err = parseInt()
	case "hardware_acceleration":
		cfg.HWAccel, err = parseBool()
	case "gpu_device":
		cfg.GPUDevice = value
	case "capture_mode":
		cfg.CaptureMode = config.CaptureMode(value)
	case "extra_args":
		cfg.ExtraArgs = strings.Fields(value)
	case "recorder_binary":
		cfg.RecorderBinary = value
	case "selector_binary":
		cfg.SelectorBinary = value
	case "server_port":
		cfg.ServerPort, err = parseInt()
	case "log_level":
		cfg.LogLevel = value
	default:
		return fmt.Errorf("unknown configuration key: %s", key)
	}
	return err
}

func runConfigGet(cmd *cobra.Command, args []string) error {
	store, err := config.NewStore(settingsPath())
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}

	// Round-trip through YAML so keys match the settings file
	raw, err := yaml.Marshal(store.Current())
	if err != nil {
		return err
	}
	var doc map[string]interface{}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return err
	}

	value, ok := doc[args[0]]
	if !ok {
		return fmt.Errorf("configuration key not found: %s", args[0])
	}
	fmt.Println(value)
	return nil
}

func runConfigReset(cmd *cobra.Command, args []string) error {
	store, err := config.NewStore(settingsPath())
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}
	if _, err := store.Reset(); err != nil {
		return fmt.Errorf("failed to reset settings: %w", err)
	}
	fmt.Println("Configuration restored to defaults")
	return nil
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	store, err := config.NewStore(settingsPath())
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}
	fmt.Println(store.Path())
	return nil
}
