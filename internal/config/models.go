package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"golang.org/x/sys/unix"
)

// CaptureMode selects what a recording targets
type CaptureMode string

const (
	CaptureFullScreen CaptureMode = "full-screen"
	CaptureRegion     CaptureMode = "region"
	CaptureWindow     CaptureMode = "window"
)

// SchemaVersion is the current settings document version
const SchemaVersion = 1

// TimestampToken is replaced by the recording timestamp in filename templates
const TimestampToken = "{timestamp}"

// Settings is the validated recording configuration. A snapshot of it is
// taken when a session starts; the session never sees later edits.
type Settings struct {
	Version int `yaml:"version" json:"version"`

	OutputDir        string `yaml:"output_dir" json:"output_dir"`
	FilenameTemplate string `yaml:"filename_template" json:"filename_template"`
	Container        string `yaml:"container" json:"container"`

	VideoCodec   string `yaml:"video_codec" json:"video_codec"`
	PixelFormat  string `yaml:"pixel_format" json:"pixel_format"`
	Framerate    int    `yaml:"framerate" json:"framerate"`
	VideoBitrate string `yaml:"video_bitrate,omitempty" json:"video_bitrate,omitempty"`
	Preset       string `yaml:"preset" json:"preset"`
	CRF          int    `yaml:"crf" json:"crf"`

	AudioEnabled bool   `yaml:"audio_enabled" json:"audio_enabled"`
	AudioDevice  string `yaml:"audio_device,omitempty" json:"audio_device,omitempty"`
	AudioCodec   string `yaml:"audio_codec" json:"audio_codec"`
	AudioBitrate string `yaml:"audio_bitrate,omitempty" json:"audio_bitrate,omitempty"`
	SampleRate   int    `yaml:"sample_rate" json:"sample_rate"`

	HWAccel   bool   `yaml:"hardware_acceleration" json:"hardware_acceleration"`
	GPUDevice string `yaml:"gpu_device,omitempty" json:"gpu_device,omitempty"`

	CaptureMode CaptureMode `yaml:"capture_mode" json:"capture_mode"`

	// ExtraArgs are appended verbatim to the recorder argv, never joined
	// into a shell string.
	ExtraArgs []string `yaml:"extra_args,omitempty" json:"extra_args,omitempty"`

	RecorderBinary string `yaml:"recorder_binary" json:"recorder_binary"`
	SelectorBinary string `yaml:"selector_binary" json:"selector_binary"`

	ServerPort int    `yaml:"server_port" json:"server_port"`
	LogLevel   string `yaml:"log_level" json:"log_level"`
}

// MaxFramerate bounds the accepted framerate
const MaxFramerate = 240

var (
	bitrateRe = regexp.MustCompile(`^[0-9]+[kKmM]?$`)
	// DRM render and card nodes are the only accepted acceleration devices
	gpuDeviceRe = regexp.MustCompile(`^/dev/dri/(renderD[0-9]+|card[0-9]+)$`)
)

var validPresets = map[string]bool{
	"ultrafast": true, "superfast": true, "veryfast": true, "faster": true,
	"fast": true, "medium": true, "slow": true, "slower": true, "veryslow": true,
}

// Defaults returns the built-in default settings
func Defaults() Settings {
	return Settings{
		Version:          SchemaVersion,
		OutputDir:        defaultVideosDir(),
		FilenameTemplate: "Recording_" + TimestampToken,
		Container:        "mp4",
		VideoCodec:       "libx264",
		PixelFormat:      "yuv420p",
		Framerate:        30,
		Preset:           "medium",
		CRF:              23,
		AudioEnabled:     true,
		AudioCodec:       "aac",
		SampleRate:       48000,
		CaptureMode:      CaptureFullScreen,
		RecorderBinary:   "wf-recorder",
		SelectorBinary:   "slurp",
		ServerPort:       8537,
		LogLevel:         "info",
	}
}

func defaultVideosDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "Videos"
	}
	return filepath.Join(home, "Videos")
}

// ValidationError reports a settings field that failed validation
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Validate checks the full configuration against the same rules used for
// per-field merge on load. The first failing field is reported.
func (s Settings) Validate() error {
	for _, check := range s.fieldChecks() {
		if !check.ok {
			return &ValidationError{Field: check.field, Reason: check.reason}
		}
	}
	return nil
}

type fieldCheck struct {
	field  string
	ok     bool
	reason string
}

func (s Settings) fieldChecks() []fieldCheck {
	return []fieldCheck{
		{"output_dir", validOutputDir(s.OutputDir), "directory must exist and be writable"},
		{"filename_template", validFilenameTemplate(s.FilenameTemplate), "must be a plain file name"},
		{"container", validToken(s.Container), "must be a short alphanumeric format name"},
		{"video_codec", validToken(s.VideoCodec), "must be a codec identifier"},
		{"pixel_format", s.PixelFormat == "" || validToken(s.PixelFormat), "must be a pixel format identifier"},
		{"framerate", s.Framerate >= 1 && s.Framerate <= MaxFramerate, fmt.Sprintf("must be between 1 and %d", MaxFramerate)},
		{"video_bitrate", s.VideoBitrate == "" || bitrateRe.MatchString(s.VideoBitrate), "must look like 5M or 4500k"},
		{"preset", s.Preset == "" || validPresets[s.Preset], "unknown encoder preset"},
		{"crf", s.CRF >= 0 && s.CRF <= 51, "must be between 0 and 51"},
		{"audio_codec", s.AudioCodec == "" || validToken(s.AudioCodec), "must be a codec identifier"},
		{"audio_bitrate", s.AudioBitrate == "" || bitrateRe.MatchString(s.AudioBitrate), "must look like 192k"},
		{"sample_rate", s.SampleRate >= 8000 && s.SampleRate <= 192000, "must be between 8000 and 192000"},
		{"gpu_device", s.GPUDevice == "" || gpuDeviceRe.MatchString(s.GPUDevice), "must be a /dev/dri render or card node"},
		{"capture_mode", s.CaptureMode.Valid(), "must be full-screen, region or window"},
		{"recorder_binary", s.RecorderBinary != "", "must not be empty"},
		{"selector_binary", s.SelectorBinary != "", "must not be empty"},
		{"server_port", s.ServerPort > 0 && s.ServerPort < 65536, "must be a TCP port"},
		{"log_level", validLogLevel(s.LogLevel), "must be debug, info, warn or error"},
	}
}

// Valid reports whether the capture mode is a known value
func (m CaptureMode) Valid() bool {
	switch m {
	case CaptureFullScreen, CaptureRegion, CaptureWindow:
		return true
	}
	return false
}

// NeedsSelection reports whether the mode requires a resolved target
// before a command can be built
func (m CaptureMode) NeedsSelection() bool {
	return m == CaptureRegion || m == CaptureWindow
}

func validOutputDir(dir string) bool {
	if dir == "" {
		return false
	}
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return false
	}
	return unix.Access(dir, unix.W_OK) == nil
}

func validFilenameTemplate(tmpl string) bool {
	if tmpl == "" || strings.ContainsRune(tmpl, os.PathSeparator) {
		return false
	}
	return tmpl != "." && tmpl != ".."
}

func validToken(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '_', r == '-', r == '.':
		default:
			return false
		}
	}
	return true
}

func validLogLevel(level string) bool {
	switch strings.ToLower(level) {
	case "debug", "info", "warn", "warning", "error":
		return true
	}
	return false
}

// sanitize replaces every invalid field with its default. It returns the
// names of the fields that were replaced. Loading never fails on a single
// corrupt field.
func sanitize(s Settings) (Settings, []string) {
	defaults := Defaults()
	var replaced []string

	for _, check := range s.fieldChecks() {
		if check.ok {
			continue
		}
		replaced = append(replaced, check.field)
		switch check.field {
		case "output_dir":
			s.OutputDir = defaults.OutputDir
		case "filename_template":
			s.FilenameTemplate = defaults.FilenameTemplate
		case "container":
			s.Container = defaults.Container
		case "video_codec":
			s.VideoCodec = defaults.VideoCodec
		case "pixel_format":
			s.PixelFormat = defaults.PixelFormat
		case "framerate":
			s.Framerate = defaults.Framerate
		case "video_bitrate":
			s.VideoBitrate = defaults.VideoBitrate
		case "preset":
			s.Preset = defaults.Preset
		case "crf":
			s.CRF = defaults.CRF
		case "audio_codec":
			s.AudioCodec = defaults.AudioCodec
		case "audio_bitrate":
			s.AudioBitrate = defaults.AudioBitrate
		case "sample_rate":
			s.SampleRate = defaults.SampleRate
		case "gpu_device":
			s.GPUDevice = defaults.GPUDevice
		case "capture_mode":
			s.CaptureMode = defaults.CaptureMode
		case "recorder_binary":
			s.RecorderBinary = defaults.RecorderBinary
		case "selector_binary":
			s.SelectorBinary = defaults.SelectorBinary
		case "server_port":
			s.ServerPort = defaults.ServerPort
		case "log_level":
			s.LogLevel = defaults.LogLevel
		}
	}

	s.Version = SchemaVersion
	return s, replaced
}
