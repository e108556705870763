package recorder

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"wayrec/internal/config"
	"wayrec/internal/selector"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func testSettings(t *testing.T) config.Settings {
	t.Helper()
	s := config.Defaults()
	s.OutputDir = t.TempDir()
	return s
}

func hasFlagValue(args []string, flag, value string) bool {
	for i := 0; i < len(args)-1; i++ {
		if args[i] == flag && args[i+1] == value {
			return true
		}
	}
	return false
}

func hasArg(args []string, arg string) bool {
	for _, a := range args {
		if a == arg {
			return true
		}
	}
	return false
}

func TestBuild_FullScreenNeedsNoSelection(t *testing.T) {
	b := NewBuilder(nil)
	cfg := testSettings(t)

	spec, err := b.Build(cfg, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if spec.Path != "wf-recorder" {
		t.Errorf("expected wf-recorder, got %s", spec.Path)
	}
	if hasArg(spec.Args, "-g") {
		t.Error("full-screen build must not carry a geometry flag")
	}
	if spec.OutputPath == "" {
		t.Error("expected output path to be set")
	}
}

func TestBuild_RegionWithoutSelection(t *testing.T) {
	b := NewBuilder(nil)
	cfg := testSettings(t)
	cfg.CaptureMode = config.CaptureRegion

	cases := []*selector.Result{
		nil,
		{Cancelled: true},
		{}, // zero-area geometry
	}
	for _, sel := range cases {
		if _, err := b.Build(cfg, sel); !errors.Is(err, ErrMissingTarget) {
			t.Errorf("selection %+v: expected ErrMissingTarget, got %v", sel, err)
		}
	}
}

func TestBuild_RegionGeometry(t *testing.T) {
	b := NewBuilder(nil)
	cfg := testSettings(t)
	cfg.CaptureMode = config.CaptureRegion

	sel := &selector.Result{Geometry: selector.Geometry{X: 10, Y: 20, Width: 300, Height: 200}}
	spec, err := b.Build(cfg, sel)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !hasFlagValue(spec.Args, "-g", "10,20 300x200") {
		t.Errorf("expected geometry flag, got %v", spec.Args)
	}
}

func TestBuild_FramerateAndAudioFlags(t *testing.T) {
	b := NewBuilder(nil)
	cfg := testSettings(t)
	cfg.Framerate = 30
	cfg.AudioEnabled = false

	spec, err := b.Build(cfg, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !hasFlagValue(spec.Args, "-r", "30") {
		t.Errorf("expected framerate argument 30, got %v", spec.Args)
	}
	for _, a := range spec.Args {
		if a == "-a" || strings.HasPrefix(a, "--audio") {
			t.Errorf("audio disabled but args carry %q", a)
		}
	}
}

func TestBuild_AudioDevice(t *testing.T) {
	b := NewBuilder(nil)
	cfg := testSettings(t)
	cfg.AudioEnabled = true
	cfg.AudioDevice = "alsa_output.pci.analog-stereo.monitor"

	spec, err := b.Build(cfg, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !hasArg(spec.Args, "--audio="+cfg.AudioDevice) {
		t.Errorf("expected attached audio device flag, got %v", spec.Args)
	}
	if hasArg(spec.Args, "-a") {
		t.Error("bare -a must not appear when a device is set")
	}
}

func TestBuild_OptionalFlagsOmittedWhenUnset(t *testing.T) {
	b := NewBuilder(nil)
	cfg := testSettings(t)
	cfg.VideoBitrate = ""
	cfg.HWAccel = false
	cfg.GPUDevice = ""

	spec, err := b.Build(cfg, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if hasArg(spec.Args, "-b") || hasArg(spec.Args, "-d") {
		t.Errorf("unset optional flags must be omitted, got %v", spec.Args)
	}
}

func TestBuild_HardwareAcceleration(t *testing.T) {
	b := NewBuilder(nil)
	cfg := testSettings(t)
	cfg.HWAccel = true
	cfg.GPUDevice = "/dev/dri/renderD128"
	cfg.VideoCodec = "h264_vaapi"

	spec, err := b.Build(cfg, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !hasFlagValue(spec.Args, "-d", "/dev/dri/renderD128") {
		t.Errorf("expected DRM device flag, got %v", spec.Args)
	}
	if hasArg(spec.Args, "-x") {
		t.Error("pixel format must be suppressed for VAAPI codecs")
	}
}

func TestBuild_X264CodecParams(t *testing.T) {
	b := NewBuilder(nil)
	cfg := testSettings(t)
	cfg.VideoCodec = "libx264"
	cfg.Preset = "fast"
	cfg.CRF = 18

	spec, err := b.Build(cfg, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !hasFlagValue(spec.Args, "-p", "fast") {
		t.Errorf("expected preset param, got %v", spec.Args)
	}
	if !hasFlagValue(spec.Args, "-p", "crf=18") {
		t.Errorf("expected crf param, got %v", spec.Args)
	}
}

func TestBuild_OutputPathLast(t *testing.T) {
	b := NewBuilder(nil)
	cfg := testSettings(t)
	cfg.ExtraArgs = []string{"--no-damage"}

	spec, err := b.Build(cfg, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	n := len(spec.Args)
	if n < 2 || spec.Args[n-2] != "-f" || spec.Args[n-1] != spec.OutputPath {
		t.Errorf("expected -f <output> last, got %v", spec.Args)
	}
	if !hasArg(spec.Args, "--no-damage") {
		t.Errorf("expected extra args before output flag, got %v", spec.Args)
	}
}

func TestBuild_TimestampedOutputPath(t *testing.T) {
	now := time.Date(2025, 3, 14, 15, 9, 26, 0, time.UTC)
	b := NewBuilder(fixedClock(now))
	cfg := testSettings(t)

	spec, err := b.Build(cfg, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	want := filepath.Join(cfg.OutputDir, "Recording_2025-03-14_15-09-26.mp4")
	if spec.OutputPath != want {
		t.Errorf("got %s, want %s", spec.OutputPath, want)
	}
}

func TestBuild_SameSecondPathsNeverCollide(t *testing.T) {
	now := time.Date(2025, 3, 14, 15, 9, 26, 0, time.UTC)
	b := NewBuilder(fixedClock(now))
	cfg := testSettings(t)

	seen := make(map[string]bool)
	for i := 0; i < 5; i++ {
		spec, err := b.Build(cfg, nil)
		if err != nil {
			t.Fatalf("Build %d: %v", i, err)
		}
		if seen[spec.OutputPath] {
			t.Fatalf("output path %s repeated on build %d", spec.OutputPath, i)
		}
		seen[spec.OutputPath] = true
	}
}

func TestBuild_TemplateWithoutTokenStillTimestamped(t *testing.T) {
	now := time.Date(2025, 3, 14, 15, 9, 26, 0, time.UTC)
	b := NewBuilder(fixedClock(now))
	cfg := testSettings(t)
	cfg.FilenameTemplate = "capture"

	spec, err := b.Build(cfg, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !strings.Contains(spec.OutputPath, "2025-03-14_15-09-26") {
		t.Errorf("expected timestamp appended, got %s", spec.OutputPath)
	}
}

func TestBuild_InvalidConfigRejected(t *testing.T) {
	b := NewBuilder(nil)
	cfg := testSettings(t)
	cfg.Framerate = 0

	if _, err := b.Build(cfg, nil); err == nil {
		t.Fatal("expected invalid configuration to be rejected")
	}
}

func TestBuild_WindowIDCarriedThrough(t *testing.T) {
	b := NewBuilder(nil)
	cfg := testSettings(t)
	cfg.CaptureMode = config.CaptureWindow

	sel := &selector.Result{
		Geometry: selector.Geometry{X: 0, Y: 0, Width: 800, Height: 600},
		WindowID: "firefox",
	}
	spec, err := b.Build(cfg, sel)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if spec.WindowID != "firefox" {
		t.Errorf("expected window id carried through, got %q", spec.WindowID)
	}
}
