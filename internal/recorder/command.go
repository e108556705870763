// Package recorder maps a validated configuration and an optional
// selection onto the external recorder's argument vocabulary.
package recorder

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"wayrec/internal/config"
	"wayrec/internal/selector"
)

// ErrMissingTarget is returned when region or window mode has no
// resolved selection to record.
var ErrMissingTarget = errors.New("capture target not resolved")

// Spec is a fully resolved recorder invocation. Args is always passed as
// a vector; nothing here ever goes through a shell.
type Spec struct {
	Path       string
	Args       []string
	OutputPath string
	// WindowID labels window-mode recordings in events and logs
	WindowID string
}

// Builder constructs recorder invocations. It is pure apart from the
// per-process disambiguator that keeps same-second output paths from
// colliding.
type Builder struct {
	clock func() time.Time

	mu        sync.Mutex
	lastStamp string
	seq       int
}

// NewBuilder creates a builder with the given clock; nil means wall time
func NewBuilder(clock func() time.Time) *Builder {
	if clock == nil {
		clock = time.Now
	}
	return &Builder{clock: clock}
}

const timestampLayout = "2006-01-02_15-04-05"

// Build translates settings plus an optional selection into a command
// spec. Region and window modes require a present, non-cancelled
// selection; optional flags are omitted entirely when unset.
func (b *Builder) Build(cfg config.Settings, sel *selector.Result) (Spec, error) {
	if err := cfg.Validate(); err != nil {
		return Spec{}, err
	}

	needsTarget := cfg.CaptureMode.NeedsSelection()
	if needsTarget {
		if sel == nil || sel.Cancelled || sel.Geometry.Width <= 0 || sel.Geometry.Height <= 0 {
			return Spec{}, ErrMissingTarget
		}
	}

	var args []string

	if cfg.AudioEnabled {
		if cfg.AudioDevice != "" {
			args = append(args, "--audio="+cfg.AudioDevice)
		} else {
			args = append(args, "-a")
		}
		if cfg.AudioCodec != "" {
			args = append(args, "-C", cfg.AudioCodec)
		}
		if cfg.AudioBitrate != "" {
			args = append(args, "-B", cfg.AudioBitrate)
		}
		if cfg.SampleRate > 0 {
			args = append(args, "-R", strconv.Itoa(cfg.SampleRate))
		}
	}

	args = append(args, "-c", cfg.VideoCodec)

	// VAAPI codecs pick their own surface format
	if cfg.PixelFormat != "" && !strings.Contains(cfg.VideoCodec, "vaapi") {
		args = append(args, "-x", cfg.PixelFormat)
	}

	args = append(args, "-r", strconv.Itoa(cfg.Framerate))

	if needsTarget {
		args = append(args, "-g", sel.Geometry.String())
	}

	if cfg.VideoBitrate != "" {
		args = append(args, "-b", cfg.VideoBitrate)
	}

	if cfg.HWAccel && cfg.GPUDevice != "" {
		args = append(args, "-d", cfg.GPUDevice)
	}

	if strings.HasPrefix(cfg.VideoCodec, "libx264") || strings.HasPrefix(cfg.VideoCodec, "libx265") {
		if cfg.Preset != "" {
			args = append(args, "-p", cfg.Preset)
		}
		args = append(args, "-p", fmt.Sprintf("crf=%d", cfg.CRF))
	}

	args = append(args, cfg.ExtraArgs...)

	outputPath := b.outputPath(cfg)
	args = append(args, "-f", outputPath)

	spec := Spec{
		Path:       cfg.RecorderBinary,
		Args:       args,
		OutputPath: outputPath,
	}
	if sel != nil {
		spec.WindowID = sel.WindowID
	}
	return spec, nil
}

// outputPath combines output directory, filename template and a build
// timestamp. Two builds in the same second within one process get a
// monotonically increasing suffix so paths never collide.
func (b *Builder) outputPath(cfg config.Settings) string {
	stamp := b.clock().Format(timestampLayout)

	name := strings.ReplaceAll(cfg.FilenameTemplate, config.TimestampToken, stamp)
	if name == cfg.FilenameTemplate {
		// Template carries no timestamp token; append one to keep
		// recordings distinguishable.
		name += "_" + stamp
	}

	b.mu.Lock()
	if stamp == b.lastStamp {
		b.seq++
		name += "_" + strconv.Itoa(b.seq)
	} else {
		b.lastStamp = stamp
		b.seq = 0
	}
	b.mu.Unlock()

	return filepath.Join(cfg.OutputDir, name+"."+cfg.Container)
}
