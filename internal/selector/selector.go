// Package selector drives the external region/window selection tool and
// turns its textual geometry output into typed results.
package selector

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"syscall"
	"time"

	"wayrec/internal/config"
	"wayrec/internal/logger"
)

// Geometry is a selected screen rectangle
type Geometry struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// String renders the geometry in the recorder's "X,Y WxH" form
func (g Geometry) String() string {
	return fmt.Sprintf("%d,%d %dx%d", g.X, g.Y, g.Width, g.Height)
}

// Result is the outcome of a selection. Exactly one of the three shapes
// holds: Cancelled is set, or the selection failed (the Select error), or
// Geometry is populated (with WindowID as well in window mode).
type Result struct {
	Geometry  Geometry `json:"geometry"`
	WindowID  string   `json:"window_id,omitempty"`
	Cancelled bool     `json:"cancelled,omitempty"`
}

// Selector invokes the external selection tool. The zero value is not
// usable; construct with New.
type Selector struct {
	// Binary is the slurp-compatible selection tool
	Binary string
	// WindowListCommand produces the compositor window tree as JSON
	// (swaymsg -t get_tree by default)
	WindowListCommand []string
}

// New creates a selector around the given slurp-compatible binary
func New(binary string) *Selector {
	if binary == "" {
		binary = "slurp"
	}
	return &Selector{
		Binary:            binary,
		WindowListCommand: []string{"swaymsg", "-t", "get_tree"},
	}
}

var geometryRe = regexp.MustCompile(`^(\d+),(\d+) (\d+)x(\d+)$`)

// ParseGeometry parses the selector's "X,Y WxH" output. Malformed,
// negative, or zero-area output is rejected, never coerced.
func ParseGeometry(s string) (Geometry, error) {
	m := geometryRe.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return Geometry{}, fmt.Errorf("malformed selection output %q", s)
	}

	fields := make([]int, 4)
	for i, raw := range m[1:] {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return Geometry{}, fmt.Errorf("malformed selection output %q: %w", s, err)
		}
		fields[i] = n
	}

	g := Geometry{X: fields[0], Y: fields[1], Width: fields[2], Height: fields[3]}
	if g.Width <= 0 || g.Height <= 0 {
		return Geometry{}, fmt.Errorf("zero-area selection %q", s)
	}
	return g, nil
}

// Select runs the selection tool for the given mode and blocks until the
// user picks a target or aborts. Cancelling the context kills the
// selector process so no prompt lingers on screen.
func (s *Selector) Select(ctx context.Context, mode config.CaptureMode) (Result, error) {
	switch mode {
	case config.CaptureRegion:
		return s.selectRegion(ctx, nil)
	case config.CaptureWindow:
		return s.selectWindow(ctx)
	default:
		return Result{}, fmt.Errorf("capture mode %q needs no selection", mode)
	}
}

// selectRegion runs the selection tool, optionally restricted to the
// given candidate rectangles (window mode feeds these via stdin).
func (s *Selector) selectRegion(ctx context.Context, candidates []windowRect) (Result, error) {
	log := logger.WithComponent("selector")

	args := []string{"-f", "%x,%y %wx%h"}
	if candidates != nil {
		args = append(args, "-r")
	}

	cmd := exec.CommandContext(ctx, s.Binary, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	// Own process group: cancellation must reach anything the tool
	// forks, and a straggler must not hold the output pipes open past
	// the kill.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.WaitDelay = time.Second
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	if candidates != nil {
		var lines strings.Builder
		for _, w := range candidates {
			fmt.Fprintf(&lines, "%s\n", w.geometry)
		}
		cmd.Stdin = strings.NewReader(lines.String())
	}

	log.Debug().Str("binary", s.Binary).Strs("args", args).Msg("invoking selection tool")
	err := cmd.Run()

	if ctx.Err() != nil {
		// The start request was dismissed; CommandContext already
		// killed the selector.
		log.Debug().Msg("selection cancelled by caller")
		return Result{Cancelled: true}, nil
	}

	if err != nil {
		// Only a real non-zero exit can mean cancellation; a tool that
		// never ran is an environment problem, not a user choice.
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return Result{}, fmt.Errorf("selection tool could not run: %w", err)
		}
		diag := strings.TrimSpace(stderr.String())
		if diag == "" {
			// Escape or right-click: the tool exits non-zero
			// without diagnostics.
			return Result{Cancelled: true}, nil
		}
		return Result{}, fmt.Errorf("selection tool failed: %s", diag)
	}

	geom, err := ParseGeometry(stdout.String())
	if err != nil {
		return Result{}, err
	}

	res := Result{Geometry: geom}
	for _, w := range candidates {
		if w.geometry == geom {
			res.WindowID = w.id
			break
		}
	}
	return res, nil
}
