package selector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"wayrec/internal/logger"
)

// windowRect pairs a visible window's rectangle with its identifier
type windowRect struct {
	id       string
	geometry Geometry
}

// swayNode is the subset of the sway/i3 tree we care about
type swayNode struct {
	Type       string `json:"type"`
	AppID      string `json:"app_id"`
	Name       string `json:"name"`
	Visible    bool   `json:"visible"`
	WindowProp struct {
		Class string `json:"class"`
	} `json:"window_properties"`
	Rect struct {
		X      int `json:"x"`
		Y      int `json:"y"`
		Width  int `json:"width"`
		Height int `json:"height"`
	} `json:"rect"`
	Nodes         []swayNode `json:"nodes"`
	FloatingNodes []swayNode `json:"floating_nodes"`
}

// selectWindow resolves window mode: the compositor's window rectangles
// are fed to the selection tool so the user picks a whole window, and
// the chosen rectangle is mapped back to its window identifier.
func (s *Selector) selectWindow(ctx context.Context) (Result, error) {
	windows, err := s.listWindows(ctx)
	if err != nil {
		return Result{}, err
	}
	if len(windows) == 0 {
		return Result{}, fmt.Errorf("compositor reported no visible windows")
	}
	return s.selectRegion(ctx, windows)
}

// listWindows queries the compositor tree and collects visible windows
func (s *Selector) listWindows(ctx context.Context) ([]windowRect, error) {
	if len(s.WindowListCommand) == 0 {
		return nil, fmt.Errorf("no window list command configured")
	}

	cmd := exec.CommandContext(ctx, s.WindowListCommand[0], s.WindowListCommand[1:]...)
	cmd.WaitDelay = time.Second
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		diag := strings.TrimSpace(stderr.String())
		if diag != "" {
			return nil, fmt.Errorf("window listing failed: %s", diag)
		}
		return nil, fmt.Errorf("window listing failed: %w", err)
	}

	var root swayNode
	if err := json.Unmarshal(stdout.Bytes(), &root); err != nil {
		return nil, fmt.Errorf("failed to parse compositor tree: %w", err)
	}

	var windows []windowRect
	collectWindows(&root, &windows)
	logger.WithComponent("selector").Debug().Int("windows", len(windows)).Msg("collected compositor windows")
	return windows, nil
}

func collectWindows(node *swayNode, out *[]windowRect) {
	id := node.AppID
	if id == "" {
		// XWayland windows carry a class instead of an app_id
		id = node.WindowProp.Class
	}

	isLeaf := len(node.Nodes) == 0 && len(node.FloatingNodes) == 0
	if node.Type == "con" || node.Type == "floating_con" {
		if isLeaf && node.Visible && id != "" && node.Rect.Width > 0 && node.Rect.Height > 0 {
			*out = append(*out, windowRect{
				id: id,
				geometry: Geometry{
					X:      node.Rect.X,
					Y:      node.Rect.Y,
					Width:  node.Rect.Width,
					Height: node.Rect.Height,
				},
			})
		}
	}

	for i := range node.Nodes {
		collectWindows(&node.Nodes[i], out)
	}
	for i := range node.FloatingNodes {
		collectWindows(&node.FloatingNodes[i], out)
	}
}
