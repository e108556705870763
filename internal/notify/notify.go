// Package notify sends desktop notifications over the D-Bus session bus.
package notify

import (
	"fmt"
	"sync"

	"github.com/godbus/dbus/v5"

	"wayrec/internal/logger"
)

const (
	notifyService = "org.freedesktop.Notifications"
	notifyPath    = "/org/freedesktop/Notifications"
	notifyMethod  = "org.freedesktop.Notifications.Notify"
)

// Urgency levels per the freedesktop notification spec
const (
	UrgencyLow      byte = 0
	UrgencyNormal   byte = 1
	UrgencyCritical byte = 2
)

// Notifier delivers desktop notifications. Failures are logged, never
// propagated: a missing notification daemon must not break recording.
type Notifier struct {
	mu   sync.Mutex
	conn *dbus.Conn
}

// New creates a notifier; the bus connection is made lazily
func New() *Notifier {
	return &Notifier{}
}

// Close releases the bus connection
func (n *Notifier) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.conn != nil {
		n.conn.Close()
		n.conn = nil
	}
}

func (n *Notifier) send(summary, body, icon string, urgency byte) {
	if err := n.trySend(summary, body, icon, urgency); err != nil {
		logger.WithComponent("notify").Debug().Err(err).Msg("desktop notification not delivered")
	}
}

func (n *Notifier) trySend(summary, body, icon string, urgency byte) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.conn == nil {
		conn, err := dbus.ConnectSessionBus()
		if err != nil {
			return fmt.Errorf("session bus unavailable: %w", err)
		}
		n.conn = conn
	}

	const appName = "wayrec"
	var replacesID uint32 // zero: never replace an earlier notification
	var actions []string
	hints := map[string]dbus.Variant{
		"urgency": dbus.MakeVariant(urgency),
	}
	const expireTimeoutMs int32 = 5000

	obj := n.conn.Object(notifyService, notifyPath)
	call := obj.Call(notifyMethod, 0,
		appName, replacesID, icon, summary, body, actions, hints, expireTimeoutMs)
	return call.Err
}

// RecordingStarted announces a new recording
func (n *Notifier) RecordingStarted(target string) {
	n.send("Screen Recording", "Recording "+target, "media-record", UrgencyNormal)
}

// RecordingComplete announces a finished recording
func (n *Notifier) RecordingComplete(outputPath string) {
	n.send("Screen Recording Complete", outputPath+" saved", "video-x-generic", UrgencyNormal)
}

// RecordingFailed announces a failed recording
func (n *Notifier) RecordingFailed(reason string) {
	n.send("Recording Failed", reason, "dialog-error", UrgencyCritical)
}
