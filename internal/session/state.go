package session

import (
	"time"

	"wayrec/internal/config"
)

// State is the controller's session state. Exactly one recorder process
// may be active per controller, and only the controller touches it.
type State string

const (
	StateIdle      State = "idle"
	StateSelecting State = "selecting"
	StateStarting  State = "starting"
	StateRecording State = "recording"
	StateStopping  State = "stopping"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// ErrorKind classifies failures surfaced to the UI collaborator
type ErrorKind string

const (
	ErrorValidation      ErrorKind = "validation"
	ErrorSelectionFailed ErrorKind = "selection-failed"
	ErrorSpawn           ErrorKind = "spawn"
	ErrorRuntime         ErrorKind = "runtime"
	ErrorPersist         ErrorKind = "persist"
)

// EventType discriminates the events emitted to subscribers
type EventType string

const (
	EventStateChanged  EventType = "stateChanged"
	EventConfigChanged EventType = "configurationChanged"
	EventError         EventType = "error"
)

// Event is delivered to subscribers in the order the transitions
// occurred, never out of order or duplicated for the same transition.
type Event struct {
	Type EventType `json:"type"`

	// stateChanged payload
	State      State  `json:"state,omitempty"`
	Reason     string `json:"reason,omitempty"`
	OutputPath string `json:"output_path,omitempty"`
	WindowID   string `json:"window_id,omitempty"`

	// error payload
	Kind    ErrorKind `json:"kind,omitempty"`
	Message string    `json:"message,omitempty"`

	// configurationChanged payload
	Settings *config.Settings `json:"settings,omitempty"`
}

// Status is a snapshot of the controller's current session
type Status struct {
	State      State     `json:"state"`
	OutputPath string    `json:"output_path,omitempty"`
	WindowID   string    `json:"window_id,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	StartedAt  time.Time `json:"started_at,omitzero"`
}
