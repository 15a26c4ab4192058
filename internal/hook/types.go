// Package hook discovers and runs executables that react to privacy alerts,
// such as locking the screen or muting audio output.
package hook

import (
	"encoding/json"
	"slices"
	"time"
)

// ActionOnAlert is the action sent when a binding names no action and the
// hook declares none.
const ActionOnAlert = "on-alert"

// Manifest describes a hook's metadata and the actions it accepts.
type Manifest struct {
	Name        string          `json:"name"`
	Version     string          `json:"version"`
	Description string          `json:"description"`
	Executable  string          `json:"executable"`
	Actions     []string        `json:"actions"`
	Platforms   []string        `json:"platforms,omitempty"`
	Config      json.RawMessage `json:"config,omitempty"`
}

// EventPayload is the alert that caused the hook to run.
type EventPayload struct {
	Kind      string    `json:"kind"`
	FaceCount int       `json:"face_count"`
	Threshold int       `json:"threshold"`
	Mode      string    `json:"mode"`
	At        time.Time `json:"at"`
}

// Request is written to the hook's stdin as a single JSON document.
type Request struct {
	Action string          `json:"action"`
	Event  EventPayload    `json:"event"`
	Config json.RawMessage `json:"config,omitempty"`
}

// Response is read from the hook's stdout.
type Response struct {
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Hook is a discovered hook with its manifest and location.
type Hook struct {
	Manifest   Manifest
	Path       string
	Executable string
}

// Supports reports whether the hook declares action.
func (h *Hook) Supports(action string) bool {
	return slices.Contains(h.Manifest.Actions, action)
}

// DefaultAction is the first declared action, or ActionOnAlert.
func (h *Hook) DefaultAction() string {
	if len(h.Manifest.Actions) > 0 {
		return h.Manifest.Actions[0]
	}
	return ActionOnAlert
}
