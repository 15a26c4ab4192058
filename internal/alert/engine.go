// Package alert implements the privacy alert pipeline: the per-tick decision
// engine, the alert lifecycle controller and the session statistics.
package alert

import (
	"fmt"
	"time"
)

// Transition is the outcome of a single decision tick.
type Transition int

const (
	// None means the alert state does not change.
	None Transition = iota
	// Raise means the alert should become active.
	Raise
	// Clear means the active alert should be dismissed.
	Clear
)

func (t Transition) String() string {
	switch t {
	case None:
		return "none"
	case Raise:
		return "raise"
	case Clear:
		return "clear"
	default:
		return fmt.Sprintf("Transition(%d)", int(t))
	}
}

// Sample is one polling tick's input to the engine.
type Sample struct {
	FaceCount int
	At        time.Time
}

// EngineState is the decision engine's memory between ticks.
type EngineState struct {
	LastStateChange       time.Time `json:"last_state_change"`
	ConsecutiveDetections int       `json:"consecutive_detections"`
	LastDetection         bool      `json:"last_detection"`
	PreviousFaceCount     int       `json:"previous_face_count"`
	FacesAtLastAlert      int       `json:"faces_at_last_alert"`

	// runStart is when the current thresholded value started holding.
	runStart time.Time
}

// Engine decides, once per tick, whether the alert should be raised or
// cleared. It applies a debounce gate, a confirmation gate and the
// count-increase tie-break. Engine is not safe for concurrent use; the
// Controller serializes access to it.
type Engine struct {
	settings Settings
	state    EngineState
}

// NewEngine creates an Engine. The settings are assumed to be validated.
func NewEngine(settings Settings) *Engine {
	return &Engine{settings: settings}
}

// SetSettings replaces the settings without touching the accumulated state.
func (e *Engine) SetSettings(settings Settings) {
	e.settings = settings
}

// State returns a copy of the engine state.
func (e *Engine) State() EngineState {
	return e.state
}

// Reset zeroes the engine state for a new monitoring session.
func (e *Engine) Reset() {
	e.state = EngineState{}
}

// AcknowledgeDismissal records the count the user dismissed the alert at, so
// the alert only fires again once the count grows or drops below threshold.
func (e *Engine) AcknowledgeDismissal(faceCount int) {
	if faceCount < 0 {
		faceCount = 0
	}
	e.state.FacesAtLastAlert = faceCount
}

// Process runs one decision tick. showing is the lifecycle controller's
// current view of whether an alert is active.
func (e *Engine) Process(faceCount int, showing bool, now time.Time) Transition {
	if faceCount < 0 {
		faceCount = 0
	}
	s := &e.state
	multiple := faceCount > e.settings.FaceThreshold

	if !s.LastStateChange.IsZero() && now.Sub(s.LastStateChange) < e.settings.DebounceTime {
		s.PreviousFaceCount = faceCount
		return None
	}

	if multiple != s.LastDetection {
		s.ConsecutiveDetections = 1
		s.LastDetection = multiple
		s.runStart = now
	} else {
		s.ConsecutiveDetections++
		if s.runStart.IsZero() {
			s.runStart = now
		}
	}

	// Dropping to or below threshold always forgets the last alerted count,
	// even before the drop is confirmed.
	if !multiple {
		s.FacesAtLastAlert = 0
	}

	transition := None
	if e.confirmed(now) {
		switch {
		case multiple && !showing && (faceCount > s.PreviousFaceCount || s.FacesAtLastAlert == 0):
			s.FacesAtLastAlert = faceCount
			s.ConsecutiveDetections = 0
			s.runStart = now
			s.LastStateChange = now
			transition = Raise
		case !multiple && showing:
			s.FacesAtLastAlert = 0
			s.LastStateChange = now
			transition = Clear
		}
	}

	s.PreviousFaceCount = faceCount
	return transition
}

func (e *Engine) confirmed(now time.Time) bool {
	if e.state.ConsecutiveDetections < e.settings.DetectionDelayFrames {
		return false
	}
	if e.settings.DetectionDelay > 0 && now.Sub(e.state.runStart) < e.settings.DetectionDelay {
		return false
	}
	return true
}
