package alert

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidSettings is wrapped by every SettingsError.
var ErrInvalidSettings = errors.New("invalid alert settings")

// Default timing values.
const (
	DefaultDebounceTime         = time.Second
	DefaultDetectionDelayFrames = 6 // about 0.2s at 30fps
	DefaultNotificationLinger   = 500 * time.Millisecond
	DefaultStatsEvery           = 10
)

// Mode selects how a raised alert is presented.
type Mode int

const (
	// ModeNotification posts a transient desktop notification that clears itself.
	ModeNotification Mode = iota
	// ModeOverlay shows a persistent overlay that must be dismissed.
	ModeOverlay
)

func (m Mode) String() string {
	switch m {
	case ModeOverlay:
		return "overlay"
	case ModeNotification:
		return "notification"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// CountSource selects which detector count is compared against the threshold.
type CountSource int

const (
	// CountFaces uses the number of detected faces.
	CountFaces CountSource = iota
	// CountLooking uses the number of faces looking at the screen.
	CountLooking
)

// OverlayStyle describes how the overlay surface should render the alert.
type OverlayStyle struct {
	Text       string  `json:"text"`
	Message    string  `json:"message"`
	Color      string  `json:"color"`
	Opacity    float64 `json:"opacity"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	Position   string  `json:"position"`
	Fullscreen bool    `json:"fullscreen"`
	Animations bool    `json:"animations"`
	SoundFile  string  `json:"sound_file,omitempty"`
}

// Settings holds the per-session alert configuration.
type Settings struct {
	// FaceThreshold is the count above which an alert is considered.
	FaceThreshold int

	// DebounceTime is the minimum interval between two state transitions.
	DebounceTime time.Duration

	// DetectionDelayFrames is the number of consecutive ticks the thresholded
	// value must hold before it is acted upon.
	DetectionDelayFrames int

	// DetectionDelay, when non-zero, additionally requires the thresholded
	// value to have held for this wall-clock duration.
	DetectionDelay time.Duration

	// AlertDuration auto-dismisses an overlay after this long. Zero means the
	// overlay stays until dismissed.
	AlertDuration time.Duration

	Mode        Mode
	CountSource CountSource

	// NotificationLinger is how long a notification-mode alert counts as
	// showing before it is cleared automatically.
	NotificationLinger time.Duration

	// StatsEvery controls how often stats observers are called, in ticks.
	StatsEvery int

	Overlay OverlayStyle
}

// DefaultSettings returns Settings matching the application defaults.
func DefaultSettings() Settings {
	return Settings{
		FaceThreshold:        1,
		DebounceTime:         DefaultDebounceTime,
		DetectionDelayFrames: DefaultDetectionDelayFrames,
		Mode:                 ModeNotification,
		CountSource:          CountFaces,
		NotificationLinger:   DefaultNotificationLinger,
		StatsEvery:           DefaultStatsEvery,
		Overlay: OverlayStyle{
			Text:       "EYES OFF!!!",
			Message:    "Someone else is looking at your screen!",
			Color:      "#FF0000",
			Opacity:    0.8,
			Width:      600,
			Height:     300,
			Position:   "center",
			Animations: true,
		},
	}
}

// SettingsError reports a single invalid setting.
type SettingsError struct {
	Field  string
	Reason string
}

func (e *SettingsError) Error() string {
	return fmt.Sprintf("alert settings: %s: %s", e.Field, e.Reason)
}

func (e *SettingsError) Unwrap() error {
	return ErrInvalidSettings
}

// Validate rejects settings that would produce surprising alert behavior.
// Values are never clamped.
func (s Settings) Validate() error {
	switch {
	case s.FaceThreshold < 1:
		return &SettingsError{Field: "face_threshold", Reason: fmt.Sprintf("must be at least 1, got %d", s.FaceThreshold)}
	case s.DebounceTime < 0:
		return &SettingsError{Field: "debounce_time", Reason: "must not be negative"}
	case s.DetectionDelayFrames < 1:
		return &SettingsError{Field: "detection_delay_frames", Reason: fmt.Sprintf("must be at least 1, got %d", s.DetectionDelayFrames)}
	case s.DetectionDelay < 0:
		return &SettingsError{Field: "detection_delay", Reason: "must not be negative"}
	case s.AlertDuration < 0:
		return &SettingsError{Field: "alert_duration", Reason: "must not be negative"}
	case s.NotificationLinger < 0:
		return &SettingsError{Field: "notification_linger", Reason: "must not be negative"}
	case s.StatsEvery < 0:
		return &SettingsError{Field: "stats_every", Reason: "must not be negative"}
	case s.Mode != ModeNotification && s.Mode != ModeOverlay:
		return &SettingsError{Field: "mode", Reason: s.Mode.String() + " is not a known mode"}
	case s.CountSource != CountFaces && s.CountSource != CountLooking:
		return &SettingsError{Field: "count_source", Reason: fmt.Sprintf("unknown source %d", int(s.CountSource))}
	}
	return nil
}

// withDefaults fills optional zero values.
func (s Settings) withDefaults() Settings {
	if s.NotificationLinger == 0 {
		s.NotificationLinger = DefaultNotificationLinger
	}
	if s.StatsEvery == 0 {
		s.StatsEvery = DefaultStatsEvery
	}
	return s
}
