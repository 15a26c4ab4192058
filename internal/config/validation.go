package config

import (
	"fmt"
	"slices"
	"strings"
)

// ValidationError represents a single invalid configuration field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Has reports whether field failed validation.
func (e ValidationErrors) Has(field string) bool {
	for _, err := range e {
		if err.Field == field {
			return true
		}
	}
	return false
}

var detectorTypes = []string{DetectorYuNet, DetectorGaze, DetectorHaar, DetectorExternal, DetectorMock}

// Validate checks the configuration. It returns ValidationErrors listing
// every problem, or nil.
func (c *Config) Validate() error {
	var errs ValidationErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if c.Camera.ID < 0 {
		add("camera.id", "must not be negative")
	}
	if c.Camera.Width <= 0 || c.Camera.Height <= 0 {
		add("camera.size", "width and height must be positive, got %dx%d", c.Camera.Width, c.Camera.Height)
	}

	if !slices.Contains(detectorTypes, c.Detector.Type) {
		add("detector.type", "unknown detector %q (want one of %s)", c.Detector.Type, strings.Join(detectorTypes, ", "))
	}
	if c.Detector.ConfidenceThreshold < 0 || c.Detector.ConfidenceThreshold > 1 {
		add("detector.confidence_threshold", "must be between 0 and 1")
	}
	if c.Detector.GazeThreshold < 0 || c.Detector.GazeThreshold > 1 {
		add("detector.gaze_threshold", "must be between 0 and 1")
	}
	if c.Detector.Type == DetectorExternal && len(c.Detector.Command) == 0 {
		add("detector.command", "required for the external detector")
	}

	if c.Alert.FaceThreshold < 1 {
		add("alert.face_threshold", "must be at least 1, got %d", c.Alert.FaceThreshold)
	}
	if c.Alert.DebounceTime < 0 {
		add("alert.debounce_time", "must not be negative")
	}
	if c.Alert.DetectionDelayFrames < 1 {
		add("alert.detection_delay_frames", "must be at least 1, got %d", c.Alert.DetectionDelayFrames)
	}
	if c.Alert.DetectionDelay < 0 {
		add("alert.detection_delay", "must not be negative")
	}
	if c.Alert.AlertDuration < 0 {
		add("alert.alert_duration", "must not be negative")
	}

	if c.Overlay.Opacity < 0 || c.Overlay.Opacity > 1 {
		add("overlay.opacity", "must be between 0 and 1")
	}

	if c.Monitor.PollIntervalMs <= 0 {
		add("monitor.poll_interval_ms", "must be positive")
	}
	if c.Monitor.IdleFPS <= 0 || c.Monitor.ActiveFPS <= 0 {
		add("monitor.fps", "idle and active fps must be positive")
	}
	if c.Monitor.DetectorErrorLimit < 1 {
		add("monitor.detector_error_limit", "must be at least 1")
	}
	if c.Monitor.StatsEvery < 0 {
		add("monitor.stats_every", "must not be negative")
	}

	if c.Storage.Enabled && c.Storage.Path == "" {
		add("storage.path", "required when storage is enabled")
	}
	if c.Server.Enabled && c.Server.Addr == "" {
		add("server.addr", "required when the server is enabled")
	}
	if c.Events.NATSURL != "" && c.Events.Subject == "" {
		add("events.subject", "required when nats_url is set")
	}
	if c.Hooks.TimeoutMs < 0 {
		add("hooks.timeout_ms", "must not be negative")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		add("logging.level", "unknown level %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "", "text", "json":
	default:
		add("logging.format", "unknown format %q", c.Logging.Format)
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}
