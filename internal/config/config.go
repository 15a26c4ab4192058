// Package config handles configuration loading, validation and hot reload for eyesoff.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/ayusman/eyesoff/internal/alert"
)

// Detector types.
const (
	DetectorYuNet    = "yunet"
	DetectorGaze     = "gaze"
	DetectorHaar     = "haar"
	DetectorExternal = "external"
	DetectorMock     = "mock"
)

// Config holds the complete application configuration.
type Config struct {
	Camera   CameraConfig   `toml:"camera" json:"camera" yaml:"camera"`
	Detector DetectorConfig `toml:"detector" json:"detector" yaml:"detector"`
	Alert    AlertConfig    `toml:"alert" json:"alert" yaml:"alert"`
	Overlay  OverlayConfig  `toml:"overlay" json:"overlay" yaml:"overlay"`
	Monitor  MonitorConfig  `toml:"monitor" json:"monitor" yaml:"monitor"`
	Storage  StorageConfig  `toml:"storage" json:"storage" yaml:"storage"`
	Server   ServerConfig   `toml:"server" json:"server" yaml:"server"`
	Events   EventsConfig   `toml:"events" json:"events" yaml:"events"`
	Hooks    HooksConfig    `toml:"hooks" json:"hooks" yaml:"hooks"`
	Logging  LoggingConfig  `toml:"logging" json:"logging" yaml:"logging"`
}

// CameraConfig selects and sizes the webcam.
type CameraConfig struct {
	ID     int `toml:"id" json:"id" yaml:"id"`
	Width  int `toml:"width" json:"width" yaml:"width"`
	Height int `toml:"height" json:"height" yaml:"height"`
}

// DetectorConfig selects the face detector and its models.
type DetectorConfig struct {
	// Type is one of yunet, gaze, haar, external or mock.
	Type string `toml:"type" json:"type" yaml:"type"`

	// ModelPath is the YuNet ONNX face detection model.
	ModelPath string `toml:"model_path" json:"model_path" yaml:"model_path"`

	// GazeModelPath is the ONNX eye-contact classifier used by the gaze detector.
	GazeModelPath string `toml:"gaze_model_path" json:"gaze_model_path" yaml:"gaze_model_path"`

	// CascadePath is the Haar cascade XML used by the haar detector.
	CascadePath string `toml:"cascade_path" json:"cascade_path" yaml:"cascade_path"`

	// Command runs an external detection service speaking the frame protocol.
	Command []string `toml:"command" json:"command" yaml:"command"`

	ConfidenceThreshold float64 `toml:"confidence_threshold" json:"confidence_threshold" yaml:"confidence_threshold"`
	GazeThreshold       float64 `toml:"gaze_threshold" json:"gaze_threshold" yaml:"gaze_threshold"`
}

// AlertConfig holds the alert decision settings. Times are in seconds.
type AlertConfig struct {
	FaceThreshold        int     `toml:"face_threshold" json:"face_threshold" yaml:"face_threshold"`
	DebounceTime         float64 `toml:"debounce_time" json:"debounce_time" yaml:"debounce_time"`
	DetectionDelayFrames int     `toml:"detection_delay_frames" json:"detection_delay_frames" yaml:"detection_delay_frames"`

	// DetectionDelay, when positive, also requires the detection to hold for
	// this many seconds of wall-clock time.
	DetectionDelay float64 `toml:"detection_delay" json:"detection_delay" yaml:"detection_delay"`

	// AlertOn selects the overlay; otherwise a desktop notification is posted.
	AlertOn bool `toml:"alert_on" json:"alert_on" yaml:"alert_on"`

	// AlertDuration auto-dismisses the overlay. Zero keeps it until dismissed.
	AlertDuration float64 `toml:"alert_duration" json:"alert_duration" yaml:"alert_duration"`
}

// OverlayConfig controls how the overlay is drawn by its surface.
type OverlayConfig struct {
	Text       string  `toml:"text" json:"text" yaml:"text"`
	Message    string  `toml:"message" json:"message" yaml:"message"`
	Color      string  `toml:"color" json:"color" yaml:"color"`
	Opacity    float64 `toml:"opacity" json:"opacity" yaml:"opacity"`
	Width      int     `toml:"width" json:"width" yaml:"width"`
	Height     int     `toml:"height" json:"height" yaml:"height"`
	Position   string  `toml:"position" json:"position" yaml:"position"`
	Fullscreen bool    `toml:"fullscreen" json:"fullscreen" yaml:"fullscreen"`
	Animations bool    `toml:"animations" json:"animations" yaml:"animations"`
	SoundFile  string  `toml:"sound_file" json:"sound_file" yaml:"sound_file"`
}

// MonitorConfig holds loop timings.
type MonitorConfig struct {
	PollIntervalMs     int     `toml:"poll_interval_ms" json:"poll_interval_ms" yaml:"poll_interval_ms"`
	IdleFPS            int     `toml:"idle_fps" json:"idle_fps" yaml:"idle_fps"`
	ActiveFPS          int     `toml:"active_fps" json:"active_fps" yaml:"active_fps"`
	IdleTimeoutMs      int     `toml:"idle_timeout_ms" json:"idle_timeout_ms" yaml:"idle_timeout_ms"`
	MotionThreshold    float64 `toml:"motion_threshold" json:"motion_threshold" yaml:"motion_threshold"`
	DetectorErrorLimit int     `toml:"detector_error_limit" json:"detector_error_limit" yaml:"detector_error_limit"`
	StatsEvery         int     `toml:"stats_every" json:"stats_every" yaml:"stats_every"`
}

// StorageConfig locates the event history database.
type StorageConfig struct {
	Path    string `toml:"path" json:"path" yaml:"path"`
	Enabled bool   `toml:"enabled" json:"enabled" yaml:"enabled"`
}

// ServerConfig controls the local HTTP API.
type ServerConfig struct {
	Enabled   bool   `toml:"enabled" json:"enabled" yaml:"enabled"`
	Addr      string `toml:"addr" json:"addr" yaml:"addr"`
	StaticDir string `toml:"static_dir" json:"static_dir" yaml:"static_dir"`
}

// EventsConfig configures optional NATS publishing of alert events.
type EventsConfig struct {
	NATSURL string `toml:"nats_url" json:"nats_url" yaml:"nats_url"`
	Subject string `toml:"subject" json:"subject" yaml:"subject"`
}

// HooksConfig configures executables run when an alert is raised.
type HooksConfig struct {
	Dir       string   `toml:"dir" json:"dir" yaml:"dir"`
	OnAlert   []string `toml:"on_alert" json:"on_alert" yaml:"on_alert"`
	TimeoutMs int      `toml:"timeout_ms" json:"timeout_ms" yaml:"timeout_ms"`
}

// LoggingConfig configures the root slog handler.
type LoggingConfig struct {
	Level  string `toml:"level" json:"level" yaml:"level"`
	Format string `toml:"format" json:"format" yaml:"format"`
}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() *Config {
	dir := Dir()
	return &Config{
		Camera: CameraConfig{ID: 0, Width: 640, Height: 480},
		Detector: DetectorConfig{
			Type:                DetectorGaze,
			ModelPath:           filepath.Join(dir, "models", "face_detection_yunet_2023mar.onnx"),
			GazeModelPath:       filepath.Join(dir, "models", "gaze_classifier.onnx"),
			ConfidenceThreshold: 0.75,
			GazeThreshold:       0.6,
		},
		Alert: AlertConfig{
			FaceThreshold:        1,
			DebounceTime:         1.0,
			DetectionDelayFrames: alert.DefaultDetectionDelayFrames,
		},
		Overlay: OverlayConfig{
			Text:       "EYES OFF!!!",
			Message:    "Someone else is looking at your screen!",
			Color:      "#FF0000",
			Opacity:    0.8,
			Width:      600,
			Height:     300,
			Position:   "center",
			Animations: true,
		},
		Monitor: MonitorConfig{
			PollIntervalMs:     50,
			IdleFPS:            5,
			ActiveFPS:          15,
			IdleTimeoutMs:      2000,
			MotionThreshold:    1.0,
			DetectorErrorLimit: 30,
			StatsEvery:         alert.DefaultStatsEvery,
		},
		Storage: StorageConfig{
			Path:    filepath.Join(dir, "eyesoff.db"),
			Enabled: true,
		},
		Server: ServerConfig{
			Enabled: true,
			Addr:    "127.0.0.1:8080",
		},
		Events: EventsConfig{
			Subject: "eyesoff.alerts",
		},
		Hooks: HooksConfig{
			Dir:       filepath.Join(dir, "hooks"),
			TimeoutMs: 5000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Dir returns the eyesoff configuration directory. EYESOFF_HOME overrides it.
func Dir() string {
	if v := os.Getenv("EYESOFF_HOME"); v != "" {
		return v
	}
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "eyesoff")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".eyesoff")
	}
	return ".eyesoff"
}

// Path returns the default configuration file path.
func Path() string {
	return filepath.Join(Dir(), "config.toml")
}

// ApplyEnvOverrides applies EYESOFF_* environment variables.
func (c *Config) ApplyEnvOverrides() {
	if v, ok := envInt("EYESOFF_CAMERA_ID"); ok {
		c.Camera.ID = v
	}
	if v, ok := envInt("EYESOFF_FACE_THRESHOLD"); ok {
		c.Alert.FaceThreshold = v
	}
	if v := os.Getenv("EYESOFF_DETECTOR"); v != "" {
		c.Detector.Type = v
	}
	if v := os.Getenv("EYESOFF_SERVER_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("EYESOFF_DB_PATH"); v != "" {
		c.Storage.Path = v
	}
	if v := os.Getenv("EYESOFF_NATS_URL"); v != "" {
		c.Events.NATSURL = v
	}
	if v := os.Getenv("EYESOFF_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

func envInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Clone returns a deep copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	clone.Detector.Command = append([]string(nil), c.Detector.Command...)
	clone.Hooks.OnAlert = append([]string(nil), c.Hooks.OnAlert...)
	return &clone
}

// AlertSettings converts the file configuration into alert.Settings.
func (c *Config) AlertSettings() alert.Settings {
	s := alert.Settings{
		FaceThreshold:        c.Alert.FaceThreshold,
		DebounceTime:         seconds(c.Alert.DebounceTime),
		DetectionDelayFrames: c.Alert.DetectionDelayFrames,
		DetectionDelay:       seconds(c.Alert.DetectionDelay),
		AlertDuration:        seconds(c.Alert.AlertDuration),
		Mode:                 alert.ModeNotification,
		CountSource:          alert.CountFaces,
		StatsEvery:           c.Monitor.StatsEvery,
		Overlay: alert.OverlayStyle{
			Text:       c.Overlay.Text,
			Message:    c.Overlay.Message,
			Color:      c.Overlay.Color,
			Opacity:    c.Overlay.Opacity,
			Width:      c.Overlay.Width,
			Height:     c.Overlay.Height,
			Position:   c.Overlay.Position,
			Fullscreen: c.Overlay.Fullscreen,
			Animations: c.Overlay.Animations,
			SoundFile:  c.Overlay.SoundFile,
		},
	}
	if c.Alert.AlertOn {
		s.Mode = alert.ModeOverlay
	}
	if c.Detector.Type == DetectorGaze {
		s.CountSource = alert.CountLooking
	}
	return s
}

// PollInterval returns the decision loop interval.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Monitor.PollIntervalMs) * time.Millisecond
}

// HookTimeout returns the per-hook execution timeout.
func (c *Config) HookTimeout() time.Duration {
	return time.Duration(c.Hooks.TimeoutMs) * time.Millisecond
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}
