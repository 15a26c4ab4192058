// Package app runs the EyesOff monitoring session: the frame loop that feeds
// face counts to the alert controller, and the polling loop that drives its
// decisions.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ayusman/eyesoff/internal/alert"
	"github.com/ayusman/eyesoff/internal/capture"
	"github.com/ayusman/eyesoff/internal/config"
	"github.com/ayusman/eyesoff/internal/detector"
	"github.com/ayusman/eyesoff/internal/events"
	"github.com/ayusman/eyesoff/internal/hook"
	"github.com/ayusman/eyesoff/internal/metrics"
	"github.com/ayusman/eyesoff/internal/store"
)

// ErrNotRunning is returned by operations that need an active session.
var ErrNotRunning = errors.New("monitoring is not running")

// CameraFactory opens the frame source for a session.
type CameraFactory func(config.CameraConfig) capture.Camera

// DetectorFactory builds the face detector for a session.
type DetectorFactory func(config.DetectorConfig) (detector.Detector, error)

// Options wires an App. Only Config is required.
type Options struct {
	Config    *config.Config
	Presenter alert.Presenter
	Store     *store.Store
	Recorder  *events.Recorder
	Hooks     *hook.Runner
	Metrics   *metrics.Metrics
	Logger    *slog.Logger

	NewCamera   CameraFactory
	NewDetector DetectorFactory

	// Observers receive every alert event of every session.
	Observers      []alert.Observer
	StatsObservers []alert.StatsObserver
}

// Status is a point-in-time view of the monitor.
type Status struct {
	Monitoring     bool      `json:"monitoring"`
	Paused         bool      `json:"paused"`
	Showing        bool      `json:"showing"`
	CurrentFaces   int       `json:"current_faces"`
	CurrentLooking int       `json:"current_looking"`
	Threshold      int       `json:"threshold"`
	Mode           string    `json:"mode"`
	Detector       string    `json:"detector"`
	SessionID      string    `json:"session_id,omitempty"`
	StartedAt      time.Time `json:"started_at,omitzero"`
	ActiveCapture  bool      `json:"active_capture"`
	Summary        string    `json:"summary"`
}

// Preview is the latest annotated camera frame.
type Preview struct {
	JPEG []byte
	Seq  uint64
	At   time.Time
}

// session holds everything owned by one Start..Stop run.
type session struct {
	id      string
	started time.Time
	ctrl    *alert.Controller
	camera  capture.Camera
	det     detector.Detector
	gate    *capture.MotionGate
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// App orchestrates capture, detection and the alert controller.
type App struct {
	opts    Options
	logger  *slog.Logger
	metrics *metrics.Metrics

	// lifecycle serializes Start, Stop and ApplyConfig.
	lifecycle sync.Mutex

	mu        sync.RWMutex
	cfg       *config.Config
	sess      *session
	lastStats alert.Statistics
	parent    context.Context

	preview        atomic.Pointer[Preview]
	previewClients atomic.Int32
	previewSeq     atomic.Uint64
}

// New creates an App. The configuration is validated but nothing is opened
// until Start.
func New(opts Options) (*App, error) {
	if opts.Config == nil {
		return nil, errors.New("app: config is required")
	}
	if err := opts.Config.Validate(); err != nil {
		return nil, err
	}
	if opts.Presenter == nil {
		opts.Presenter = alert.NopPresenter{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	if opts.NewCamera == nil {
		opts.NewCamera = defaultCamera
	}
	if opts.NewDetector == nil {
		opts.NewDetector = defaultDetector
	}

	a := &App{
		opts:    opts,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		cfg:     opts.Config.Clone(),
	}
	a.metrics.SetStatus(a.metricsStatus)

	if opts.Store != nil {
		if n, err := opts.Store.Sessions().CloseDangling(); err != nil {
			a.logger.Warn("failed to close dangling sessions", "error", err)
		} else if n > 0 {
			a.logger.Info("closed sessions left open by a previous run", "count", n)
		}
	}
	return a, nil
}

func defaultCamera(c config.CameraConfig) capture.Camera {
	return capture.NewCamera(capture.Options{DeviceID: c.ID, Width: c.Width, Height: c.Height})
}

func defaultDetector(c config.DetectorConfig) (detector.Detector, error) {
	cfg := detector.DefaultConfig()
	cfg.ModelPath = c.ModelPath
	cfg.GazeModelPath = c.GazeModelPath
	cfg.CascadePath = c.CascadePath
	cfg.Command = c.Command
	if c.ConfidenceThreshold > 0 {
		cfg.ConfidenceThreshold = c.ConfidenceThreshold
	}
	if c.GazeThreshold > 0 {
		cfg.GazeThreshold = c.GazeThreshold
	}
	return detector.New(c.Type, cfg)
}

// Start opens the camera and detector and starts both loops. Calling Start
// while running is a no-op. Monitoring stops when ctx is cancelled.
func (a *App) Start(ctx context.Context) error {
	a.lifecycle.Lock()
	defer a.lifecycle.Unlock()
	return a.start(ctx)
}

func (a *App) start(ctx context.Context) error {
	a.mu.RLock()
	running := a.sess != nil
	cfg := a.cfg.Clone()
	a.mu.RUnlock()
	if running {
		return nil
	}

	if err := cfg.Validate(); err != nil {
		return err
	}
	settings := cfg.AlertSettings()

	det, err := a.opts.NewDetector(cfg.Detector)
	if err != nil {
		return fmt.Errorf("create %s detector: %w", cfg.Detector.Type, err)
	}

	camera := a.opts.NewCamera(cfg.Camera)
	if err := camera.Open(); err != nil {
		det.Close()
		return fmt.Errorf("open camera: %w", err)
	}
	camera.SetFPS(cfg.Monitor.IdleFPS)

	s := &session{
		started: time.Now(),
		camera:  camera,
		det:     det,
		gate:    capture.NewMotionGate(cfg.Monitor.MotionThreshold, time.Duration(cfg.Monitor.IdleTimeoutMs)*time.Millisecond),
	}

	ctrlOpts := []alert.Option{
		alert.WithLogger(a.logger.With("component", "alert")),
		alert.WithObserver(a.observe),
	}
	for _, o := range a.opts.Observers {
		ctrlOpts = append(ctrlOpts, alert.WithObserver(o))
	}
	ctrlOpts = append(ctrlOpts, alert.WithStatsObserver(a.observeStats))
	for _, o := range a.opts.StatsObservers {
		ctrlOpts = append(ctrlOpts, alert.WithStatsObserver(o))
	}

	ctrl, err := alert.New(settings, a.opts.Presenter, ctrlOpts...)
	if err != nil {
		camera.Close()
		det.Close()
		return err
	}
	s.ctrl = ctrl

	if a.opts.Store != nil {
		rec := &store.Session{
			Detector:      cfg.Detector.Type,
			FaceThreshold: settings.FaceThreshold,
			StartedAt:     s.started,
		}
		if err := a.opts.Store.Sessions().Create(rec); err != nil {
			a.logger.Warn("failed to record session", "error", err)
		} else {
			s.id = rec.ID
		}
	}
	if a.opts.Recorder != nil {
		a.opts.Recorder.SetSession(s.id)
	}

	if ctx == nil {
		ctx = context.Background()
	}
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	a.mu.Lock()
	a.sess = s
	a.parent = ctx
	a.mu.Unlock()

	s.wg.Add(2)
	go a.runFrameLoop(loopCtx, s, cfg)
	go a.runPollLoop(loopCtx, s, cfg.PollInterval())

	// Cancelling the caller's context ends the session.
	go func() {
		<-loopCtx.Done()
		if ctx.Err() != nil {
			a.stopSession(s)
		}
	}()

	a.logger.Info("monitoring started",
		"detector", cfg.Detector.Type,
		"threshold", settings.FaceThreshold,
		"mode", settings.Mode.String(),
		"session", s.id)
	return nil
}

// Stop ends the session: both loops exit, the alert is dismissed and the
// camera and detector are released. Stopping a stopped App is a no-op.
func (a *App) Stop() error {
	a.mu.RLock()
	s := a.sess
	a.mu.RUnlock()
	if s == nil {
		return nil
	}
	return a.stopSession(s)
}

func (a *App) stopSession(s *session) error {
	a.lifecycle.Lock()
	defer a.lifecycle.Unlock()
	return a.stopLocked(s)
}

// stopLocked tears down s if it is still the current session. The caller
// holds lifecycle.
func (a *App) stopLocked(s *session) error {
	a.mu.Lock()
	if a.sess != s || s == nil {
		a.mu.Unlock()
		return nil
	}
	a.sess = nil
	a.mu.Unlock()

	s.cancel()
	s.wg.Wait()

	var errs []error
	if err := s.ctrl.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("stop alerts: %w", err))
	}
	if err := s.camera.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close camera: %w", err))
	}
	if err := s.det.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close detector: %w", err))
	}
	s.gate.Close()

	stats := s.ctrl.Stats().Snapshot()
	a.mu.Lock()
	a.lastStats = stats
	a.mu.Unlock()

	if a.opts.Store != nil && s.id != "" {
		if err := a.opts.Store.Sessions().End(s.id, time.Now(), stats.TotalDetections, stats.AlertCount); err != nil {
			a.logger.Warn("failed to close session record", "session", s.id, "error", err)
		}
	}
	if a.opts.Recorder != nil {
		a.opts.Recorder.SetSession("")
	}
	a.preview.Store(nil)
	a.metrics.ActiveMode.Store(false)

	a.logger.Info("monitoring stopped", "session", s.id, "summary", stats.Summary(time.Now()))
	return errors.Join(errs...)
}

// Running reports whether a session is active.
func (a *App) Running() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.sess != nil
}

func (a *App) current() (*session, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.sess == nil {
		return nil, ErrNotRunning
	}
	return a.sess, nil
}

// Pause stops alert decisions without closing the camera.
func (a *App) Pause() error {
	s, err := a.current()
	if err != nil {
		return err
	}
	s.ctrl.Pause()
	return nil
}

// Resume undoes Pause.
func (a *App) Resume() error {
	s, err := a.current()
	if err != nil {
		return err
	}
	s.ctrl.Resume()
	return nil
}

// DismissAlert dismisses the current alert on the user's behalf.
func (a *App) DismissAlert() error {
	s, err := a.current()
	if err != nil {
		return err
	}
	s.ctrl.Dismiss(alert.TriggerUserAction)
	return nil
}

// TestAlert shows the alert without touching detection state or statistics.
func (a *App) TestAlert() error {
	s, err := a.current()
	if err != nil {
		return err
	}
	s.ctrl.Show()
	return nil
}

// ApplyConfig installs a new configuration. Alert settings take effect on the
// next tick; camera or detector changes restart a running session.
func (a *App) ApplyConfig(cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	a.lifecycle.Lock()
	defer a.lifecycle.Unlock()

	a.mu.Lock()
	old := a.cfg
	a.cfg = cfg.Clone()
	s := a.sess
	parent := a.parent
	a.mu.Unlock()

	if s == nil {
		return nil
	}

	if !reflect.DeepEqual(old.Camera, cfg.Camera) || !reflect.DeepEqual(old.Detector, cfg.Detector) {
		a.logger.Info("capture settings changed, restarting monitoring")
		if err := a.stopLocked(s); err != nil {
			a.logger.Warn("error while stopping for restart", "error", err)
		}
		return a.start(parent)
	}

	if err := s.ctrl.Apply(cfg.AlertSettings()); err != nil {
		return err
	}
	s.gate.SetThreshold(cfg.Monitor.MotionThreshold)
	a.logger.Info("configuration applied")
	return nil
}

// Config returns a copy of the active configuration.
func (a *App) Config() *config.Config {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.cfg.Clone()
}

// Status reports the monitor state.
func (a *App) Status() Status {
	a.mu.RLock()
	s := a.sess
	cfg := a.cfg
	last := a.lastStats
	a.mu.RUnlock()

	now := time.Now()
	st := Status{
		Threshold:     cfg.Alert.FaceThreshold,
		Mode:          cfg.AlertSettings().Mode.String(),
		Detector:      cfg.Detector.Type,
		ActiveCapture: a.metrics.ActiveMode.Load(),
	}
	if s == nil {
		if !last.SessionStartTime.IsZero() {
			st.Summary = fmt.Sprintf("Stopped | Last session alerts: %d", last.AlertCount)
		} else {
			st.Summary = "Stopped"
		}
		return st
	}

	state := s.ctrl.State()
	settings := s.ctrl.Settings()
	st.Monitoring = true
	st.Paused = state.Paused
	st.Showing = state.Showing
	st.CurrentFaces = state.CurrentFaceCount
	st.CurrentLooking = state.CurrentLooking
	st.Threshold = settings.FaceThreshold
	st.Mode = settings.Mode.String()
	st.SessionID = s.id
	st.StartedAt = s.started
	st.Summary = s.ctrl.Stats().Snapshot().Summary(now)
	if state.Paused {
		st.Summary = "Paused | " + st.Summary
	}
	return st
}

// Stats returns the statistics of the running session, or of the last one
// when stopped.
func (a *App) Stats() alert.Statistics {
	a.mu.RLock()
	s := a.sess
	last := a.lastStats
	a.mu.RUnlock()

	if s == nil {
		return last
	}
	return s.ctrl.Stats().Snapshot()
}

// Metrics returns the metrics the App updates.
func (a *App) Metrics() *metrics.Metrics {
	return a.metrics
}

// Preview returns the latest annotated frame, or nil when none is available.
func (a *App) Preview() *Preview {
	return a.preview.Load()
}

// WatchPreview asks the frame loop to encode preview frames until the
// returned release function is called.
func (a *App) WatchPreview() (release func()) {
	a.previewClients.Add(1)
	var once sync.Once
	return func() {
		once.Do(func() { a.previewClients.Add(-1) })
	}
}

func (a *App) metricsStatus() (alert.Statistics, alert.State, bool) {
	s, err := a.current()
	if err != nil {
		return alert.Statistics{}, alert.State{}, false
	}
	return s.ctrl.Stats().Snapshot(), s.ctrl.State(), true
}

// observe forwards controller events to the recorder and the alert hooks.
func (a *App) observe(ev alert.Event) {
	if a.opts.Recorder != nil {
		a.opts.Recorder.Observe(ev)
	}
	if a.opts.Hooks != nil && ev.Kind == alert.EventRaised && !ev.Manual {
		a.metrics.HooksRun.Add(1)
		a.opts.Hooks.Observe(ev)
	}
}

func (a *App) observeStats(stats alert.Statistics) {
	a.logger.Debug("session stats",
		"detections", stats.TotalDetections,
		"alerts", stats.AlertCount,
		"summary", stats.Summary(time.Now()))
}
