package alert

import (
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// Trigger is the reason an alert was dismissed.
type Trigger int

const (
	// TriggerThresholdDrop means the face count fell to or below threshold.
	TriggerThresholdDrop Trigger = iota
	// TriggerAutoTimeout means a timer or shutdown dismissed the alert.
	TriggerAutoTimeout
	// TriggerUserAction means the user explicitly dismissed the alert.
	TriggerUserAction
)

func (t Trigger) String() string {
	switch t {
	case TriggerThresholdDrop:
		return "threshold_drop"
	case TriggerAutoTimeout:
		return "auto_timeout"
	case TriggerUserAction:
		return "user_action"
	default:
		return fmt.Sprintf("Trigger(%d)", int(t))
	}
}

// EventKind classifies controller events.
type EventKind string

const (
	EventRaised             EventKind = "raised"
	EventDismissed          EventKind = "dismissed"
	EventPresentationFailed EventKind = "presentation_failed"
)

// Event describes an alert lifecycle change. Events are delivered to
// observers after the controller's lock has been released.
type Event struct {
	Kind      EventKind `json:"kind"`
	At        time.Time `json:"at"`
	FaceCount int       `json:"face_count"`
	Threshold int       `json:"threshold"`
	Mode      string    `json:"mode"`
	Trigger   string    `json:"trigger,omitempty"`
	Manual    bool      `json:"manual,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// Observer receives controller events.
type Observer func(Event)

// StatsObserver receives periodic statistics snapshots.
type StatsObserver func(Statistics)

// State is a point-in-time copy of the controller's alert state.
type State struct {
	Showing          bool `json:"showing"`
	Manual           bool `json:"manual"`
	Paused           bool `json:"paused"`
	CurrentFaceCount int  `json:"current_face_count"`
	CurrentLooking   int  `json:"current_looking"`
	EngineState
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the controller's logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		if now != nil {
			c.now = now
		}
	}
}

// WithObserver registers an event observer.
func WithObserver(o Observer) Option {
	return func(c *Controller) {
		if o != nil {
			c.observers = append(c.observers, o)
		}
	}
}

// WithStatsObserver registers a statistics observer.
func WithStatsObserver(o StatsObserver) Option {
	return func(c *Controller) {
		if o != nil {
			c.statsObservers = append(c.statsObservers, o)
		}
	}
}

// Controller owns the alert lifecycle for one monitoring session. It is the
// only writer of the showing flag and the only caller of the Engine.
type Controller struct {
	mu sync.Mutex

	settings  Settings
	engine    *Engine
	stats     *Stats
	presenter Presenter
	logger    *slog.Logger
	now       func() time.Time

	observers      []Observer
	statsObservers []StatsObserver

	showing bool
	// manual marks a showing that came from Show. The engine never sees it,
	// so only the user, its timer or Stop can end it.
	manual  bool
	paused  bool
	stopped bool
	faces   int
	looking int

	// gen identifies the current showing. Timers and in-flight presentations
	// compare against it and give up when it has moved on.
	gen        uint64
	overlay    OverlayHandle
	hasOverlay bool
	timer      *time.Timer
}

// New creates a Controller. The settings are validated here so a bad
// configuration never reaches the engine.
func New(settings Settings, presenter Presenter, opts ...Option) (*Controller, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	if presenter == nil {
		presenter = NopPresenter{}
	}
	settings = settings.withDefaults()

	c := &Controller{
		settings:  settings,
		engine:    NewEngine(settings),
		presenter: presenter,
		logger:    slog.New(slog.NewTextHandler(os.Stderr, nil)),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.stats = NewStats(c.now())
	return c, nil
}

// UpdateFaceCount records the latest detector result. It is called from the
// frame loop and never runs the engine.
func (c *Controller) UpdateFaceCount(faceCount, numLooking int) {
	if faceCount < 0 || numLooking < 0 {
		c.logger.Warn("negative face count clamped", "faces", faceCount, "looking", numLooking)
	}
	c.mu.Lock()
	c.faces = max(faceCount, 0)
	c.looking = max(numLooking, 0)
	c.mu.Unlock()
}

// Tick runs one polling step: statistics, the decision engine and the
// resulting transition. It returns the transition the engine produced.
func (c *Controller) Tick() Transition {
	c.mu.Lock()
	if c.paused || c.stopped {
		c.mu.Unlock()
		return None
	}

	sample := Sample{FaceCount: c.countLocked(), At: c.now()}
	ticks := c.stats.RecordTick(sample)
	transition := c.engine.Process(sample.FaceCount, c.showing && !c.manual, sample.At)

	var after func()
	switch transition {
	case Raise:
		c.stats.RecordAlertRaised()
		if c.manual {
			after = c.promoteLocked(sample.FaceCount)
		} else {
			after = c.showLocked(sample.FaceCount, false)
		}
	case Clear:
		after = c.dismissLocked(TriggerThresholdDrop)
	}

	var snap *Statistics
	if len(c.statsObservers) > 0 && c.settings.StatsEvery > 0 && ticks%uint64(c.settings.StatsEvery) == 0 {
		s := c.stats.Snapshot()
		snap = &s
	}
	c.mu.Unlock()

	if after != nil {
		after()
	}
	if snap != nil {
		for _, o := range c.statsObservers {
			o(*snap)
		}
	}
	return transition
}

// Show raises the alert outside the decision engine, for test alerts and
// manual triggers. It is a no-op while an alert is already showing.
func (c *Controller) Show() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	after := c.showLocked(c.countLocked(), true)
	c.mu.Unlock()

	if after != nil {
		after()
	}
}

// Dismiss clears the alert. It is a no-op when no alert is showing.
func (c *Controller) Dismiss(trigger Trigger) {
	c.mu.Lock()
	after := c.dismissLocked(trigger)
	c.mu.Unlock()

	if after != nil {
		after()
	}
}

// Stop dismisses any active alert and tears down the presenter's session
// resources. The controller ignores ticks afterwards.
func (c *Controller) Stop() error {
	c.mu.Lock()
	after := c.dismissLocked(TriggerAutoTimeout)
	c.stopped = true
	c.mu.Unlock()

	if after != nil {
		after()
	}
	if err := c.presenter.Close(); err != nil {
		return fmt.Errorf("close presenter: %w", err)
	}
	return nil
}

// Pause suspends decision making. The current alert, if any, stays up.
func (c *Controller) Pause() {
	c.mu.Lock()
	c.paused = true
	c.mu.Unlock()
}

// Resume continues decision making after Pause.
func (c *Controller) Resume() {
	c.mu.Lock()
	c.paused = false
	c.mu.Unlock()
}

// Paused reports whether the controller is paused.
func (c *Controller) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

// Showing reports whether an alert is active.
func (c *Controller) Showing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.showing
}

// Settings returns the active settings.
func (c *Controller) Settings() Settings {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.settings
}

// Apply swaps in new settings. Engine state and statistics are kept; the new
// values take effect on the next tick.
func (c *Controller) Apply(settings Settings) error {
	if err := settings.Validate(); err != nil {
		return err
	}
	settings = settings.withDefaults()

	c.mu.Lock()
	c.settings = settings
	c.engine.SetSettings(settings)
	c.mu.Unlock()

	c.logger.Info("alert settings applied",
		"threshold", settings.FaceThreshold,
		"mode", settings.Mode.String(),
		"debounce", settings.DebounceTime,
		"delay_frames", settings.DetectionDelayFrames)
	return nil
}

// State returns a copy of the alert state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return State{
		Showing:          c.showing,
		Manual:           c.manual,
		Paused:           c.paused,
		CurrentFaceCount: c.faces,
		CurrentLooking:   c.looking,
		EngineState:      c.engine.State(),
	}
}

// Stats returns the session statistics.
func (c *Controller) Stats() *Stats {
	return c.stats
}

func (c *Controller) countLocked() int {
	if c.settings.CountSource == CountLooking {
		return c.looking
	}
	return c.faces
}

// showLocked marks the alert active and returns the presentation work to run
// once the lock is released. It returns nil if an alert is already showing.
func (c *Controller) showLocked(faceCount int, manual bool) func() {
	if c.showing {
		return nil
	}
	c.showing = true
	c.manual = manual
	c.gen++

	gen := c.gen
	settings := c.settings
	ev := Event{
		Kind:      EventRaised,
		At:        c.now(),
		FaceCount: faceCount,
		Threshold: settings.FaceThreshold,
		Mode:      settings.Mode.String(),
		Manual:    manual,
	}
	return func() {
		c.logger.Info("alert raised", "faces", faceCount, "mode", ev.Mode, "manual", manual)
		c.emit(ev)
		c.present(gen, settings, faceCount, manual)
	}
}

// promoteLocked turns a manual showing into a detected one. The surface that
// is already up stays; only the raised event goes out.
func (c *Controller) promoteLocked(faceCount int) func() {
	c.manual = false
	ev := Event{
		Kind:      EventRaised,
		At:        c.now(),
		FaceCount: faceCount,
		Threshold: c.settings.FaceThreshold,
		Mode:      c.settings.Mode.String(),
	}
	return func() {
		c.logger.Info("alert raised over manual alert", "faces", faceCount)
		c.emit(ev)
	}
}

func (c *Controller) present(gen uint64, settings Settings, faceCount int, manual bool) {
	if settings.Mode == ModeNotification {
		if err := c.presenter.PostNotification(notificationMessage(faceCount, settings.FaceThreshold)); err != nil {
			c.presentationFailed(gen, err)
			return
		}
		c.mu.Lock()
		if c.gen == gen && c.showing {
			c.armTimerLocked(gen, settings.NotificationLinger)
		}
		c.mu.Unlock()
		return
	}

	handle, err := c.presenter.PresentOverlay(OverlayRequest{
		FaceCount: faceCount,
		Threshold: settings.FaceThreshold,
		Duration:  settings.AlertDuration,
		Manual:    manual,
		Style:     settings.Overlay,
	})
	if err != nil {
		c.presentationFailed(gen, err)
		return
	}

	c.mu.Lock()
	if c.gen != gen || !c.showing {
		// Dismissed while the overlay was being shown.
		c.mu.Unlock()
		if err := c.presenter.DismissOverlay(handle); err != nil {
			c.logger.Warn("dismiss stale overlay", "err", err)
		}
		return
	}
	c.overlay = handle
	c.hasOverlay = true
	if settings.AlertDuration > 0 {
		c.armTimerLocked(gen, settings.AlertDuration)
	}
	c.mu.Unlock()
}

func (c *Controller) armTimerLocked(gen uint64, d time.Duration) {
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = time.AfterFunc(d, func() {
		c.dismissGeneration(gen, TriggerAutoTimeout)
	})
}

// dismissGeneration dismisses only if gen is still the current showing.
func (c *Controller) dismissGeneration(gen uint64, trigger Trigger) {
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return
	}
	after := c.dismissLocked(trigger)
	c.mu.Unlock()

	if after != nil {
		after()
	}
}

func (c *Controller) presentationFailed(gen uint64, err error) {
	c.logger.Error("alert presentation failed", "err", err)

	c.mu.Lock()
	reset := c.gen == gen && c.showing
	if reset {
		c.showing = false
		c.manual = false
		c.stopTimerLocked()
	}
	ev := Event{
		Kind:      EventPresentationFailed,
		At:        c.now(),
		FaceCount: c.countLocked(),
		Threshold: c.settings.FaceThreshold,
		Mode:      c.settings.Mode.String(),
		Error:     err.Error(),
	}
	c.mu.Unlock()

	if reset {
		c.emit(ev)
	}
}

// dismissLocked marks the alert inactive and returns the teardown work to
// run once the lock is released.
func (c *Controller) dismissLocked(trigger Trigger) func() {
	if !c.showing {
		return nil
	}
	manual := c.manual
	c.showing = false
	c.manual = false
	count := c.countLocked()
	if trigger == TriggerUserAction && !manual {
		c.engine.AcknowledgeDismissal(count)
	}
	c.stopTimerLocked()

	handle, hasOverlay := c.overlay, c.hasOverlay
	c.overlay, c.hasOverlay = "", false
	ev := Event{
		Kind:      EventDismissed,
		At:        c.now(),
		FaceCount: count,
		Threshold: c.settings.FaceThreshold,
		Mode:      c.settings.Mode.String(),
		Trigger:   trigger.String(),
		Manual:    manual,
	}
	return func() {
		if hasOverlay {
			if err := c.presenter.DismissOverlay(handle); err != nil {
				c.logger.Warn("dismiss overlay", "err", err)
			}
		}
		c.logger.Info("alert dismissed", "trigger", ev.Trigger, "faces", count)
		c.emit(ev)
	}
}

func (c *Controller) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Controller) emit(ev Event) {
	for _, o := range c.observers {
		o(ev)
	}
}
