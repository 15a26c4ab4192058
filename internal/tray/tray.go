// Package tray provides the system tray menu for EyesOff: monitoring status,
// start/stop and pause controls, and a title flag while an alert is up.
package tray

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/getlantern/systray"

	"github.com/ayusman/eyesoff/internal/alert"
	"github.com/ayusman/eyesoff/internal/app"
)

const (
	title      = "EyesOff"
	alertTitle = "⚠ EyesOff"
	refresh    = time.Second
)

// ErrNotReady is returned by ShowOverlay before the tray is on screen.
var ErrNotReady = errors.New("tray is not ready")

// Controls is what the menu drives.
type Controls interface {
	Start(ctx context.Context) error
	Stop() error
	Pause() error
	Resume() error
	DismissAlert() error
	TestAlert() error
	Status() app.Status
}

// Tray represents the system tray application.
type Tray struct {
	controls   Controls
	ctx        context.Context
	logger     *slog.Logger
	onSettings func()
	onQuit     func()

	mu       sync.RWMutex
	ready    bool
	alerting bool
	tooltip  string

	// Menu items stored for later updates
	menuStatus   *systray.MenuItem
	menuToggle   *systray.MenuItem
	menuPause    *systray.MenuItem
	menuDismiss  *systray.MenuItem
	menuTest     *systray.MenuItem
	menuSettings *systray.MenuItem
}

// New creates a Tray over controls. Monitoring started from the menu runs
// under ctx.
func New(ctx context.Context, controls Controls, logger *slog.Logger) *Tray {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tray{
		controls: controls,
		ctx:      ctx,
		logger:   logger,
		tooltip:  title,
	}
}

// OnSettings sets the callback function to be called when the settings menu item is clicked.
func (t *Tray) OnSettings(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onSettings = fn
}

// OnQuit sets the callback function to be called when the quit menu item is clicked.
func (t *Tray) OnQuit(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onQuit = fn
}

// Run starts the system tray application.
// This function blocks until Quit is called.
func (t *Tray) Run() {
	systray.Run(t.onReady, t.onExit)
}

// Quit removes the tray icon and makes Run return.
func (t *Tray) Quit() {
	systray.Quit()
}

func (t *Tray) onReady() {
	systray.SetTitle(title)
	systray.SetTooltip(title)

	t.mu.Lock()
	t.menuStatus = systray.AddMenuItem("Stopped", "Monitoring status")
	t.menuStatus.Disable()
	systray.AddSeparator()

	t.menuToggle = systray.AddMenuItem("Start monitoring", "Start or stop the camera")
	t.menuPause = systray.AddMenuItem("Pause alerts", "Pause or resume alert decisions")
	systray.AddSeparator()

	t.menuDismiss = systray.AddMenuItem("Dismiss alert", "Dismiss the current alert")
	t.menuTest = systray.AddMenuItem("Test alert", "Show the alert once")
	systray.AddSeparator()

	t.menuSettings = systray.AddMenuItem("Open Settings...", "Open settings in browser")
	systray.AddSeparator()

	menuQuit := systray.AddMenuItem("Quit", "Quit EyesOff")
	t.ready = true
	t.mu.Unlock()

	t.update()

	go func() {
		ticker := time.NewTicker(refresh)
		defer ticker.Stop()
		for {
			select {
			case <-t.menuToggle.ClickedCh:
				t.handleToggle()
			case <-t.menuPause.ClickedCh:
				t.handlePause()
			case <-t.menuDismiss.ClickedCh:
				t.run("dismiss", t.controls.DismissAlert)
			case <-t.menuTest.ClickedCh:
				t.run("test alert", t.controls.TestAlert)
			case <-t.menuSettings.ClickedCh:
				t.handleSettings()
			case <-menuQuit.ClickedCh:
				t.handleQuit()
				return
			case <-ticker.C:
			}
			t.update()
		}
	}()
}

func (t *Tray) onExit() {
	t.mu.Lock()
	t.ready = false
	t.mu.Unlock()
}

func (t *Tray) run(what string, fn func() error) {
	if err := fn(); err != nil {
		t.logger.Warn("tray action failed", "action", what, "error", err)
	}
}

// handleToggle starts monitoring when stopped and stops it otherwise.
func (t *Tray) handleToggle() {
	if t.controls.Status().Monitoring {
		t.run("stop", t.controls.Stop)
		return
	}
	t.run("start", func() error { return t.controls.Start(t.ctx) })
}

func (t *Tray) handlePause() {
	if t.controls.Status().Paused {
		t.run("resume", t.controls.Resume)
		return
	}
	t.run("pause", t.controls.Pause)
}

func (t *Tray) handleSettings() {
	t.mu.RLock()
	callback := t.onSettings
	t.mu.RUnlock()

	if callback != nil {
		callback()
	}
}

func (t *Tray) handleQuit() {
	t.mu.RLock()
	callback := t.onQuit
	t.mu.RUnlock()

	if callback != nil {
		callback()
	}

	systray.Quit()
}

// menuView is what the menu shows for a status.
type menuView struct {
	status       string
	toggle       string
	pause        string
	pauseEnabled bool
	dismiss      bool
	test         bool
}

func viewFor(st app.Status) menuView {
	v := menuView{status: st.Summary, toggle: "Start monitoring", pause: "Pause alerts"}
	if !st.Monitoring {
		return v
	}
	v.toggle = "Stop monitoring"
	v.pauseEnabled = true
	v.test = true
	v.dismiss = st.Showing
	if st.Paused {
		v.pause = "Resume alerts"
	}
	return v
}

// update refreshes the menu from the current status.
func (t *Tray) update() {
	st := t.controls.Status()
	v := viewFor(st)

	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.ready {
		return
	}
	t.tooltip = st.Summary
	if !t.alerting {
		systray.SetTooltip(st.Summary)
	}

	t.menuStatus.SetTitle(v.status)
	t.menuToggle.SetTitle(v.toggle)
	t.menuPause.SetTitle(v.pause)
	setEnabled(t.menuPause, v.pauseEnabled)
	setEnabled(t.menuDismiss, v.dismiss)
	setEnabled(t.menuTest, v.test)
}

func setEnabled(item *systray.MenuItem, enabled bool) {
	if enabled {
		item.Enable()
	} else {
		item.Disable()
	}
}

// Name implements present.OverlaySurface.
func (t *Tray) Name() string { return "tray" }

// ShowOverlay flags the tray title for the duration of the alert.
func (t *Tray) ShowOverlay(id string, req alert.OverlayRequest) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.ready {
		return ErrNotReady
	}
	t.alerting = true
	systray.SetTitle(alertTitle)
	if req.Style.Message != "" {
		systray.SetTooltip(req.Style.Message)
	}
	if t.menuDismiss != nil {
		t.menuDismiss.Enable()
	}
	return nil
}

// HideOverlay restores the tray title.
func (t *Tray) HideOverlay(id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.alerting = false
	if !t.ready {
		return nil
	}
	systray.SetTitle(title)
	systray.SetTooltip(t.tooltip)
	return nil
}

// Alerting reports whether the tray is flagging an alert.
func (t *Tray) Alerting() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.alerting
}
