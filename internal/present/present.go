// Package present fans alert presentation out to the surfaces available on
// this machine: browser overlays, the tray icon and desktop notifications.
package present

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/ayusman/eyesoff/internal/alert"
)

// OverlaySurface can show and hide a blocking overlay.
type OverlaySurface interface {
	Name() string
	ShowOverlay(id string, req alert.OverlayRequest) error
	HideOverlay(id string) error
}

// Notifier posts transient desktop notifications.
type Notifier interface {
	Name() string
	Notify(summary, body string) error
	Close() error
}

// Fanout is an alert.Presenter that shows every alert on all registered
// surfaces. An alert succeeds if at least one surface took it.
type Fanout struct {
	logger *slog.Logger

	mu        sync.Mutex
	overlays  []OverlaySurface
	notifiers []Notifier
	shown     map[alert.OverlayHandle][]OverlaySurface
}

// NewFanout creates an empty Fanout. Surfaces are added with AddOverlay and
// AddNotifier, typically as the daemon brings them up.
func NewFanout(logger *slog.Logger) *Fanout {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fanout{
		logger: logger,
		shown:  make(map[alert.OverlayHandle][]OverlaySurface),
	}
}

// AddOverlay registers an overlay surface.
func (f *Fanout) AddOverlay(s OverlaySurface) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.overlays = append(f.overlays, s)
}

// AddNotifier registers a notifier.
func (f *Fanout) AddNotifier(n Notifier) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notifiers = append(f.notifiers, n)
}

// Surfaces lists the names of the registered surfaces.
func (f *Fanout) Surfaces() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	names := make([]string, 0, len(f.overlays)+len(f.notifiers))
	for _, s := range f.overlays {
		names = append(names, s.Name())
	}
	for _, n := range f.notifiers {
		names = append(names, n.Name())
	}
	return names
}

func (f *Fanout) PresentOverlay(req alert.OverlayRequest) (alert.OverlayHandle, error) {
	f.mu.Lock()
	surfaces := append([]OverlaySurface(nil), f.overlays...)
	f.mu.Unlock()

	id := uuid.NewString()
	var shown []OverlaySurface
	var errs []error
	for _, s := range surfaces {
		if err := s.ShowOverlay(id, req); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		shown = append(shown, s)
	}
	if len(shown) == 0 {
		return "", errors.Join(append([]error{alert.ErrNoSurface}, errs...)...)
	}
	for _, err := range errs {
		f.logger.Warn("overlay surface failed", "error", err)
	}

	h := alert.OverlayHandle(id)
	f.mu.Lock()
	f.shown[h] = shown
	f.mu.Unlock()
	return h, nil
}

func (f *Fanout) DismissOverlay(h alert.OverlayHandle) error {
	f.mu.Lock()
	surfaces, ok := f.shown[h]
	delete(f.shown, h)
	f.mu.Unlock()

	if !ok {
		return nil
	}
	var errs []error
	for _, s := range surfaces {
		if err := s.HideOverlay(string(h)); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

func (f *Fanout) PostNotification(message string) error {
	f.mu.Lock()
	notifiers := append([]Notifier(nil), f.notifiers...)
	f.mu.Unlock()

	delivered := 0
	var errs []error
	for _, n := range notifiers {
		if err := n.Notify("EyesOff", message); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", n.Name(), err))
			continue
		}
		delivered++
	}
	if delivered == 0 {
		return errors.Join(append([]error{alert.ErrNoSurface}, errs...)...)
	}
	for _, err := range errs {
		f.logger.Warn("notifier failed", "error", err)
	}
	return nil
}

// Close hides any overlay still on screen. The surfaces stay registered so
// the next monitoring session can reuse them.
func (f *Fanout) Close() error {
	f.mu.Lock()
	handles := make([]alert.OverlayHandle, 0, len(f.shown))
	for h := range f.shown {
		handles = append(handles, h)
	}
	f.mu.Unlock()

	var errs []error
	for _, h := range handles {
		if err := f.DismissOverlay(h); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Shutdown closes the notifiers. The Fanout must not be used afterwards.
func (f *Fanout) Shutdown() error {
	err := f.Close()

	f.mu.Lock()
	notifiers := f.notifiers
	f.notifiers = nil
	f.overlays = nil
	f.mu.Unlock()

	errs := []error{err}
	for _, n := range notifiers {
		errs = append(errs, n.Close())
	}
	return errors.Join(errs...)
}

var _ alert.Presenter = (*Fanout)(nil)
