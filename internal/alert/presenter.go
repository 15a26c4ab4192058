package alert

import (
	"errors"
	"fmt"
	"time"
)

// ErrNoSurface is returned by presenters that have nowhere to show an alert.
var ErrNoSurface = errors.New("no alert surface available")

// OverlayHandle identifies an overlay shown by a Presenter.
type OverlayHandle string

// OverlayRequest describes an overlay to present.
type OverlayRequest struct {
	FaceCount int           `json:"face_count"`
	Threshold int           `json:"threshold"`
	Duration  time.Duration `json:"duration"`
	Manual    bool          `json:"manual"`
	Style     OverlayStyle  `json:"style"`
}

// Presenter renders alerts. Implementations are called without the
// controller's lock held and may block.
type Presenter interface {
	// PresentOverlay shows a persistent overlay.
	PresentOverlay(req OverlayRequest) (OverlayHandle, error)

	// DismissOverlay removes an overlay previously returned by PresentOverlay.
	DismissOverlay(h OverlayHandle) error

	// PostNotification shows a transient notification.
	PostNotification(message string) error

	// Close releases resources held for the monitoring session. The presenter
	// may be used again afterwards.
	Close() error
}

// NopPresenter accepts every call and shows nothing.
type NopPresenter struct{}

func (NopPresenter) PresentOverlay(OverlayRequest) (OverlayHandle, error) { return "nop", nil }
func (NopPresenter) DismissOverlay(OverlayHandle) error                 { return nil }
func (NopPresenter) PostNotification(string) error                      { return nil }
func (NopPresenter) Close() error                                       { return nil }

// notificationMessage builds the body of a notification-mode alert.
func notificationMessage(faceCount, threshold int) string {
	if faceCount <= 0 {
		return "Privacy alert: someone else may be looking at your screen."
	}
	return fmt.Sprintf("Privacy alert: %d people detected (allowed: %d).", faceCount, threshold)
}
