package present

import (
	"log/slog"

	"github.com/ayusman/eyesoff/internal/alert"
)

// LogSurface writes alerts to the log. It is registered on headless machines
// so an alert always lands somewhere.
type LogSurface struct {
	logger *slog.Logger
}

// NewLogSurface creates a LogSurface.
func NewLogSurface(logger *slog.Logger) *LogSurface {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSurface{logger: logger}
}

func (l *LogSurface) Name() string { return "log" }

func (l *LogSurface) ShowOverlay(id string, req alert.OverlayRequest) error {
	l.logger.Warn("privacy overlay shown", "id", id, "faces", req.FaceCount, "threshold", req.Threshold, "manual", req.Manual)
	return nil
}

func (l *LogSurface) HideOverlay(id string) error {
	l.logger.Info("privacy overlay hidden", "id", id)
	return nil
}

func (l *LogSurface) Notify(summary, body string) error {
	l.logger.Warn(body, "summary", summary)
	return nil
}

func (l *LogSurface) Close() error { return nil }
