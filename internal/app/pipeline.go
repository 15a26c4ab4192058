package app

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"gocv.io/x/gocv"

	"github.com/ayusman/eyesoff/internal/config"
	"github.com/ayusman/eyesoff/internal/detector"
)

// previewQuality is the JPEG quality of preview frames.
const previewQuality = 70

// runFrameLoop reads frames and feeds face counts to the controller.
//
// The motion gate picks the capture rate: idle FPS while the scene is still,
// active FPS from the first movement until it has been still for the idle
// timeout. Every frame read is analysed; pausing stops analysis but keeps the
// camera open.
//
// A failed detection leaves the controller's count untouched. After
// DetectorErrorLimit consecutive failures the count is reset to zero so a
// dead detector cannot hold an alert up forever.
func (a *App) runFrameLoop(ctx context.Context, s *session, cfg *config.Config) {
	defer s.wg.Done()
	defer a.recoverLoop(s, "frame")

	idle := fpsInterval(cfg.Monitor.IdleFPS)
	active := fpsInterval(cfg.Monitor.ActiveFPS)
	errorLimit := cfg.Monitor.DetectorErrorLimit
	gazeThreshold := cfg.Detector.GazeThreshold

	ticker := time.NewTicker(idle)
	defer ticker.Stop()

	activeMode := false
	consecutiveErrors := 0

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		frame, err := s.camera.ReadFrame()
		if err != nil {
			a.metrics.ReadErrors.Add(1)
			a.logger.Debug("failed to read frame", "error", err)
			continue
		}
		a.metrics.FramesRead.Add(1)

		moving, _ := s.gate.Observe(frame)
		if moving != activeMode {
			activeMode = moving
			a.metrics.ActiveMode.Store(activeMode)
			if activeMode {
				s.camera.SetFPS(cfg.Monitor.ActiveFPS)
				ticker.Reset(active)
				a.logger.Debug("switched to active capture")
			} else {
				s.camera.SetFPS(cfg.Monitor.IdleFPS)
				ticker.Reset(idle)
				a.logger.Debug("switched to idle capture")
			}
		}

		if s.ctrl.Paused() {
			a.metrics.FramesSkipped.Add(1)
			frame.Close()
			continue
		}

		start := time.Now()
		res, err := s.det.Detect(frame)
		a.metrics.UpdateDetectLatency(time.Since(start))
		a.metrics.FramesDetected.Add(1)

		if err != nil {
			frame.Close()
			a.metrics.DetectorErrors.Add(1)
			consecutiveErrors++
			if consecutiveErrors == errorLimit {
				a.logger.Warn("detector keeps failing, treating the scene as empty",
					"failures", consecutiveErrors, "error", err)
				s.ctrl.UpdateFaceCount(0, 0)
			} else if !errors.Is(err, detector.ErrEmptyFrame) {
				a.logger.Debug("detection failed", "error", err)
			}
			continue
		}
		if consecutiveErrors >= errorLimit {
			a.logger.Info("detector recovered", "failures", consecutiveErrors)
		}
		consecutiveErrors = 0

		s.ctrl.UpdateFaceCount(res.Count(), res.NumLooking)

		if a.previewClients.Load() > 0 {
			a.publishPreview(frame, res, gazeThreshold)
		}
		frame.Close()
	}
}

func (a *App) publishPreview(frame *gocv.Mat, res detector.Result, gazeThreshold float64) {
	detector.Annotate(frame, res, gazeThreshold)

	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, *frame, []int{gocv.IMWriteJpegQuality, previewQuality})
	if err != nil {
		a.logger.Debug("failed to encode preview", "error", err)
		return
	}
	defer buf.Close()

	jpeg := append([]byte(nil), buf.GetBytes()...)
	a.preview.Store(&Preview{JPEG: jpeg, Seq: a.previewSeq.Add(1), At: time.Now()})
}

// runPollLoop drives the controller's decisions at a fixed interval.
func (a *App) runPollLoop(ctx context.Context, s *session, interval time.Duration) {
	defer s.wg.Done()
	defer a.recoverLoop(s, "poll")

	if interval <= 0 {
		interval = 50 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.ctrl.Tick()
		}
	}
}

// recoverLoop logs a panic in one of the session loops and stops the session.
// The stop runs on its own goroutine because it waits for this loop to exit.
func (a *App) recoverLoop(s *session, loop string) {
	r := recover()
	if r == nil {
		return
	}
	a.logger.Error("monitoring loop panicked",
		"loop", loop,
		"panic", fmt.Sprint(r),
		"stack", string(debug.Stack()))
	go func() {
		if err := a.stopSession(s); err != nil {
			a.logger.Warn("error while stopping after panic", "error", err)
		}
	}()
}

func fpsInterval(fps int) time.Duration {
	if fps <= 0 {
		fps = 1
	}
	return time.Second / time.Duration(fps)
}
