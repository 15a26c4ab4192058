package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ayusman/eyesoff/internal/alert"
	"github.com/ayusman/eyesoff/internal/capture"
	"github.com/ayusman/eyesoff/internal/config"
	"github.com/ayusman/eyesoff/internal/detector"
	"github.com/ayusman/eyesoff/internal/events"
	"github.com/ayusman/eyesoff/internal/store"
)

var quiet = slog.New(slog.DiscardHandler)

// countingPresenter counts overlays currently shown.
type countingPresenter struct {
	mu      sync.Mutex
	shown   int
	visible map[alert.OverlayHandle]bool
	next    int
}

func (p *countingPresenter) PresentOverlay(alert.OverlayRequest) (alert.OverlayHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.visible == nil {
		p.visible = make(map[alert.OverlayHandle]bool)
	}
	p.next++
	p.shown++
	h := alert.OverlayHandle(fmt.Sprintf("overlay-%d", p.next))
	p.visible[h] = true
	return h, nil
}

func (p *countingPresenter) DismissOverlay(h alert.OverlayHandle) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.visible, h)
	return nil
}

func (p *countingPresenter) PostNotification(string) error { return nil }
func (p *countingPresenter) Close() error                  { return nil }

func (p *countingPresenter) counts() (shown, visible int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.shown, len(p.visible)
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Detector.Type = config.DetectorMock
	cfg.Alert.AlertOn = true
	cfg.Alert.DebounceTime = 0
	cfg.Alert.DetectionDelayFrames = 2
	cfg.Monitor.PollIntervalMs = 10
	cfg.Monitor.IdleFPS = 50
	cfg.Monitor.ActiveFPS = 50
	cfg.Monitor.DetectorErrorLimit = 3
	cfg.Storage.Enabled = false
	cfg.Server.Enabled = false
	return cfg
}

type testApp struct {
	*App
	det       *detector.MockDetector
	presenter *countingPresenter
}

func newTestApp(t *testing.T, cfg *config.Config, mutate ...func(*Options)) *testApp {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping capture pipeline test in short mode")
	}

	det := detector.NewMockDetector()
	presenter := &countingPresenter{}
	opts := Options{
		Config:    cfg,
		Presenter: presenter,
		Logger:    quiet,
		NewCamera: func(config.CameraConfig) capture.Camera {
			return capture.NewBlankCamera(64, 48)
		},
		NewDetector: func(config.DetectorConfig) (detector.Detector, error) {
			return det, nil
		},
	}
	for _, m := range mutate {
		m(&opts)
	}

	a, err := New(opts)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { a.Stop() })
	return &testApp{App: a, det: det, presenter: presenter}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Fatal("expected error without config")
	}

	cfg := testConfig()
	cfg.Alert.FaceThreshold = 0
	_, err := New(Options{Config: cfg})
	var verrs config.ValidationErrors
	if !errors.As(err, &verrs) || !verrs.Has("alert.face_threshold") {
		t.Fatalf("got %v, want alert.face_threshold ValidationError", err)
	}
}

func TestApp_NotRunning(t *testing.T) {
	a, err := New(Options{Config: testConfig(), Logger: quiet})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	for name, op := range map[string]func() error{
		"Pause":        a.Pause,
		"Resume":       a.Resume,
		"DismissAlert": a.DismissAlert,
		"TestAlert":    a.TestAlert,
	} {
		if err := op(); !errors.Is(err, ErrNotRunning) {
			t.Errorf("%s() = %v, want ErrNotRunning", name, err)
		}
	}

	if err := a.Stop(); err != nil {
		t.Errorf("Stop() on stopped app = %v", err)
	}
	st := a.Status()
	if st.Monitoring || st.Summary != "Stopped" {
		t.Errorf("Status() = %+v", st)
	}
	if st.Threshold != 1 || st.Mode != "overlay" {
		t.Errorf("Status() threshold/mode = %d/%s", st.Threshold, st.Mode)
	}
}

func TestApp_StartFailures(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping capture pipeline test in short mode")
	}

	t.Run("detector", func(t *testing.T) {
		a, _ := New(Options{
			Config: testConfig(),
			Logger: quiet,
			NewDetector: func(config.DetectorConfig) (detector.Detector, error) {
				return nil, detector.ErrModelNotFound
			},
		})
		if err := a.Start(context.Background()); !errors.Is(err, detector.ErrModelNotFound) {
			t.Errorf("Start() = %v, want ErrModelNotFound", err)
		}
		if a.Running() {
			t.Error("app should not be running")
		}
	})

	t.Run("camera", func(t *testing.T) {
		det := detector.NewMockDetector()
		a, _ := New(Options{
			Config: testConfig(),
			Logger: quiet,
			NewCamera: func(config.CameraConfig) capture.Camera {
				c := capture.NewBlankCamera(64, 48)
				c.FailOpen(errors.New("device busy"))
				return c
			},
			NewDetector: func(config.DetectorConfig) (detector.Detector, error) {
				return det, nil
			},
		})
		if err := a.Start(context.Background()); err == nil {
			t.Fatal("expected camera error")
		}
		if !det.Closed() {
			t.Error("detector should be closed when the camera fails")
		}
	})
}

func TestApp_RaisesAndClearsAlert(t *testing.T) {
	a := newTestApp(t, testConfig())
	a.det.SetFaces(2, 0)

	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	// Second Start is a no-op.
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("second Start() error = %v", err)
	}

	waitFor(t, "alert", func() bool { return a.Status().Showing })
	if shown, visible := a.presenter.counts(); shown != 1 || visible != 1 {
		t.Errorf("presenter shown/visible = %d/%d, want 1/1", shown, visible)
	}
	if st := a.Status(); st.CurrentFaces != 2 || !st.Monitoring {
		t.Errorf("Status() = %+v", st)
	}

	a.det.SetFaces(1, 0)
	waitFor(t, "alert to clear", func() bool { return !a.Status().Showing })
	if _, visible := a.presenter.counts(); visible != 0 {
		t.Error("overlay should be dismissed")
	}

	if err := a.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if !a.det.Closed() {
		t.Error("detector not closed on Stop")
	}
	stats := a.Stats()
	if stats.AlertCount != 1 {
		t.Errorf("AlertCount = %d, want 1", stats.AlertCount)
	}
	if stats.TotalDetections == 0 {
		t.Error("TotalDetections should be recorded")
	}
}

func TestApp_DismissAndTestAlert(t *testing.T) {
	a := newTestApp(t, testConfig())
	a.det.SetFaces(0, 0)
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitFor(t, "empty scene confirmed", func() bool { return a.Stats().TotalDetections >= 5 })

	if err := a.TestAlert(); err != nil {
		t.Fatalf("TestAlert() error = %v", err)
	}
	ticks := a.Stats().TotalDetections
	waitFor(t, "more ticks", func() bool { return a.Stats().TotalDetections >= ticks+5 })
	if !a.Status().Showing {
		t.Fatal("test alert cleared while monitoring an empty scene")
	}

	if err := a.DismissAlert(); err != nil {
		t.Fatalf("DismissAlert() error = %v", err)
	}
	if a.Status().Showing {
		t.Error("alert still showing after dismissal")
	}
	if got := a.Stats().AlertCount; got != 0 {
		t.Errorf("test alert counted: AlertCount = %d", got)
	}
}

func TestApp_DetectorErrorsResetCount(t *testing.T) {
	a := newTestApp(t, testConfig())
	a.det.SetFaces(3, 0)
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitFor(t, "alert", func() bool { return a.Status().Showing })

	a.det.SetError(errors.New("inference failed"))
	waitFor(t, "count reset", func() bool { return a.Status().CurrentFaces == 0 })
	waitFor(t, "alert to clear", func() bool { return !a.Status().Showing })

	if a.Metrics().DetectorErrors.Load() < 3 {
		t.Errorf("DetectorErrors = %d, want at least 3", a.Metrics().DetectorErrors.Load())
	}
}

func TestApp_Pause(t *testing.T) {
	a := newTestApp(t, testConfig())
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if err := a.Pause(); err != nil {
		t.Fatalf("Pause() error = %v", err)
	}
	a.det.SetFaces(4, 0)
	skipped := a.Metrics().FramesSkipped.Load()
	waitFor(t, "frames skipped", func() bool { return a.Metrics().FramesSkipped.Load() > skipped+3 })
	if st := a.Status(); !st.Paused || st.Showing {
		t.Errorf("paused Status() = %+v", st)
	}

	if err := a.Resume(); err != nil {
		t.Fatalf("Resume() error = %v", err)
	}
	waitFor(t, "alert after resume", func() bool { return a.Status().Showing })
}

func TestApp_ContextCancelStops(t *testing.T) {
	a := newTestApp(t, testConfig())
	ctx, cancel := context.WithCancel(context.Background())
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	cancel()
	waitFor(t, "stop", func() bool { return !a.Running() })
}

func TestApp_ApplyConfig(t *testing.T) {
	cfg := testConfig()
	a := newTestApp(t, cfg)
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	first := a.Status().StartedAt

	invalid := cfg.Clone()
	invalid.Alert.FaceThreshold = 0
	if err := a.ApplyConfig(invalid); err == nil {
		t.Fatal("expected invalid config to be rejected")
	}

	next := cfg.Clone()
	next.Alert.FaceThreshold = 3
	if err := a.ApplyConfig(next); err != nil {
		t.Fatalf("ApplyConfig() error = %v", err)
	}
	if st := a.Status(); st.Threshold != 3 || !st.StartedAt.Equal(first) {
		t.Errorf("alert change should apply in place: %+v", st)
	}

	restart := next.Clone()
	restart.Camera.ID = 1
	if err := a.ApplyConfig(restart); err != nil {
		t.Fatalf("ApplyConfig() error = %v", err)
	}
	if st := a.Status(); !st.Monitoring || st.StartedAt.Equal(first) {
		t.Errorf("camera change should restart the session: %+v", st)
	}
	if a.Config().Camera.ID != 1 {
		t.Error("Config() should return the applied configuration")
	}
}

func TestApp_Preview(t *testing.T) {
	a := newTestApp(t, testConfig())
	a.det.SetFaces(1, 0)
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if a.Preview() != nil {
		t.Fatal("no preview should be encoded without watchers")
	}

	release := a.WatchPreview()
	waitFor(t, "preview frame", func() bool { return a.Preview() != nil })
	release()
	release()

	p := a.Preview()
	if len(p.JPEG) < 2 || p.JPEG[0] != 0xFF || p.JPEG[1] != 0xD8 {
		t.Error("preview is not a JPEG")
	}
	if a.previewClients.Load() != 0 {
		t.Error("release should be idempotent")
	}
}

func TestApp_RecordsSession(t *testing.T) {
	s, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("store.New() error = %v", err)
	}
	defer s.Close()

	rec := events.NewRecorder(events.NewStoreSink(s), 16, events.WithLogger(quiet))
	a := newTestApp(t, testConfig(), func(o *Options) {
		o.Store = s
		o.Recorder = rec
	})
	a.det.SetFaces(2, 0)

	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	id := a.Status().SessionID
	if id == "" {
		t.Fatal("session should be recorded")
	}
	waitFor(t, "alert", func() bool { return a.Status().Showing })
	if err := a.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	rec.Close()

	sess, err := s.Sessions().GetByID(id)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if sess.Active() || sess.AlertCount != 1 {
		t.Errorf("session = %+v, want ended with 1 alert", sess)
	}

	evs, err := s.Events().ListBySession(id)
	if err != nil {
		t.Fatalf("ListBySession() error = %v", err)
	}
	// Raised, then dismissed when the session stopped.
	if len(evs) != 2 || evs[0].Kind != store.EventKindRaised || evs[1].Kind != store.EventKindDismissed {
		t.Errorf("events = %+v", evs)
	}
}
