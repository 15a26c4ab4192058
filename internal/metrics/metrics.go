// Package metrics exposes monitoring counters and alert statistics to
// Prometheus.
package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ayusman/eyesoff/internal/alert"
)

// StatusFunc reports the live controller state. ok is false when monitoring
// is not running.
type StatusFunc func() (stats alert.Statistics, state alert.State, ok bool)

// Metrics holds the frame loop counters and reads alert statistics on scrape.
type Metrics struct {
	FramesRead      atomic.Uint64
	FramesDetected  atomic.Uint64
	FramesSkipped   atomic.Uint64
	ReadErrors      atomic.Uint64
	DetectorErrors  atomic.Uint64
	DetectLatencyMs atomic.Uint64
	ActiveMode      atomic.Bool
	HooksRun        atomic.Uint64
	EventsDropped   atomic.Uint64

	status   atomic.Pointer[StatusFunc]
	registry *prometheus.Registry
}

// New creates a Metrics instance with its own registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}
	m.register()
	return m
}

// SetStatus installs the function consulted for alert statistics.
func (m *Metrics) SetStatus(f StatusFunc) {
	m.status.Store(&f)
}

// UpdateDetectLatency records how long the last detection took.
func (m *Metrics) UpdateDetectLatency(d time.Duration) {
	m.DetectLatencyMs.Store(uint64(d.Milliseconds()))
}

// Handler returns the Prometheus HTTP handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) snapshot() (alert.Statistics, alert.State, bool) {
	f := m.status.Load()
	if f == nil {
		return alert.Statistics{}, alert.State{}, false
	}
	return (*f)()
}

func (m *Metrics) counter(name, help string, v *atomic.Uint64) {
	m.registry.MustRegister(prometheus.NewCounterFunc(
		prometheus.CounterOpts{Name: name, Help: help},
		func() float64 { return float64(v.Load()) },
	))
}

func (m *Metrics) register() {
	m.counter("eyesoff_frames_read_total", "Frames read from the camera", &m.FramesRead)
	m.counter("eyesoff_frames_detected_total", "Frames passed to the face detector", &m.FramesDetected)
	m.counter("eyesoff_frames_skipped_total", "Frames not analysed while alerts are paused", &m.FramesSkipped)
	m.counter("eyesoff_read_errors_total", "Camera read errors", &m.ReadErrors)
	m.counter("eyesoff_detector_errors_total", "Face detector errors", &m.DetectorErrors)
	m.counter("eyesoff_hooks_run_total", "Alert hook runs started", &m.HooksRun)
	m.counter("eyesoff_events_dropped_total", "Alert events dropped by a full recorder queue", &m.EventsDropped)

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "eyesoff_detect_latency_ms",
			Help: "Duration of the last face detection in milliseconds",
		},
		func() float64 { return float64(m.DetectLatencyMs.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "eyesoff_capture_active",
			Help: "Capture running at the active frame rate (0=idle, 1=active)",
		},
		func() float64 { return boolGauge(m.ActiveMode.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "eyesoff_monitoring",
			Help: "Monitoring running (0=stopped, 1=running)",
		},
		func() float64 {
			_, _, ok := m.snapshot()
			return boolGauge(ok)
		},
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "eyesoff_alert_showing",
			Help: "Alert currently shown (0=no, 1=yes)",
		},
		func() float64 {
			_, state, _ := m.snapshot()
			return boolGauge(state.Showing)
		},
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "eyesoff_paused",
			Help: "Monitoring paused (0=no, 1=yes)",
		},
		func() float64 {
			_, state, _ := m.snapshot()
			return boolGauge(state.Paused)
		},
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "eyesoff_current_faces",
			Help: "Faces counted in the latest frame",
		},
		func() float64 {
			_, state, _ := m.snapshot()
			return float64(state.CurrentFaceCount)
		},
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "eyesoff_session_detections",
			Help: "Polling ticks recorded in the current session",
		},
		func() float64 {
			stats, _, _ := m.snapshot()
			return float64(stats.TotalDetections)
		},
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "eyesoff_session_alerts",
			Help: "Alerts raised in the current session",
		},
		func() float64 {
			stats, _, _ := m.snapshot()
			return float64(stats.AlertCount)
		},
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "eyesoff_session_seconds",
			Help: "Length of the current session in seconds",
		},
		func() float64 {
			stats, _, ok := m.snapshot()
			if !ok {
				return 0
			}
			return stats.SessionDuration(time.Now()).Seconds()
		},
	))
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
