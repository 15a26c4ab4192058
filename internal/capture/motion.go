package capture

import (
	"image"
	"sync"
	"time"

	"gocv.io/x/gocv"
)

// Motion detection constants
const (
	// GaussianBlurSize is the kernel size for Gaussian blur (21x21)
	GaussianBlurSize = 21
	// DiffThreshold is the binary threshold for difference detection
	DiffThreshold = 25
)

// MotionGate decides between the idle and active capture rates. Motion
// switches to the active rate at once; the gate falls back to idle only after
// the scene has been still for the idle timeout.
type MotionGate struct {
	mu          sync.Mutex
	threshold   float64
	idleTimeout time.Duration
	prevGray    gocv.Mat
	initialized bool
	lastMotion  time.Time
	now         func() time.Time
}

// NewMotionGate creates a gate. threshold is the percentage of pixels that
// must change to count as motion; 1.0 means 1%.
func NewMotionGate(threshold float64, idleTimeout time.Duration) *MotionGate {
	if threshold <= 0 {
		threshold = 1.0
	}
	return &MotionGate{
		threshold:   threshold,
		idleTimeout: idleTimeout,
		prevGray:    gocv.NewMat(),
		now:         time.Now,
	}
}

// Observe feeds a frame and reports whether the capture should run at the
// active rate, plus the percentage of pixels that changed.
func (m *MotionGate) Observe(frame *gocv.Mat) (active bool, changePercent float64) {
	moved, pct := m.detect(frame)

	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if moved {
		m.lastMotion = now
	}
	return !m.lastMotion.IsZero() && now.Sub(m.lastMotion) < m.idleTimeout, pct
}

// detect compares frame to the previous one: grayscale, 21x21 blur, absolute
// difference, binary threshold, then the share of changed pixels.
func (m *MotionGate) detect(frame *gocv.Mat) (bool, float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if frame == nil || frame.Empty() {
		return false, 0
	}

	gray := gocv.NewMat()
	defer gray.Close()
	if frame.Channels() > 1 {
		gocv.CvtColor(*frame, &gray, gocv.ColorBGRToGray)
	} else {
		frame.CopyTo(&gray)
	}

	blurred := gocv.NewMat()
	defer blurred.Close()
	gocv.GaussianBlur(gray, &blurred, image.Point{X: GaussianBlurSize, Y: GaussianBlurSize}, 0, 0, gocv.BorderDefault)

	// First frame (or a resolution change) becomes the baseline.
	if !m.initialized || m.prevGray.Rows() != blurred.Rows() || m.prevGray.Cols() != blurred.Cols() {
		blurred.CopyTo(&m.prevGray)
		m.initialized = true
		return false, 0
	}

	diff := gocv.NewMat()
	defer diff.Close()
	gocv.AbsDiff(blurred, m.prevGray, &diff)

	thresh := gocv.NewMat()
	defer thresh.Close()
	gocv.Threshold(diff, &thresh, DiffThreshold, 255, gocv.ThresholdBinary)

	changed := float64(gocv.CountNonZero(thresh)) / float64(thresh.Rows()*thresh.Cols()) * 100.0
	blurred.CopyTo(&m.prevGray)

	return changed > m.threshold, changed
}

// Reset forgets the baseline frame and the last motion time.
func (m *MotionGate) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.prevGray.Close()
	m.prevGray = gocv.NewMat()
	m.initialized = false
	m.lastMotion = time.Time{}
}

// Close releases resources used by the gate.
func (m *MotionGate) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.prevGray.Close()
	m.prevGray = gocv.NewMat()
	m.initialized = false
}

// SetThreshold sets the motion threshold percentage.
// Values less than or equal to 0 are ignored.
func (m *MotionGate) SetThreshold(threshold float64) {
	if threshold <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.threshold = threshold
}
