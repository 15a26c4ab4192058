package detector

import (
	"image"
	"sync"

	"gocv.io/x/gocv"
)

// MockDetector is a test implementation of the Detector interface.
// It allows tests to control the detection results.
type MockDetector struct {
	mu       sync.Mutex
	result   Result
	sequence []Result
	err      error
	calls    int
	closed   bool
}

// NewMockDetector creates a new MockDetector instance.
func NewMockDetector() *MockDetector {
	return &MockDetector{}
}

// SetResult sets the result returned by every Detect call.
func (m *MockDetector) SetResult(r Result) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.result = r
	m.sequence = nil
}

// SetFaces is shorthand for a result with n faces, of which looking are
// looking at the screen.
func (m *MockDetector) SetFaces(n, looking int) {
	m.SetResult(FacesResult(n, looking))
}

// SetSequence queues results returned one per Detect call. After the queue is
// drained the last result keeps being returned.
func (m *MockDetector) SetSequence(results ...Result) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sequence = append([]Result(nil), results...)
}

// SetError sets the error that will be returned by Detect.
func (m *MockDetector) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Detect returns the pre-configured result or error.
func (m *MockDetector) Detect(frame *gocv.Mat) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	if m.err != nil {
		return Result{}, m.err
	}
	if len(m.sequence) > 0 {
		m.result = m.sequence[0]
		m.sequence = m.sequence[1:]
	}
	return m.result, nil
}

// Calls returns how many times Detect was called.
func (m *MockDetector) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Closed reports whether Close was called.
func (m *MockDetector) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Close marks the detector closed.
func (m *MockDetector) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// FacesResult builds a Result with n side-by-side faces, the first looking of
// which are looking at the screen.
func FacesResult(n, looking int) Result {
	faces := make([]Face, n)
	for i := range faces {
		x := 20 + i*110
		faces[i] = Face{
			Box:       image.Rect(x, 100, x+100, 220),
			Score:     0.95,
			GazeScore: 0.2,
		}
		if i < looking {
			faces[i].GazeScore = 0.9
			faces[i].Looking = true
		}
	}
	return Result{Faces: faces, NumLooking: min(max(looking, 0), n)}
}
