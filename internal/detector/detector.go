// Package detector counts faces, and faces looking at the screen, in video frames.
package detector

import (
	"errors"
	"fmt"
	"image"
	"os"

	"gocv.io/x/gocv"
)

var (
	// ErrEmptyFrame is returned when Detect is given a nil or empty frame.
	ErrEmptyFrame = errors.New("empty frame")

	// ErrModelNotFound is returned when a model file does not exist.
	ErrModelNotFound = errors.New("model not found")
)

// Face is a single detected face in frame coordinates.
type Face struct {
	Box   image.Rectangle `json:"box"`
	Score float64         `json:"score"`

	// GazeScore is the eye-contact probability, or -1 when not evaluated.
	GazeScore float64 `json:"gaze_score"`
	Looking   bool    `json:"looking"`
}

// Result is the output of one detection pass.
type Result struct {
	Faces      []Face `json:"faces"`
	NumLooking int    `json:"num_looking"`
}

// Count returns the number of detected faces.
func (r Result) Count() int {
	return len(r.Faces)
}

// Detector defines the interface for face detection implementations.
type Detector interface {
	// Detect analyzes a video frame. A frame with no faces yields an empty
	// Result, not an error.
	Detect(frame *gocv.Mat) (Result, error)

	// Close releases any resources held by the detector.
	Close() error
}

// Config holds configuration options for face detection.
type Config struct {
	// ModelPath is the YuNet ONNX model.
	ModelPath string

	// GazeModelPath is the ONNX eye-contact classifier.
	GazeModelPath string

	// CascadePath is a Haar cascade XML file.
	CascadePath string

	// Command is the external detection service and its arguments.
	Command []string

	// ConfidenceThreshold is the minimum face score (0.0-1.0).
	ConfidenceThreshold float64

	// GazeThreshold is the minimum eye-contact score to count as looking (0.0-1.0).
	GazeThreshold float64

	// TargetSize is the longest side frames are scaled to before face detection.
	TargetSize int

	// GazeEvery runs the gaze classifier every N frames and reuses the last
	// scores in between.
	GazeEvery int
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() Config {
	return Config{
		ConfidenceThreshold: 0.75,
		GazeThreshold:       0.6,
		TargetSize:          340,
		GazeEvery:           30,
	}
}

// Types accepted by New.
const (
	TypeYuNet    = "yunet"
	TypeGaze     = "gaze"
	TypeHaar     = "haar"
	TypeExternal = "external"
	TypeMock     = "mock"
)

// New creates the detector named by kind.
func New(kind string, cfg Config) (Detector, error) {
	switch kind {
	case TypeYuNet:
		return NewYuNetDetector(cfg)
	case TypeGaze:
		return NewGazeDetector(cfg)
	case TypeHaar:
		return NewCascadeDetector(cfg)
	case TypeExternal:
		return NewExternalDetector(cfg)
	case TypeMock:
		return NewMockDetector(), nil
	default:
		return nil, fmt.Errorf("unknown detector type %q", kind)
	}
}

func checkModel(path string) error {
	if path == "" {
		return fmt.Errorf("%w: no path configured", ErrModelNotFound)
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("%w: %s", ErrModelNotFound, path)
	}
	return nil
}

// expandRect grows r by frac of its size on every side and clips it to bounds.
func expandRect(r image.Rectangle, frac float64, bounds image.Rectangle) image.Rectangle {
	dx := int(float64(r.Dx()) * frac)
	dy := int(float64(r.Dy()) * frac)
	grown := image.Rect(r.Min.X-dx, r.Min.Y-dy, r.Max.X+dx, r.Max.Y+dy)
	return grown.Intersect(bounds)
}

// scaleRect multiplies every coordinate of r by f.
func scaleRect(r image.Rectangle, f float64) image.Rectangle {
	return image.Rect(
		int(float64(r.Min.X)*f),
		int(float64(r.Min.Y)*f),
		int(float64(r.Max.X)*f),
		int(float64(r.Max.Y)*f),
	)
}

// countLooking returns how many faces are marked as looking.
func countLooking(faces []Face) int {
	n := 0
	for _, f := range faces {
		if f.Looking {
			n++
		}
	}
	return n
}
