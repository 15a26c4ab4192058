package detector

import (
	"fmt"
	"image"
	"sync"

	"gocv.io/x/gocv"
)

// CascadeDetector implements Detector with a Haar cascade. It needs no neural
// network runtime and serves as a lightweight fallback.
type CascadeDetector struct {
	mu         sync.Mutex
	classifier gocv.CascadeClassifier
	minSize    image.Point
}

// NewCascadeDetector loads the cascade at cfg.CascadePath.
func NewCascadeDetector(cfg Config) (*CascadeDetector, error) {
	if err := checkModel(cfg.CascadePath); err != nil {
		return nil, fmt.Errorf("haar: %w", err)
	}
	classifier := gocv.NewCascadeClassifier()
	if !classifier.Load(cfg.CascadePath) {
		classifier.Close()
		return nil, fmt.Errorf("haar: failed to load cascade %s", cfg.CascadePath)
	}
	return &CascadeDetector{
		classifier: classifier,
		minSize:    image.Pt(40, 40),
	}, nil
}

// Detect finds faces in frame.
func (d *CascadeDetector) Detect(frame *gocv.Mat) (Result, error) {
	if frame == nil || frame.Empty() {
		return Result{}, ErrEmptyFrame
	}

	gray := gocv.NewMat()
	defer gray.Close()
	if frame.Channels() > 1 {
		gocv.CvtColor(*frame, &gray, gocv.ColorBGRToGray)
	} else {
		frame.CopyTo(&gray)
	}
	gocv.EqualizeHist(gray, &gray)

	d.mu.Lock()
	rects := d.classifier.DetectMultiScaleWithParams(gray, 1.1, 5, 0, d.minSize, image.Point{})
	d.mu.Unlock()

	faces := make([]Face, 0, len(rects))
	for _, r := range rects {
		faces = append(faces, Face{Box: r, Score: 1, GazeScore: -1})
	}
	return Result{Faces: faces}, nil
}

// Close releases the cascade.
func (d *CascadeDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.classifier.Close()
}
