package detector

import (
	"fmt"
	"image"
	"sync"

	"gocv.io/x/gocv"
)

// YuNet output layout: x, y, w, h, five landmark pairs, score.
const yunetScoreCol = 14

// YuNetDetector implements Detector with OpenCV's YuNet face detector.
type YuNetDetector struct {
	mu         sync.Mutex
	net        gocv.FaceDetectorYN
	targetSize int
	threshold  float64
	closed     bool
}

// NewYuNetDetector loads the YuNet model at cfg.ModelPath.
func NewYuNetDetector(cfg Config) (*YuNetDetector, error) {
	if err := checkModel(cfg.ModelPath); err != nil {
		return nil, fmt.Errorf("yunet: %w", err)
	}
	target := cfg.TargetSize
	if target <= 0 {
		target = DefaultConfig().TargetSize
	}

	net := gocv.NewFaceDetectorYN(cfg.ModelPath, "", image.Pt(target, target))
	net.SetScoreThreshold(float32(cfg.ConfidenceThreshold))
	net.SetNMSThreshold(0.3)
	net.SetTopK(2500)

	return &YuNetDetector{
		net:        net,
		targetSize: target,
		threshold:  cfg.ConfidenceThreshold,
	}, nil
}

// Detect finds faces in frame.
func (d *YuNetDetector) Detect(frame *gocv.Mat) (Result, error) {
	faces, err := d.detectFaces(frame)
	if err != nil {
		return Result{}, err
	}
	return Result{Faces: faces}, nil
}

// detectFaces runs YuNet on a downscaled copy of frame and maps the boxes
// back to frame coordinates.
func (d *YuNetDetector) detectFaces(frame *gocv.Mat) ([]Face, error) {
	if frame == nil || frame.Empty() {
		return nil, ErrEmptyFrame
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, fmt.Errorf("yunet: detector closed")
	}

	w, h := frame.Cols(), frame.Rows()
	scale := float64(d.targetSize) / float64(max(w, h))
	size := image.Pt(max(int(float64(w)*scale), 1), max(int(float64(h)*scale), 1))

	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(*frame, &resized, size, 0, 0, gocv.InterpolationLinear)

	out := gocv.NewMat()
	defer out.Close()
	d.net.SetInputSize(size)
	d.net.Detect(resized, &out)

	bounds := image.Rect(0, 0, w, h)
	inverse := 1 / scale
	faces := make([]Face, 0, out.Rows())
	for row := 0; row < out.Rows(); row++ {
		score := float64(out.GetFloatAt(row, yunetScoreCol))
		if score < d.threshold {
			continue
		}
		x := float64(out.GetFloatAt(row, 0))
		y := float64(out.GetFloatAt(row, 1))
		fw := float64(out.GetFloatAt(row, 2))
		fh := float64(out.GetFloatAt(row, 3))

		box := scaleRect(image.Rect(int(x), int(y), int(x+fw), int(y+fh)), inverse).Intersect(bounds)
		if box.Empty() {
			continue
		}
		faces = append(faces, Face{Box: box, Score: score, GazeScore: -1})
	}
	return faces, nil
}

// Close releases the YuNet model.
func (d *YuNetDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil
	}
	d.net.Close()
	d.closed = true
	return nil
}
