package detector

import (
	"fmt"
	"image"
	"math"
	"sync"

	"gocv.io/x/gocv"
)

const (
	gazeInputSize = 224

	// Faces are cropped with this much margin for the classifier.
	gazeCropMargin = 0.2

	// ImageNet normalization. The blob API takes a single scale, so the
	// per-channel std is replaced by its mean.
	imagenetStd = 0.226
)

var imagenetMean = gocv.NewScalar(0.485*255, 0.456*255, 0.406*255, 0)

// GazeDetector finds faces with YuNet and classifies each one as looking at
// the screen or not with an ONNX eye-contact model.
type GazeDetector struct {
	faces     *YuNetDetector
	net       gocv.Net
	threshold float64
	every     int

	mu     sync.Mutex
	frame  int
	scores []float64
}

// NewGazeDetector loads the face and gaze models.
func NewGazeDetector(cfg Config) (*GazeDetector, error) {
	if err := checkModel(cfg.GazeModelPath); err != nil {
		return nil, fmt.Errorf("gaze: %w", err)
	}
	faces, err := NewYuNetDetector(cfg)
	if err != nil {
		return nil, err
	}

	net := gocv.ReadNet(cfg.GazeModelPath, "")
	if net.Empty() {
		faces.Close()
		return nil, fmt.Errorf("gaze: failed to load %s", cfg.GazeModelPath)
	}
	net.SetPreferableBackend(gocv.NetBackendDefault)
	net.SetPreferableTarget(gocv.NetTargetCPU)

	every := cfg.GazeEvery
	if every <= 0 {
		every = 1
	}
	return &GazeDetector{
		faces:     faces,
		net:       net,
		threshold: cfg.GazeThreshold,
		every:     every,
	}, nil
}

// Detect finds faces and counts those looking at the screen. The classifier
// runs every GazeEvery frames; in between, the previous scores are reused
// while the face count is unchanged.
func (d *GazeDetector) Detect(frame *gocv.Mat) (Result, error) {
	faces, err := d.faces.detectFaces(frame)
	if err != nil {
		return Result{}, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.frame++
	if len(faces) == 0 {
		d.scores = nil
		return Result{Faces: faces}, nil
	}

	if d.frame%d.every == 0 || len(d.scores) != len(faces) {
		bounds := image.Rect(0, 0, frame.Cols(), frame.Rows())
		d.scores = make([]float64, len(faces))
		for i, f := range faces {
			score, err := d.classify(frame, expandRect(f.Box, gazeCropMargin, bounds))
			if err != nil {
				// Unknown gaze counts as undecided rather than failing the frame.
				score = 0.5
			}
			d.scores[i] = score
		}
	}

	for i := range faces {
		faces[i].GazeScore = d.scores[i]
		faces[i].Looking = d.scores[i] >= d.threshold
	}
	return Result{Faces: faces, NumLooking: countLooking(faces)}, nil
}

func (d *GazeDetector) classify(frame *gocv.Mat, crop image.Rectangle) (float64, error) {
	if crop.Empty() {
		return 0, fmt.Errorf("empty face crop")
	}
	face := frame.Region(crop)
	defer face.Close()

	blob := gocv.BlobFromImage(face, 1/(255*imagenetStd), image.Pt(gazeInputSize, gazeInputSize), imagenetMean, true, true)
	defer blob.Close()

	d.net.SetInput(blob, "")
	out := d.net.Forward("")
	defer out.Close()

	if out.Empty() {
		return 0, fmt.Errorf("gaze model returned no output")
	}
	return sigmoid(float64(out.GetFloatAt(0, 0))), nil
}

// Close releases both models.
func (d *GazeDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	err := d.net.Close()
	if ferr := d.faces.Close(); err == nil {
		err = ferr
	}
	return err
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}
