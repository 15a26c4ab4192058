// Package testdata builds synthetic camera frames for tests that run
// without a webcam.
package testdata

import (
	"image"
	"image/color"

	"gocv.io/x/gocv"
)

// Frame returns a w x h BGR frame filled with a gray level.
func Frame(w, h int, level uint8) *gocv.Mat {
	mat := gocv.NewMatWithSize(h, w, gocv.MatTypeCV8UC3)
	v := float64(level)
	mat.SetTo(gocv.NewScalar(v, v, v, 0))
	return &mat
}

// MovingSequence returns n frames of a white square sliding across a black
// background, enough change per frame to count as motion.
func MovingSequence(n, w, h int) []*gocv.Mat {
	side := max(h/3, 4)
	step := max((w-side)/max(n, 1), 1)

	frames := make([]*gocv.Mat, 0, n)
	for i := 0; i < n; i++ {
		f := Frame(w, h, 0)
		x := (i * step) % max(w-side, 1)
		gocv.Rectangle(f, image.Rect(x, h/3, x+side, h/3+side), color.RGBA{R: 255, G: 255, B: 255, A: 255}, -1)
		frames = append(frames, f)
	}
	return frames
}

// Close releases frames.
func Close(frames []*gocv.Mat) {
	for _, f := range frames {
		f.Close()
	}
}
