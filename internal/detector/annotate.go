package detector

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"
)

var (
	colorLooking = color.RGBA{R: 255, A: 255}
	colorUnsure  = color.RGBA{R: 255, G: 165, A: 255}
	colorAway    = color.RGBA{G: 200, A: 255}
)

// Annotate draws the detected faces onto frame for the preview stream.
// Looking faces are red, undecided ones orange and the rest green.
func Annotate(frame *gocv.Mat, res Result, gazeThreshold float64) {
	if frame == nil || frame.Empty() {
		return
	}
	for _, f := range res.Faces {
		c := boxColor(f, gazeThreshold)
		gocv.Rectangle(frame, f.Box, c, 2)

		label := fmt.Sprintf("%.2f", f.Score)
		if f.GazeScore >= 0 {
			label = fmt.Sprintf("gaze %.2f", f.GazeScore)
		}
		gocv.PutText(frame, label, image.Pt(f.Box.Min.X, max(f.Box.Min.Y-8, 12)), gocv.FontHersheySimplex, 0.5, c, 1)
	}
}

func boxColor(f Face, gazeThreshold float64) color.RGBA {
	switch {
	case f.GazeScore < 0:
		return colorAway
	case f.Looking || f.GazeScore >= gazeThreshold:
		return colorLooking
	case f.GazeScore >= gazeThreshold-0.15:
		return colorUnsure
	default:
		return colorAway
	}
}
