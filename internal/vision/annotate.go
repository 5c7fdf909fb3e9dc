package vision

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"github.com/banshee-data/facefollow/internal/control"
	"github.com/banshee-data/facefollow/internal/filter"
	"github.com/banshee-data/facefollow/internal/frame"
)

var (
	red    = color.RGBA{R: 255, A: 255}
	green  = color.RGBA{G: 255, A: 255}
	blue   = color.RGBA{B: 255, A: 255}
	yellow = color.RGBA{R: 255, G: 255, A: 255}
)

// Annotator draws the frame centre, the face box, an arrow to the target and
// the axis errors.
type Annotator struct{}

func (Annotator) Annotate(f *frame.Frame, o control.Overlay) *frame.Frame {
	img, err := ToMat(f)
	if err != nil {
		logf("annotate: %v", err)
		return f
	}
	defer img.Close()

	gocv.Circle(&img, o.Center, 5, red, -1)
	if o.Box != nil {
		c := green
		if o.Verdict != filter.Accepted {
			c = yellow
		}
		gocv.Rectangle(&img, *o.Box, c, 2)
	}
	if o.Target != nil {
		gocv.Circle(&img, *o.Target, 5, blue, -1)
		gocv.ArrowedLine(&img, o.Center, *o.Target, green, 2)
	}

	gocv.PutText(&img, fmt.Sprintf("X Error: %.0f", o.PanError), image.Pt(10, 20),
		gocv.FontHersheySimplex, 0.5, green, 1)
	gocv.PutText(&img, fmt.Sprintf("Y Error: %.0f", o.TiltError), image.Pt(10, 40),
		gocv.FontHersheySimplex, 0.5, green, 1)
	gocv.PutText(&img, o.Command.String(), image.Pt(10, 60),
		gocv.FontHersheySimplex, 0.5, green, 1)
	if o.Verdict != filter.Accepted {
		gocv.PutText(&img, o.Verdict.String(), image.Pt(10, 80),
			gocv.FontHersheySimplex, 0.5, yellow, 1)
	}

	out, err := FromMat(f.Seq, f.Captured, img)
	if err != nil {
		logf("annotate: %v", err)
		return f
	}
	return out
}
