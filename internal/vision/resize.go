package vision

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"

	"github.com/banshee-data/facefollow/internal/frame"
)

// Resizer scales frames to a fixed width, keeping the aspect ratio.
type Resizer struct {
	Width int
}

func (r Resizer) Process(f *frame.Frame) (*frame.Frame, error) {
	if r.Width <= 0 {
		return nil, fmt.Errorf("resize: invalid width %d", r.Width)
	}
	if f.Width == r.Width {
		return f, nil
	}
	src, err := ToMat(f)
	if err != nil {
		return nil, err
	}
	defer src.Close()
	dst := gocv.NewMat()
	defer dst.Close()

	height := max(f.Height*r.Width/f.Width, 1)
	interp := gocv.InterpolationArea
	if r.Width > f.Width {
		interp = gocv.InterpolationLinear
	}
	gocv.Resize(src, &dst, image.Pt(r.Width, height), 0, 0, interp)
	return FromMat(f.Seq, f.Captured, dst)
}
