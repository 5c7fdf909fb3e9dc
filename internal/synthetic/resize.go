package synthetic

import (
	"fmt"
	"image"

	"golang.org/x/image/draw"

	"github.com/banshee-data/facefollow/internal/frame"
)

// Resizer scales frames to a fixed width, keeping the aspect ratio.
type Resizer struct {
	Width  int
	Scaler draw.Scaler
}

// NewResizer uses approximate bilinear scaling.
func NewResizer(width int) *Resizer {
	return &Resizer{Width: width, Scaler: draw.ApproxBiLinear}
}

func (r *Resizer) Process(f *frame.Frame) (*frame.Frame, error) {
	if r.Width <= 0 {
		return nil, fmt.Errorf("resize: invalid width %d", r.Width)
	}
	if f.Width == r.Width {
		return f, nil
	}
	height := max(f.Height*r.Width/f.Width, 1)
	dst := image.NewRGBA(image.Rect(0, 0, r.Width, height))
	scaler := r.Scaler
	if scaler == nil {
		scaler = draw.ApproxBiLinear
	}
	scaler.Scale(dst, dst.Bounds(), f.RGBA(), f.Bounds(), draw.Src, nil)
	return frame.FromImage(f.Seq, f.Captured, dst), nil
}
