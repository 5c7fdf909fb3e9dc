package synthetic

import (
	"image"

	"github.com/banshee-data/facefollow/internal/frame"
)

// BlobDetector finds the bounding box of all bright pixels.
type BlobDetector struct {
	// Threshold is the minimum mean channel value of a bright pixel.
	Threshold uint8
	// MinPixels below which nothing is reported.
	MinPixels int
	// Step samples every Step-th row and column.
	Step int
}

// NewBlobDetector returns a detector tuned for Scene frames.
func NewBlobDetector() *BlobDetector {
	return &BlobDetector{Threshold: 200, MinPixels: 20, Step: 2}
}

func (d *BlobDetector) Detect(f *frame.Frame) (*frame.Detection, error) {
	step := max(d.Step, 1)
	box := image.Rectangle{}
	count := 0
	for y := 0; y < f.Height; y += step {
		for x := 0; x < f.Width; x += step {
			b, g, r := f.BGR(x, y)
			if (int(b)+int(g)+int(r))/3 < int(d.Threshold) {
				continue
			}
			px := image.Rect(x, y, x+1, y+1)
			if count == 0 {
				box = px
			} else {
				box = box.Union(px)
			}
			count++
		}
	}
	if count*step*step < d.MinPixels {
		return nil, nil
	}
	return frame.FromBox(box), nil
}
