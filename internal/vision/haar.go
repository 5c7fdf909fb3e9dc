package vision

import (
	"fmt"
	"image"
	"sync"

	"gocv.io/x/gocv"

	"github.com/banshee-data/facefollow/internal/frame"
)

// cascadeScaleImage is OpenCV's CASCADE_SCALE_IMAGE flag.
const cascadeScaleImage = 2

// HaarDetector finds frontal faces with a Haar cascade. It reports the first
// face OpenCV returns.
type HaarDetector struct {
	ScaleFactor  float64
	MinNeighbors int
	MinSize      image.Point

	mu         sync.Mutex
	classifier gocv.CascadeClassifier
}

// NewHaarDetector loads a cascade file such as
// haarcascade_frontalface_default.xml.
func NewHaarDetector(path string) (*HaarDetector, error) {
	c := gocv.NewCascadeClassifier()
	if !c.Load(path) {
		c.Close()
		return nil, fmt.Errorf("load cascade %s", path)
	}
	return &HaarDetector{
		ScaleFactor:  1.05,
		MinNeighbors: 9,
		MinSize:      image.Pt(30, 30),
		classifier:   c,
	}, nil
}

func (d *HaarDetector) Detect(f *frame.Frame) (*frame.Detection, error) {
	img, err := ToMat(f)
	if err != nil {
		return nil, err
	}
	defer img.Close()
	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(img, &gray, gocv.ColorBGRToGray)

	d.mu.Lock()
	rects := d.classifier.DetectMultiScaleWithParams(gray, d.ScaleFactor, d.MinNeighbors,
		cascadeScaleImage, d.MinSize, image.Point{})
	d.mu.Unlock()

	if len(rects) == 0 {
		return nil, nil
	}
	return frame.FromBox(rects[0]), nil
}

func (d *HaarDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.classifier.Close()
}
