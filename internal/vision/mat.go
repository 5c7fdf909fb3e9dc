// Package vision wraps OpenCV (through gocv) for face detection, frame
// resizing and annotation, the display window, MP4 recording and decoding the
// drone's video stream.
package vision

import (
	"fmt"
	"time"

	"gocv.io/x/gocv"

	"github.com/banshee-data/facefollow/internal/frame"
)

// ToMat copies the frame into a new BGR Mat. The caller closes it.
func ToMat(f *frame.Frame) (gocv.Mat, error) {
	view, err := gocv.NewMatFromBytes(f.Height, f.Width, gocv.MatTypeCV8UC3, f.Pix)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("frame %d to mat: %w", f.Seq, err)
	}
	defer view.Close()
	return view.Clone(), nil
}

// FromMat copies a BGR Mat into a frame.
func FromMat(seq uint64, captured time.Time, m gocv.Mat) (*frame.Frame, error) {
	if m.Empty() {
		return nil, fmt.Errorf("frame %d: empty mat", seq)
	}
	if m.Type() != gocv.MatTypeCV8UC3 {
		return nil, fmt.Errorf("frame %d: unsupported mat type %v", seq, m.Type())
	}
	return frame.New(seq, captured, m.Cols(), m.Rows(), m.ToBytes())
}
