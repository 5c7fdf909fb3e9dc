// Package frame defines the video frame and detection records passed between
// the transport, the control loop and the sinks.
package frame

import (
	"fmt"
	"image"
	"time"
)

// Channels is the channel depth of every frame: packed BGR, 8 bits each,
// matching what the decoder and OpenCV produce.
const Channels = 3

// Frame is an immutable BGR24 raster. Once handed to the distribution
// pipeline it must not be modified; writers take a Clone first.
type Frame struct {
	Seq      uint64
	Captured time.Time
	Width    int
	Height   int
	Pix      []byte // len == Width*Height*Channels, row-major
}

// New validates the dimensions against the pixel buffer and wraps it.
func New(seq uint64, captured time.Time, width, height int, pix []byte) (*Frame, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid frame size %dx%d", width, height)
	}
	if want := width * height * Channels; len(pix) != want {
		return nil, fmt.Errorf("frame %dx%d needs %d bytes, got %d", width, height, want, len(pix))
	}
	return &Frame{Seq: seq, Captured: captured, Width: width, Height: height, Pix: pix}, nil
}

// Blank allocates a black frame.
func Blank(seq uint64, captured time.Time, width, height int) *Frame {
	return &Frame{
		Seq:      seq,
		Captured: captured,
		Width:    width,
		Height:   height,
		Pix:      make([]byte, width*height*Channels),
	}
}

// Clone returns a deep copy that the caller may modify.
func (f *Frame) Clone() *Frame {
	c := *f
	c.Pix = make([]byte, len(f.Pix))
	copy(c.Pix, f.Pix)
	return &c
}

// Center is the pixel the controller tries to keep the target on.
func (f *Frame) Center() image.Point {
	return image.Pt(f.Width/2, f.Height/2)
}

// Bounds returns the frame rectangle anchored at the origin.
func (f *Frame) Bounds() image.Rectangle {
	return image.Rect(0, 0, f.Width, f.Height)
}

// BGR returns the blue, green and red components at (x, y).
func (f *Frame) BGR(x, y int) (b, g, r uint8) {
	i := (y*f.Width + x) * Channels
	return f.Pix[i], f.Pix[i+1], f.Pix[i+2]
}

// SetBGR writes a pixel. Only valid on a frame the caller owns.
func (f *Frame) SetBGR(x, y int, b, g, r uint8) {
	i := (y*f.Width + x) * Channels
	f.Pix[i], f.Pix[i+1], f.Pix[i+2] = b, g, r
}

// Detection is the detector's answer for one frame. A nil *Detection means no
// target was found.
type Detection struct {
	Center image.Point
	Box    *image.Rectangle
}

// FromBox builds a detection centred on the bounding box.
func FromBox(box image.Rectangle) *Detection {
	b := box
	return &Detection{
		Center: image.Pt(box.Min.X+box.Dx()/2, box.Min.Y+box.Dy()/2),
		Box:    &b,
	}
}

// CenterOf returns the detection centre, or nil for a missing detection. The
// sample filter consumes this form.
func CenterOf(d *Detection) *image.Point {
	if d == nil {
		return nil
	}
	c := d.Center
	return &c
}
