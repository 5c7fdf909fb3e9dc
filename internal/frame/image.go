package frame

import (
	"image"
	"time"
)

// RGBA converts the frame into an opaque RGBA image.
func (f *Frame) RGBA() *image.RGBA {
	img := image.NewRGBA(f.Bounds())
	for i, j := 0, 0; i < len(f.Pix); i, j = i+Channels, j+4 {
		img.Pix[j] = f.Pix[i+2]
		img.Pix[j+1] = f.Pix[i+1]
		img.Pix[j+2] = f.Pix[i]
		img.Pix[j+3] = 0xff
	}
	return img
}

// FromImage packs any image into a BGR frame. Alpha is discarded.
func FromImage(seq uint64, captured time.Time, img image.Image) *Frame {
	b := img.Bounds()
	f := Blank(seq, captured, b.Dx(), b.Dy())
	if rgba, ok := img.(*image.RGBA); ok && rgba.Stride == 4*b.Dx() {
		for i, j := 0, 0; i < len(f.Pix); i, j = i+Channels, j+4 {
			f.Pix[i], f.Pix[i+1], f.Pix[i+2] = rgba.Pix[j+2], rgba.Pix[j+1], rgba.Pix[j]
		}
		return f
	}
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			r, g, bl, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			f.SetBGR(x, y, uint8(bl>>8), uint8(g>>8), uint8(r>>8))
		}
	}
	return f
}
