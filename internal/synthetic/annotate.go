package synthetic

import (
	"fmt"
	"image"
	"image/color"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/banshee-data/facefollow/internal/control"
	"github.com/banshee-data/facefollow/internal/filter"
	"github.com/banshee-data/facefollow/internal/frame"
)

var (
	boxAccepted = color.RGBA{G: 0xff, A: 0xff}
	boxRejected = color.RGBA{R: 0xff, A: 0xff}
	crossColour = color.RGBA{B: 0xff, G: 0x80, A: 0xff}
	textColour  = color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}
)

// Annotator draws the overlay in pure Go with the 7x13 bitmap font.
type Annotator struct{}

func (Annotator) Annotate(f *frame.Frame, o control.Overlay) *frame.Frame {
	img := f.RGBA()

	cross(img, o.Center, 8, crossColour)
	if o.Box != nil {
		c := boxAccepted
		if o.Verdict != filter.Accepted {
			c = boxRejected
		}
		rect(img, *o.Box, c)
	}
	if o.Target != nil {
		line(img, o.Center, *o.Target, crossColour)
	}

	d := font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(textColour),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(4, 14),
	}
	d.DrawString(o.Verdict.String())
	d.Dot = fixed.P(4, 28)
	d.DrawString(fmt.Sprintf("pan %.0f tilt %.0f", o.PanError, o.TiltError))
	d.Dot = fixed.P(4, 42)
	d.DrawString(o.Command.String())

	return frame.FromImage(f.Seq, f.Captured, img)
}

func rect(img *image.RGBA, r image.Rectangle, c color.RGBA) {
	line(img, r.Min, image.Pt(r.Max.X-1, r.Min.Y), c)
	line(img, image.Pt(r.Max.X-1, r.Min.Y), image.Pt(r.Max.X-1, r.Max.Y-1), c)
	line(img, image.Pt(r.Max.X-1, r.Max.Y-1), image.Pt(r.Min.X, r.Max.Y-1), c)
	line(img, image.Pt(r.Min.X, r.Max.Y-1), r.Min, c)
}

func cross(img *image.RGBA, p image.Point, size int, c color.RGBA) {
	line(img, image.Pt(p.X-size, p.Y), image.Pt(p.X+size, p.Y), c)
	line(img, image.Pt(p.X, p.Y-size), image.Pt(p.X, p.Y+size), c)
}

// line is Bresenham; SetRGBA ignores points outside the image.
func line(img *image.RGBA, a, b image.Point, c color.RGBA) {
	dx, dy := abs(b.X-a.X), -abs(b.Y-a.Y)
	sx, sy := 1, 1
	if a.X > b.X {
		sx = -1
	}
	if a.Y > b.Y {
		sy = -1
	}
	e := dx + dy
	for {
		img.SetRGBA(a.X, a.Y, c)
		if a == b {
			return
		}
		e2 := 2 * e
		if e2 >= dy {
			e += dy
			a.X += sx
		}
		if e2 <= dx {
			e += dx
			a.Y += sy
		}
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
