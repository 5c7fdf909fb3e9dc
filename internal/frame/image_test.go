package frame

import (
	"image"
	"image/color"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRGBA_SwapsChannelOrder(t *testing.T) {
	f := Blank(7, time.Unix(10, 0), 3, 2)
	f.SetBGR(1, 1, 10, 20, 30)

	img := f.RGBA()
	assert.Equal(t, color.RGBA{R: 30, G: 20, B: 10, A: 0xff}, img.RGBAAt(1, 1))
	assert.Equal(t, color.RGBA{A: 0xff}, img.RGBAAt(0, 0))

	back := FromImage(f.Seq, f.Captured, img)
	assert.Equal(t, f, back)
}

func TestFromImage_OffsetBounds(t *testing.T) {
	img := image.NewGray(image.Rect(5, 5, 7, 6))
	img.SetGray(6, 5, color.Gray{Y: 200})

	f := FromImage(1, time.Time{}, img)
	assert.Equal(t, 2, f.Width)
	assert.Equal(t, 1, f.Height)
	b, g, r := f.BGR(1, 0)
	assert.Equal(t, [3]uint8{200, 200, 200}, [3]uint8{b, g, r})
}
