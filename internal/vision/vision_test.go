package vision

import (
	"image"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/facefollow/internal/control"
	"github.com/banshee-data/facefollow/internal/filter"
	"github.com/banshee-data/facefollow/internal/frame"
	"github.com/banshee-data/facefollow/internal/timeutil"
)

func pattern(w, h int) *frame.Frame {
	f := frame.Blank(9, time.Unix(100, 0), w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			f.SetBGR(x, y, uint8(x), uint8(y), 40)
		}
	}
	return f
}

func TestMatRoundTrip(t *testing.T) {
	f := pattern(64, 48)
	m, err := ToMat(f)
	require.NoError(t, err)
	defer m.Close()
	assert.Equal(t, 64, m.Cols())
	assert.Equal(t, 48, m.Rows())

	back, err := FromMat(f.Seq, f.Captured, m)
	require.NoError(t, err)
	assert.Equal(t, f, back)
}

func TestResizer(t *testing.T) {
	f := pattern(960, 720)
	out, err := Resizer{Width: 400}.Process(f)
	require.NoError(t, err)
	assert.Equal(t, 400, out.Width)
	assert.Equal(t, 300, out.Height)
	assert.Equal(t, f.Seq, out.Seq)

	same, err := Resizer{Width: 960}.Process(f)
	require.NoError(t, err)
	assert.Same(t, f, same)

	_, err = Resizer{}.Process(f)
	assert.Error(t, err)
}

func TestAnnotator(t *testing.T) {
	f := frame.Blank(1, time.Time{}, 200, 160)
	box := image.Rect(130, 100, 170, 140)
	target := image.Pt(150, 120)

	out := Annotator{}.Annotate(f, control.Overlay{
		Center:  f.Center(),
		Target:  &target,
		Box:     &box,
		Verdict: filter.Accepted,
	})
	require.NotSame(t, f, out)
	assert.Equal(t, make([]byte, len(f.Pix)), f.Pix)

	b, g, r := out.BGR(100, 80)
	assert.Equal(t, [3]uint8{0, 0, 255}, [3]uint8{b, g, r}, "centre dot")
	b, g, r = out.BGR(150, 120)
	assert.Equal(t, [3]uint8{255, 0, 0}, [3]uint8{b, g, r}, "target dot")
}

func TestVideoWriterSink_LazyOpen(t *testing.T) {
	dir := t.TempDir()
	clock := timeutil.NewMockClock(time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC))
	v := NewVideoWriterSink(dir, clock)

	require.NoError(t, v.Close(), "close before any frame")
	_, err := os.Stat(filepath.Join(dir, "video_2024-05-01_09-30-00.mp4"))
	assert.True(t, os.IsNotExist(err))

	assert.Equal(t, "video", v.Name())
	if err := v.Write(pattern(320, 240)); err != nil {
		t.Skipf("no mp4v encoder available: %v", err)
	}
	assert.Equal(t, filepath.Join(dir, "video_2024-05-01_09-30-00.mp4"), v.Path())
	assert.Error(t, v.Write(pattern(160, 120)), "size change")
	require.NoError(t, v.Close())
}
