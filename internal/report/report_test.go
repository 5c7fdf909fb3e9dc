package report

import (
	"bytes"
	"image"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/facefollow/internal/control"
)

func tick(seq uint64, tracked bool) control.Tick {
	t := control.Tick{
		Seq:     seq,
		At:      time.Unix(0, int64(seq)*int64(33*time.Millisecond)),
		Command: control.Command{Lateral: int(seq), Vertical: -int(seq)},
		Errors:  control.ErrorReadout{Pan: float64(seq) * 2, Tilt: -float64(seq)},
	}
	if tracked {
		t.Target = &image.Point{X: 10, Y: 20}
	}
	return t
}

func TestCollectorWrapsOldestFirst(t *testing.T) {
	c := NewCollector(3)
	assert.Empty(t, c.Points())
	for i := uint64(1); i <= 5; i++ {
		require.NoError(t, c.Write(tick(i, true)))
	}
	pts := c.Points()
	require.Len(t, pts, 3)
	assert.Equal(t, []uint64{3, 4, 5}, []uint64{pts[0].Seq, pts[1].Seq, pts[2].Seq})
	assert.Equal(t, 10.0, pts[2].PanError)
	assert.Equal(t, -5, pts[2].Vertical)
}

func TestCollectorSkipsStarvedTicks(t *testing.T) {
	c := NewCollector(0)
	starved := tick(1, false)
	starved.Starved = true
	require.NoError(t, c.Write(starved))
	require.NoError(t, c.Write(tick(2, false)))
	pts := c.Points()
	require.Len(t, pts, 1)
	assert.False(t, pts[0].Tracked)
	assert.Equal(t, "report", c.Name())
	assert.NoError(t, c.Close())
}

func TestSavePlots(t *testing.T) {
	dir := t.TempDir()
	c := NewCollector(100)
	for i := uint64(0); i < 40; i++ {
		_ = c.Write(tick(i, i%5 != 0))
	}
	paths, err := SavePlots(c.Points(), dir, "session")
	require.NoError(t, err)
	require.Len(t, paths, 2)
	for _, p := range paths {
		st, err := os.Stat(p)
		require.NoError(t, err)
		assert.Greater(t, st.Size(), int64(0))
	}
}

func TestSavePlotsEmptySession(t *testing.T) {
	paths, err := SavePlots(nil, t.TempDir(), "empty")
	require.NoError(t, err)
	assert.Nil(t, paths)
}

func TestRenderChart(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, RenderChart(&buf, []Point{{Seq: 1, Tracked: true, PanError: 12}, {Seq: 2}}, "two"))
	html := buf.String()
	assert.Contains(t, html, "Axis error (px)")
	assert.Contains(t, html, "Stick command")
	assert.Contains(t, html, "echarts.min.js")
}

func TestHandlerLastN(t *testing.T) {
	c := NewCollector(10)
	for i := uint64(0); i < 10; i++ {
		_ = c.Write(tick(i, true))
	}
	req := httptest.NewRequest(http.MethodGet, "/debug/errors-chart?last=4", nil)
	rec := httptest.NewRecorder()
	Handler(c).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "4 iterations")
}
