// Package synthetic renders a moving bright target and finds it again, so the
// control loop can run end to end without a drone or OpenCV models.
package synthetic

import (
	"errors"
	"image"
	"math"
	"sync"
	"time"

	"github.com/banshee-data/facefollow/internal/frame"
	"github.com/banshee-data/facefollow/internal/timeutil"
)

// ErrClosed is returned by Latest after Close.
var ErrClosed = errors.New("synthetic: scene closed")

// SceneConfig sizes the scene and its motion.
type SceneConfig struct {
	Width, Height int
	// Radius of the bright disc in pixels.
	Radius int
	// Period is the time for one full figure-eight.
	Period time.Duration
	// FrameInterval is the simulated camera rate; Latest repeats the
	// previous frame until it has elapsed.
	FrameInterval time.Duration
}

// DefaultSceneConfig matches the drone's 960x720 stream at 30fps.
func DefaultSceneConfig() SceneConfig {
	return SceneConfig{
		Width:         960,
		Height:        720,
		Radius:        40,
		Period:        8 * time.Second,
		FrameInterval: 33 * time.Millisecond,
	}
}

// Scene is a frame source showing a bright disc tracing a figure-eight over a
// dark gradient.
type Scene struct {
	cfg   SceneConfig
	clock timeutil.Clock
	start time.Time

	mu     sync.Mutex
	seq    uint64
	last   *frame.Frame
	lastAt time.Time
	closed bool
}

// NewScene starts the motion at the clock's current time. Unset config
// fields take their defaults.
func NewScene(cfg SceneConfig, clock timeutil.Clock) *Scene {
	def := DefaultSceneConfig()
	if cfg.Width <= 0 || cfg.Height <= 0 {
		cfg.Width, cfg.Height = def.Width, def.Height
	}
	if cfg.Radius <= 0 {
		cfg.Radius = def.Radius
	}
	if cfg.Period <= 0 {
		cfg.Period = def.Period
	}
	if cfg.FrameInterval <= 0 {
		cfg.FrameInterval = def.FrameInterval
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Scene{cfg: cfg, clock: clock, start: clock.Now()}
}

// TargetAt is the disc centre after elapsed.
func (s *Scene) TargetAt(elapsed time.Duration) image.Point {
	phase := 2 * math.Pi * float64(elapsed) / float64(s.cfg.Period)
	ax := float64(s.cfg.Width)/2 - float64(s.cfg.Radius) - 10
	ay := float64(s.cfg.Height)/2 - float64(s.cfg.Radius) - 10
	return image.Pt(
		s.cfg.Width/2+int(ax*0.8*math.Sin(phase)),
		s.cfg.Height/2+int(ay*0.6*math.Sin(2*phase)),
	)
}

// Latest renders a new frame once per FrameInterval and otherwise returns the
// previous one again.
func (s *Scene) Latest() (*frame.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	now := s.clock.Now()
	if s.last != nil && now.Sub(s.lastAt) < s.cfg.FrameInterval {
		return s.last, nil
	}
	s.seq++
	s.last = s.render(s.seq, now)
	s.lastAt = now
	return s.last, nil
}

func (s *Scene) render(seq uint64, now time.Time) *frame.Frame {
	w, h := s.cfg.Width, s.cfg.Height
	f := frame.Blank(seq, now, w, h)
	for y := 0; y < h; y++ {
		shade := uint8(20 + 60*y/h)
		for x := 0; x < w; x++ {
			f.SetBGR(x, y, shade, shade/2, shade/3)
		}
	}

	c := s.TargetAt(now.Sub(s.start))
	r := s.cfg.Radius
	area := image.Rect(c.X-r, c.Y-r, c.X+r+1, c.Y+r+1).Intersect(f.Bounds())
	for y := area.Min.Y; y < area.Max.Y; y++ {
		for x := area.Min.X; x < area.Max.X; x++ {
			dx, dy := x-c.X, y-c.Y
			if dx*dx+dy*dy <= r*r {
				f.SetBGR(x, y, 250, 250, 250)
			}
		}
	}
	return f
}

// Close stops the scene.
func (s *Scene) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
