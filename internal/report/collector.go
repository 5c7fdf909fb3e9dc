// Package report charts a session's axis errors and stick commands, as PNG
// files at teardown and as a live HTML page.
package report

import (
	"sync"
	"time"

	"github.com/banshee-data/facefollow/internal/control"
	"github.com/banshee-data/facefollow/internal/monitoring"
)

var logf = monitoring.Prefixed("Report")

// DefaultCapacity bounds the collector at about five minutes at 30Hz.
const DefaultCapacity = 9000

// Point is one plotted iteration.
type Point struct {
	Seq       uint64
	At        time.Time
	Tracked   bool
	PanError  float64
	TiltError float64
	Lateral   int
	Vertical  int
}

// Collector is a tick sink keeping the most recent points.
type Collector struct {
	mu     sync.Mutex
	points []Point
	next   int
	full   bool
}

// NewCollector keeps up to capacity points; older points are overwritten.
func NewCollector(capacity int) *Collector {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Collector{points: make([]Point, capacity)}
}

func (c *Collector) Name() string { return "report" }

func (c *Collector) Write(t control.Tick) error {
	if t.Starved {
		return nil
	}
	c.Add(Point{
		Seq:       t.Seq,
		At:        t.At,
		Tracked:   t.Target != nil,
		PanError:  t.Errors.Pan,
		TiltError: t.Errors.Tilt,
		Lateral:   t.Command.Lateral,
		Vertical:  t.Command.Vertical,
	})
	return nil
}

func (c *Collector) Close() error { return nil }

// Add appends a point.
func (c *Collector) Add(p Point) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.points[c.next] = p
	c.next++
	if c.next == len(c.points) {
		c.next, c.full = 0, true
	}
}

// Points returns the retained points, oldest first.
func (c *Collector) Points() []Point {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.full {
		return append([]Point(nil), c.points[:c.next]...)
	}
	out := make([]Point, 0, len(c.points))
	out = append(out, c.points[c.next:]...)
	return append(out, c.points[:c.next]...)
}
