package control

import (
	"context"
	"errors"
	"image"
	"sync"
	"sync/atomic"

	"github.com/banshee-data/facefollow/internal/filter"
	"github.com/banshee-data/facefollow/internal/frame"
)

// ErrTransportFatal is wrapped by transport errors the loop cannot recover
// from, such as a lost connection. Run returns them so the session tears down.
var ErrTransportFatal = errors.New("transport failure")

// IsFatal reports whether err should end the session.
func IsFatal(err error) bool { return errors.Is(err, ErrTransportFatal) }

// Transport is the platform link. LatestFrame never blocks: it returns nil
// when no frame has arrived yet and may return the same frame twice.
type Transport interface {
	Connect(ctx context.Context) error
	Takeoff(ctx context.Context) error
	Land(ctx context.Context) error
	SetVideoStream(ctx context.Context, on bool) error
	LatestFrame() (*frame.Frame, error)
	SendVelocity(cmd Command) error
	Move(ctx context.Context, dir Direction, amount int) error
}

// Detector finds at most one target in a frame. A nil detection with a nil
// error means nothing was found.
type Detector interface {
	Detect(f *frame.Frame) (*frame.Detection, error)
}

// Preprocessor prepares a raw transport frame for detection, e.g. by resizing.
type Preprocessor interface {
	Process(f *frame.Frame) (*frame.Frame, error)
}

// Overlay is what an Annotator draws on a tracked frame.
type Overlay struct {
	Center    image.Point
	Target    *image.Point
	Box       *image.Rectangle
	Verdict   filter.Verdict
	PanError  float64
	TiltError float64
	Command   Command
}

// Annotator returns a copy of f with the overlay drawn. It must not modify f.
type Annotator interface {
	Annotate(f *frame.Frame, o Overlay) *frame.Frame
}

// MotionGate wraps a Transport so that movement can be cut off once teardown
// starts. After Halt, SendVelocity and Move are silently suppressed; Hover
// still reaches the platform.
type MotionGate struct {
	Transport

	mu         sync.Mutex
	halted     bool
	suppressed atomic.Uint64
}

// NewMotionGate wraps t.
func NewMotionGate(t Transport) *MotionGate {
	return &MotionGate{Transport: t}
}

// Halt stops all further movement. When it returns no movement command is in
// flight.
func (g *MotionGate) Halt() {
	g.mu.Lock()
	g.halted = true
	g.mu.Unlock()
}

// Halted reports whether Halt was called.
func (g *MotionGate) Halted() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.halted
}

// Suppressed counts movement commands dropped after Halt.
func (g *MotionGate) Suppressed() uint64 { return g.suppressed.Load() }

func (g *MotionGate) SendVelocity(cmd Command) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.halted {
		g.suppressed.Add(1)
		return nil
	}
	return g.Transport.SendVelocity(cmd)
}

func (g *MotionGate) Move(ctx context.Context, dir Direction, amount int) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.halted {
		g.suppressed.Add(1)
		return nil
	}
	return g.Transport.Move(ctx, dir, amount)
}

// Hover sends the neutral command regardless of Halt.
func (g *MotionGate) Hover() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.Transport.SendVelocity(Hover)
}
