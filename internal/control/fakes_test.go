package control

import (
	"context"
	"errors"
	"image"
	"sync"
	"time"

	"github.com/banshee-data/facefollow/internal/frame"
	"github.com/banshee-data/facefollow/internal/timeutil"
)

type move struct {
	Dir    Direction
	Amount int
}

// fakeTransport replays a script of frames and records everything sent.
type fakeTransport struct {
	mu       sync.Mutex
	frames   []*frame.Frame
	frameErr error
	sendErr  error
	calls    []string
	commands []Command
	moves    []move
}

func (t *fakeTransport) record(c string) {
	t.mu.Lock()
	t.calls = append(t.calls, c)
	t.mu.Unlock()
}

func (t *fakeTransport) Connect(context.Context) error { t.record("connect"); return nil }
func (t *fakeTransport) Takeoff(context.Context) error { t.record("takeoff"); return nil }
func (t *fakeTransport) Land(context.Context) error    { t.record("land"); return nil }

func (t *fakeTransport) SetVideoStream(_ context.Context, on bool) error {
	if on {
		t.record("streamon")
	} else {
		t.record("streamoff")
	}
	return nil
}

// LatestFrame pops the next scripted frame; the last one is returned
// repeatedly, like a transport that has nothing newer.
func (t *fakeTransport) LatestFrame() (*frame.Frame, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.frameErr != nil {
		return nil, t.frameErr
	}
	if len(t.frames) == 0 {
		return nil, nil
	}
	f := t.frames[0]
	if len(t.frames) > 1 {
		t.frames = t.frames[1:]
	}
	return f, nil
}

func (t *fakeTransport) SendVelocity(cmd Command) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sendErr != nil {
		return t.sendErr
	}
	t.commands = append(t.commands, cmd)
	return nil
}

func (t *fakeTransport) Move(_ context.Context, dir Direction, amount int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.moves = append(t.moves, move{dir, amount})
	return nil
}

func (t *fakeTransport) sent() []Command {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Command(nil), t.commands...)
}

// scriptedDetector answers from a list of centres; a nil entry is a miss.
type scriptedDetector struct {
	centres []*image.Point
	err     error
	i       int
}

func (d *scriptedDetector) Detect(*frame.Frame) (*frame.Detection, error) {
	if d.err != nil {
		return nil, d.err
	}
	if d.i >= len(d.centres) {
		return nil, nil
	}
	c := d.centres[d.i]
	d.i++
	if c == nil {
		return nil, nil
	}
	return &frame.Detection{Center: *c}, nil
}

type failingPreprocessor struct{}

func (failingPreprocessor) Process(*frame.Frame) (*frame.Frame, error) {
	return nil, errors.New("corrupt frame")
}

type framesSink struct {
	mu  sync.Mutex
	got []*frame.Frame
}

func (s *framesSink) Publish(f *frame.Frame) {
	s.mu.Lock()
	s.got = append(s.got, f)
	s.mu.Unlock()
}

type ticksSink struct{ got []Tick }

func (s *ticksSink) Publish(t Tick) { s.got = append(s.got, t) }

func pt(x, y int) *image.Point {
	p := image.Pt(x, y)
	return &p
}

var epoch = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func frames(n int) []*frame.Frame {
	out := make([]*frame.Frame, n)
	for i := range out {
		out[i] = frame.Blank(uint64(i+1), epoch, 400, 300)
	}
	return out
}

// newTestLoop wires a follow handler over a fake transport with a mock clock.
func newTestLoop(cfg Config, det Detector, fr []*frame.Frame) (*Loop, *fakeTransport, *timeutil.MockClock, *ticksSink, *framesSink) {
	tr := &fakeTransport{frames: fr}
	clock := timeutil.NewMockClock(epoch)
	s := NewSession(cfg, tr, clock)
	ticks, pubs := &ticksSink{}, &framesSink{}
	s.Ticks, s.Frames = ticks, pubs
	h, err := NewHandler("follow", Components{Detector: det})
	if err != nil {
		panic(err)
	}
	return NewLoop(s, h), tr, clock, ticks, pubs
}

func flyingConfig() Config {
	cfg := DefaultConfig()
	cfg.Fly = true
	return cfg
}
