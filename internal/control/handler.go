package control

import (
	"context"
	"fmt"
	"image"
	"sort"

	"github.com/banshee-data/facefollow/internal/filter"
	"github.com/banshee-data/facefollow/internal/frame"
	"github.com/banshee-data/facefollow/internal/pid"
)

// Decision is a handler's verdict for one frame.
type Decision struct {
	Command Command
	// Frame is what gets published; usually an annotated copy.
	Frame   *frame.Frame
	Verdict filter.Verdict
	Target  *image.Point

	PanError   float64
	TiltError  float64
	PanOutput  float64
	TiltOutput float64
}

// Handler is the per-frame policy run by the loop. Init runs once before the
// first frame; Handle runs once per frame and must not block on I/O.
type Handler interface {
	Init(ctx context.Context, s *Session) error
	Handle(s *Session, f *frame.Frame) (Decision, error)
}

// Components are the collaborators a handler may use. Nil members fall back to
// identity behaviour; a follow handler requires a Detector.
type Components struct {
	Detector     Detector
	Preprocessor Preprocessor
	Annotator    Annotator
}

var handlers = map[string]func(Components) (Handler, error){
	"follow": func(c Components) (Handler, error) {
		if c.Detector == nil {
			return nil, fmt.Errorf("follow handler needs a detector")
		}
		return &FollowHandler{Components: c}, nil
	},
	"passthrough": func(c Components) (Handler, error) {
		return &PassthroughHandler{Components: c}, nil
	},
}

// HandlerNames lists the names accepted by NewHandler.
func HandlerNames() []string {
	names := make([]string, 0, len(handlers))
	for n := range handlers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// NewHandler returns the handler registered under name.
func NewHandler(name string, c Components) (Handler, error) {
	mk, ok := handlers[name]
	if !ok {
		return nil, fmt.Errorf("unknown handler %q (have %v)", name, HandlerNames())
	}
	return mk(c)
}

// takeoff lifts a flying session to working height.
func takeoff(ctx context.Context, s *Session) error {
	if !s.Config.Fly {
		logf("ground session, not taking off")
		return nil
	}
	if err := s.Transport.Takeoff(ctx); err != nil {
		return fmt.Errorf("takeoff: %w", err)
	}
	if cm := s.Config.TakeoffClimbCM; cm > 0 {
		if err := s.Transport.Move(ctx, Up, cm); err != nil {
			return fmt.Errorf("climb %dcm: %w", cm, err)
		}
	}
	return nil
}

func (c Components) preprocess(f *frame.Frame) (*frame.Frame, error) {
	if c.Preprocessor == nil {
		return f, nil
	}
	return c.Preprocessor.Process(f)
}

func (c Components) annotate(f *frame.Frame, o Overlay) *frame.Frame {
	if c.Annotator == nil {
		return f
	}
	return c.Annotator.Annotate(f, o)
}

// FollowHandler keeps the detected target centred.
type FollowHandler struct {
	Components

	pan    *pid.Controller
	tilt   *pid.Controller
	filter *filter.Filter
}

// Init builds and initialises both axis controllers and the sample filter,
// then takes off if the session flies.
func (h *FollowHandler) Init(ctx context.Context, s *Session) error {
	cfg := s.Config
	h.pan = pid.New(cfg.Pan, cfg.NominalTick, s.Clock)
	h.tilt = pid.New(cfg.Tilt, cfg.NominalTick, s.Clock)
	h.filter = filter.New(cfg.JitterThreshold)
	h.pan.Initialize()
	h.tilt.Initialize()
	return takeoff(ctx, s)
}

// Handle implements one tracking step. Preprocessing and detection failures
// are missed samples, never errors.
func (h *FollowHandler) Handle(s *Session, raw *frame.Frame) (Decision, error) {
	f, err := h.preprocess(raw)
	if err != nil {
		logf("frame %d: preprocess: %v", raw.Seq, err)
		return Decision{Command: Hover, Frame: raw, Verdict: h.filter.Classify(nil)}, nil
	}
	det, err := h.Detector.Detect(f)
	if err != nil {
		logf("frame %d: detect: %v", f.Seq, err)
		det = nil
	}

	center := f.Center()
	d := Decision{Command: Hover, Verdict: h.filter.Classify(frame.CenterOf(det))}
	o := Overlay{Center: center, Verdict: d.Verdict}
	if det != nil {
		o.Target, o.Box = frame.CenterOf(det), det.Box
	}

	if d.Verdict == filter.Accepted {
		d.Target = frame.CenterOf(det)
		d.PanError = float64(center.X - det.Center.X)
		d.TiltError = float64(center.Y - det.Center.Y)
		d.PanOutput = h.pan.Update(d.PanError)
		d.TiltOutput = h.tilt.Update(d.TiltError)
		if s.Config.Track {
			d.Command = s.Config.Mapping.Map(d.PanOutput, d.TiltOutput)
		}
		o.PanError, o.TiltError, o.Command = d.PanError, d.TiltError, d.Command
	}

	d.Frame = h.annotate(f, o)
	return d, nil
}

// FilterStats exposes the sample filter counters.
func (h *FollowHandler) FilterStats() filter.Stats {
	if h.filter == nil {
		return filter.Stats{}
	}
	return h.filter.Stats()
}

// PassthroughHandler never steers: it holds a hover and publishes the
// preprocessed frame, leaving the operator in charge through the keyboard.
type PassthroughHandler struct {
	Components
}

func (h *PassthroughHandler) Init(ctx context.Context, s *Session) error {
	return takeoff(ctx, s)
}

func (h *PassthroughHandler) Handle(s *Session, raw *frame.Frame) (Decision, error) {
	f, err := h.preprocess(raw)
	if err != nil {
		logf("frame %d: preprocess: %v", raw.Seq, err)
		f = raw
	}
	return Decision{
		Command: Hover,
		Frame:   h.annotate(f, Overlay{Center: f.Center(), Verdict: filter.Missing}),
		Verdict: filter.Missing,
	}, nil
}
