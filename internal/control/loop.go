// Package control runs the per-frame tracking loop: it pulls frames from the
// platform, asks a Handler for a decision, issues the resulting velocity
// command and publishes the frame and a telemetry tick.
package control

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/facefollow/internal/filter"
	"github.com/banshee-data/facefollow/internal/lifecycle"
	"github.com/banshee-data/facefollow/internal/monitoring"
)

var logf = monitoring.Prefixed("Control")

// State is the loop's position within one iteration.
type State int32

const (
	Idle State = iota
	AwaitingFrame
	Detecting
	Rejected
	Tracking
	Commanding
	Stopped
)

var stateNames = [...]string{"idle", "awaiting_frame", "detecting", "rejected", "tracking", "commanding", "stopped"}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// MarshalText renders the state name in JSON.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *State) UnmarshalText(b []byte) error {
	for i, n := range stateNames {
		if n == string(b) {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("unknown loop state %q", b)
}

// Tick is the telemetry record of one iteration.
type Tick struct {
	Session  uuid.UUID     `json:"session"`
	Seq      uint64        `json:"seq"`
	FrameSeq uint64        `json:"frame_seq"`
	At       time.Time     `json:"at"`
	State    State         `json:"state"`
	Verdict  string        `json:"verdict"`
	Starved  bool          `json:"starved,omitempty"`
	Target   *image.Point  `json:"target,omitempty"`
	Command  Command       `json:"command"`
	Issued   bool          `json:"issued"`
	Latency  time.Duration `json:"latency"`
	Errors   ErrorReadout  `json:"errors"`
}

// ErrorReadout carries the per-axis error and raw controller output.
type ErrorReadout struct {
	Pan        float64 `json:"pan"`
	Tilt       float64 `json:"tilt"`
	PanOutput  float64 `json:"pan_output"`
	TiltOutput float64 `json:"tilt_output"`
}

// Stats is a snapshot of the loop counters.
type Stats struct {
	State         State   `json:"state"`
	Suspended     bool    `json:"suspended"`
	Iterations    uint64  `json:"iterations"`
	Tracked       uint64  `json:"tracked"`
	Rejected      uint64  `json:"rejected"`
	Starved       uint64  `json:"starved"`
	Duplicates    uint64  `json:"duplicates"`
	Commands      uint64  `json:"commands"`
	CommandErrors uint64  `json:"command_errors"`
	LatencyMeanMS float64 `json:"latency_mean_ms"`
	LatencyStdMS  float64 `json:"latency_std_ms"`
	LatencyMaxMS  float64 `json:"latency_max_ms"`
}

// latencyWindow is how many recent iterations feed the latency figures.
const latencyWindow = 256

// duplicatePoll is how long the loop waits before asking again when the
// transport still holds the frame it already processed.
const duplicatePoll = 5 * time.Millisecond

// staleTicks is how many nominal ticks a steering command may stay in force
// while the transport keeps returning the same frame.
const staleTicks = 3

// Loop drives one session. Run must be called at most once.
type Loop struct {
	session *Session
	handler Handler

	state     atomic.Int32
	suspended atomic.Bool

	seq      uint64
	lastSeen uint64
	seen     bool
	frameAt  time.Time
	sentAt   time.Time

	mu        sync.Mutex
	stats     Stats
	latencies []float64
	next      int
}

// NewLoop binds a handler to a session.
func NewLoop(s *Session, h Handler) *Loop {
	return &Loop{session: s, handler: h, latencies: make([]float64, 0, latencyWindow)}
}

// State returns the current state. Safe to call from any goroutine.
func (l *Loop) State() State { return State(l.state.Load()) }

func (l *Loop) setState(s State) { l.state.Store(int32(s)) }

// Suspended reports whether the handler is paused.
func (l *Loop) Suspended() bool { return l.suspended.Load() }

// Start brings the platform up: connect, handler Init (takeoff when flying),
// video on, then wait up to WarmUp for the first frame.
func (l *Loop) Start(ctx context.Context) error {
	s := l.session
	if err := s.Transport.Connect(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	if err := l.handler.Init(ctx, s); err != nil {
		return fmt.Errorf("init handler: %w", err)
	}
	if err := s.Transport.SetVideoStream(ctx, true); err != nil {
		return fmt.Errorf("stream on: %w", err)
	}

	deadline := s.Clock.Now().Add(s.Config.WarmUp)
	for s.Clock.Now().Before(deadline) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		f, err := s.Transport.LatestFrame()
		if err != nil && IsFatal(err) {
			return err
		}
		if f != nil {
			logf("first frame %dx%d after warm-up", f.Width, f.Height)
			return nil
		}
		s.Clock.Sleep(50 * time.Millisecond)
	}
	logf("no frame within %v; continuing, the loop will hover until video arrives", s.Config.WarmUp)
	return nil
}

// Run iterates until ctx is cancelled, the operator quits, or the transport
// fails fatally. Cancellation returns nil. Start must have succeeded first.
func (l *Loop) Run(ctx context.Context) error {
	defer l.setState(Stopped)
	for {
		if ctx.Err() != nil {
			return nil
		}
		if err := l.handleKeys(ctx); err != nil {
			return err
		}
		if err := l.iterate(ctx); err != nil {
			return err
		}
	}
}

func (l *Loop) handleKeys(ctx context.Context) error {
	s := l.session
	for {
		var k Key
		select {
		case k = <-s.Keys:
		default:
			return nil
		}

		switch k {
		case KeyEsc:
			return fmt.Errorf("escape pressed: %w", lifecycle.ErrUserQuit)
		case KeyLand:
			return fmt.Errorf("land pressed: %w", lifecycle.ErrUserQuit)
		case KeySuspend:
			now := !l.suspended.Load()
			l.suspended.Store(now)
			logf("handler suspended=%v", now)
		default:
			dir, ok := MoveFor(k)
			if !ok || !s.Config.Fly {
				continue
			}
			if err := s.Transport.Move(ctx, dir, s.Config.MoveStepCM); err != nil {
				if IsFatal(err) {
					return err
				}
				logf("move %s %d: %v", dir, s.Config.MoveStepCM, err)
			}
		}
	}
}

func (l *Loop) iterate(ctx context.Context) error {
	s := l.session
	start := s.Clock.Now()
	l.setState(AwaitingFrame)

	f, err := s.Transport.LatestFrame()
	if err != nil {
		if IsFatal(err) {
			return err
		}
		logf("read frame: %v", err)
		f = nil
	}

	if f == nil {
		return l.starve(start)
	}
	if l.seen && f.Seq == l.lastSeen {
		return l.duplicate()
	}
	l.seen, l.lastSeen, l.frameAt = true, f.Seq, start

	var d Decision
	if l.suspended.Load() {
		d = Decision{Command: Hover, Frame: f, Verdict: filter.Missing}
	} else {
		l.setState(Detecting)
		d, err = l.handler.Handle(s, f)
		if err != nil {
			if IsFatal(err) {
				return err
			}
			logf("frame %d: handler: %v", f.Seq, err)
			d = Decision{Command: Hover, Frame: f, Verdict: filter.Missing}
		}
		if d.Verdict == filter.Accepted {
			l.setState(Tracking)
		} else {
			l.setState(Rejected)
			d.Command = Hover
		}
	}
	if d.Frame == nil {
		d.Frame = f
	}

	l.setState(Commanding)
	issued, err := l.send(d.Command)
	if err != nil {
		return err
	}

	if s.Frames != nil {
		s.Frames.Publish(d.Frame)
	}
	l.finish(Tick{
		FrameSeq: f.Seq,
		Verdict:  d.Verdict.String(),
		Target:   d.Target,
		Command:  d.Command,
		Issued:   issued,
		Errors: ErrorReadout{
			Pan: d.PanError, Tilt: d.TiltError,
			PanOutput: d.PanOutput, TiltOutput: d.TiltOutput,
		},
	}, start)
	return nil
}

// starve holds a hover and backs off until the transport has a frame again.
func (l *Loop) starve(start time.Time) error {
	s := l.session
	issued, err := l.send(Hover)
	if err != nil {
		return err
	}
	l.finish(Tick{Starved: true, Verdict: "starved", Issued: issued}, start)
	s.Clock.Sleep(s.Config.StarveBackoff)
	return nil
}

// duplicate waits for a newer frame than the one already processed. Hover is
// re-issued once per nominal tick while the handler is not steering, and
// once the last steering command is staleTicks ticks old.
func (l *Loop) duplicate() error {
	s := l.session
	l.mu.Lock()
	l.stats.Duplicates++
	l.mu.Unlock()
	s.Clock.Sleep(duplicatePoll)

	steering := s.Config.Track && !l.suspended.Load()
	if steering && s.Clock.Since(l.frameAt) < staleTicks*s.Config.NominalTick {
		return nil
	}
	if s.Clock.Since(l.sentAt) < s.Config.NominalTick {
		return nil
	}
	_, err := l.send(Hover)
	return err
}

// send issues cmd when the session flies. Only fatal errors are returned.
func (l *Loop) send(cmd Command) (bool, error) {
	s := l.session
	if !s.Config.Fly {
		return false, nil
	}
	l.sentAt = s.Clock.Now()
	err := s.Transport.SendVelocity(cmd.Clamp())
	l.mu.Lock()
	if err != nil {
		l.stats.CommandErrors++
	} else {
		l.stats.Commands++
	}
	l.mu.Unlock()
	if err != nil {
		if IsFatal(err) {
			return false, err
		}
		logf("send %s: %v", cmd, err)
		return false, nil
	}
	return true, nil
}

func (l *Loop) finish(t Tick, start time.Time) {
	s := l.session
	l.seq++
	t.Session = s.ID
	t.Seq = l.seq
	t.At = start
	t.State = l.State()
	t.Latency = s.Clock.Since(start)

	l.mu.Lock()
	l.stats.Iterations++
	switch {
	case t.Starved:
		l.stats.Starved++
	case t.Verdict == filter.Accepted.String():
		l.stats.Tracked++
	default:
		l.stats.Rejected++
	}
	ms := float64(t.Latency) / float64(time.Millisecond)
	if len(l.latencies) < latencyWindow {
		l.latencies = append(l.latencies, ms)
	} else {
		l.latencies[l.next] = ms
		l.next = (l.next + 1) % latencyWindow
	}
	l.mu.Unlock()

	if s.Ticks != nil {
		s.Ticks.Publish(t)
	}
}

// Stats returns a snapshot of the counters and recent latency.
func (l *Loop) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	st := l.stats
	st.State = l.State()
	st.Suspended = l.suspended.Load()
	if n := len(l.latencies); n > 0 {
		st.LatencyMeanMS, st.LatencyStdMS = stat.MeanStdDev(l.latencies, nil)
		if n == 1 {
			st.LatencyStdMS = 0
		}
		for _, v := range l.latencies {
			if v > st.LatencyMaxMS {
				st.LatencyMaxMS = v
			}
		}
	}
	return st
}

// ExitReason classifies the error returned by Run for logging and the
// flight log.
func ExitReason(err error) string {
	switch {
	case err == nil:
		return "stopped"
	case errors.Is(err, lifecycle.ErrUserQuit):
		return "user_quit"
	case errors.Is(err, lifecycle.ErrInterrupted):
		return "interrupted"
	case IsFatal(err):
		return "transport_fatal"
	default:
		return "error"
	}
}
