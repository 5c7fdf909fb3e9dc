package tello

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/banshee-data/facefollow/internal/control"
	"github.com/banshee-data/facefollow/internal/frame"
)

// Commander is the part of CommandMux the drone needs.
type Commander interface {
	SendCommand(command string) error
	Exec(ctx context.Context, command string, timeout time.Duration) (string, error)
}

// FrameSource yields the most recent decoded video frame without blocking.
type FrameSource interface {
	Latest() (*frame.Frame, error)
	Close() error
}

// Config holds command timeouts and the watchdog interval.
type Config struct {
	CommandTimeout time.Duration
	TakeoffTimeout time.Duration
	MoveTimeout    time.Duration
	// StateTimeout is the watchdog interval; zero disables it.
	StateTimeout   time.Duration
	ConnectRetries int
}

// DefaultConfig matches the SDK's documented response times.
func DefaultConfig() Config {
	return Config{
		CommandTimeout: 7 * time.Second,
		TakeoffTimeout: 20 * time.Second,
		MoveTimeout:    10 * time.Second,
		StateTimeout:   5 * time.Second,
		ConnectRetries: 3,
	}
}

// Drone implements control.Transport over the SDK.
type Drone struct {
	cmd   Commander
	state *StateListener
	video FrameSource
	cfg   Config

	battery  atomic.Int32
	flying   atomic.Bool
	streamOn atomic.Bool
}

var _ control.Transport = (*Drone)(nil)

// NewDrone wires a command channel, an optional state listener (the
// watchdog) and an optional video source.
func NewDrone(cmd Commander, state *StateListener, video FrameSource, cfg Config) *Drone {
	d := &Drone{cmd: cmd, state: state, video: video, cfg: cfg}
	d.battery.Store(-1)
	return d
}

// Connect enters SDK mode and reads the battery level.
func (d *Drone) Connect(ctx context.Context) error {
	var err error
	attempts := max(d.cfg.ConnectRetries, 1)
	for i := 0; i < attempts; i++ {
		if _, err = d.cmd.Exec(ctx, "command", d.cfg.CommandTimeout); err == nil {
			break
		}
		if ctx.Err() != nil {
			return err
		}
		logf("connect attempt %d/%d: %v", i+1, attempts, err)
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConnectionLost, err)
	}
	if pct, err := d.Battery(ctx); err == nil {
		logf("connected, battery %d%%", pct)
	} else {
		logf("connected, battery unknown: %v", err)
	}
	return nil
}

// Takeoff marks the drone as flying before the command is sent: a lost or
// interrupted reply still leaves it airborne, and only a confirmed Land
// clears the flag.
func (d *Drone) Takeoff(ctx context.Context) error {
	d.flying.Store(true)
	_, err := d.cmd.Exec(ctx, "takeoff", d.cfg.TakeoffTimeout)
	return err
}

func (d *Drone) Land(ctx context.Context) error {
	if _, err := d.cmd.Exec(ctx, "land", d.cfg.TakeoffTimeout); err != nil {
		return err
	}
	d.flying.Store(false)
	return nil
}

func (d *Drone) SetVideoStream(ctx context.Context, on bool) error {
	command := "streamoff"
	if on {
		command = "streamon"
	}
	if _, err := d.cmd.Exec(ctx, command, d.cfg.CommandTimeout); err != nil {
		return err
	}
	d.streamOn.Store(on)
	return nil
}

// LatestFrame returns the newest decoded frame, or ErrConnectionLost once the
// watchdog has expired.
func (d *Drone) LatestFrame() (*frame.Frame, error) {
	if err := d.alive(); err != nil {
		return nil, err
	}
	if d.video == nil {
		return nil, nil
	}
	return d.video.Latest()
}

// SendVelocity issues the rc stick command. It is not acknowledged.
func (d *Drone) SendVelocity(cmd control.Command) error {
	if err := d.alive(); err != nil {
		return err
	}
	if err := d.cmd.SendCommand(cmd.Clamp().String()); err != nil {
		return fmt.Errorf("%s: %w: %v", cmd, ErrConnectionLost, err)
	}
	return nil
}

// Move issues a discrete move. Distances are 20-500cm, rotations 1-360°.
func (d *Drone) Move(ctx context.Context, dir control.Direction, amount int) error {
	lo, hi := 20, 500
	if dir == control.Clockwise || dir == control.CounterClockwise {
		lo, hi = 1, 360
	}
	if amount < lo || amount > hi {
		return fmt.Errorf("%s %d: amount outside [%d, %d]", dir, amount, lo, hi)
	}
	_, err := d.cmd.Exec(ctx, fmt.Sprintf("%s %d", dir, amount), d.cfg.MoveTimeout)
	return err
}

// Battery queries the battery percentage.
func (d *Drone) Battery(ctx context.Context) (int, error) {
	resp, err := d.cmd.Exec(ctx, "battery?", d.cfg.CommandTimeout)
	if err != nil {
		return 0, err
	}
	pct, err := strconv.Atoi(resp)
	if err != nil {
		return 0, fmt.Errorf("battery?: unexpected response %q", resp)
	}
	d.battery.Store(int32(pct))
	return pct, nil
}

func (d *Drone) alive() error {
	if d.state == nil || d.cfg.StateTimeout <= 0 {
		return nil
	}
	return d.state.Check(d.cfg.StateTimeout)
}

// Status is a snapshot for the status API.
type Status struct {
	Flying   bool   `json:"flying"`
	StreamOn bool   `json:"stream_on"`
	Battery  int    `json:"battery"`
	Link     string `json:"link"`
	State    *State `json:"state,omitempty"`
}

// Status reports link health and the most recent telemetry. Battery prefers
// the state stream over the last battery? answer.
func (d *Drone) Status() Status {
	st := Status{
		Flying:   d.flying.Load(),
		StreamOn: d.streamOn.Load(),
		Battery:  int(d.battery.Load()),
		Link:     "ok",
	}
	if err := d.alive(); err != nil {
		st.Link = "lost"
		if !errors.Is(err, ErrConnectionLost) {
			st.Link = err.Error()
		}
	}
	if d.state != nil {
		if s, ok := d.state.Latest(); ok {
			st.State = &s
			st.Battery = s.Battery
		}
	}
	return st
}
