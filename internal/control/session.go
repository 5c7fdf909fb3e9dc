package control

import (
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/facefollow/internal/frame"
	"github.com/banshee-data/facefollow/internal/pid"
	"github.com/banshee-data/facefollow/internal/timeutil"
)

// Config is the per-session tuning of the loop and its handler.
type Config struct {
	Pan  pid.Gains `json:"pan"`
	Tilt pid.Gains `json:"tilt"`
	Mapping

	JitterThreshold float64       `json:"jitter_threshold"`
	NominalTick     time.Duration `json:"nominal_tick"`
	StarveBackoff   time.Duration `json:"starve_backoff"`
	WarmUp          time.Duration `json:"warm_up"`
	FrameWidth      int           `json:"frame_width"`
	TakeoffClimbCM  int           `json:"takeoff_climb_cm"`
	MoveStepCM      int           `json:"move_step_cm"`

	// Fly allows the session to take off and send movement. A ground
	// session only watches.
	Fly bool `json:"fly"`
	// Track lets the follow handler steer. Without it a flying session
	// holds a hover every tick.
	Track bool `json:"track"`
}

// DefaultConfig mirrors config/tuning.defaults.json.
func DefaultConfig() Config {
	g := pid.Gains{KP: 0.7, KI: 0.0001, KD: 0.1}
	return Config{
		Pan:  g,
		Tilt: g,
		Mapping: Mapping{
			MaxSpeed:    40,
			PanDivisor:  3,
			TiltDivisor: 2,
			InvertPan:   true,
		},
		JitterThreshold: 25,
		NominalTick:     33 * time.Millisecond,
		StarveBackoff:   500 * time.Millisecond,
		WarmUp:          2 * time.Second,
		FrameWidth:      400,
		TakeoffClimbCM:  70,
		MoveStepCM:      30,
		Track:           true,
	}
}

// FramePublisher receives every frame the loop produces. It must not block.
type FramePublisher interface {
	Publish(f *frame.Frame)
}

// TickPublisher receives one record per iteration. It must not block.
type TickPublisher interface {
	Publish(t Tick)
}

// Session is the state shared by the loop and its handler for one run. The
// entry point builds it, and the loop owns Transport for the duration of Run.
type Session struct {
	ID        uuid.UUID
	Started   time.Time
	Config    Config
	Transport Transport
	Clock     timeutil.Clock

	Frames FramePublisher
	Ticks  TickPublisher
	Keys   <-chan Key
}

// NewSession creates a session with a fresh random ID. A nil clock selects
// the real clock.
func NewSession(cfg Config, t Transport, clock timeutil.Clock) *Session {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Session{
		ID:        uuid.New(),
		Started:   clock.Now(),
		Config:    cfg,
		Transport: t,
		Clock:     clock,
	}
}
