package control

import (
	"fmt"
	"math"
)

// CommandLimit is the magnitude bound of every velocity axis.
const CommandLimit = 100

// Command is the four-axis velocity envelope sent to the platform each tick.
// Positive lateral is right, positive vertical is up, positive yaw is
// clockwise.
type Command struct {
	Lateral      int `json:"lateral"`
	Longitudinal int `json:"longitudinal"`
	Vertical     int `json:"vertical"`
	Yaw          int `json:"yaw"`
}

// Hover is the neutral command: all axes zero.
var Hover = Command{}

// IsHover reports whether every axis is zero.
func (c Command) IsHover() bool { return c == Hover }

// Clamp bounds every axis to [-CommandLimit, CommandLimit].
func (c Command) Clamp() Command {
	return Command{
		Lateral:      clampInt(c.Lateral, CommandLimit),
		Longitudinal: clampInt(c.Longitudinal, CommandLimit),
		Vertical:     clampInt(c.Vertical, CommandLimit),
		Yaw:          clampInt(c.Yaw, CommandLimit),
	}
}

func (c Command) String() string {
	return fmt.Sprintf("rc %d %d %d %d", c.Lateral, c.Longitudinal, c.Vertical, c.Yaw)
}

func clampInt(v, limit int) int {
	if v > limit {
		return limit
	}
	if v < -limit {
		return -limit
	}
	return v
}

// ClampSpeed bounds v to [-limit, limit].
func ClampSpeed(v, limit float64) float64 {
	return math.Max(-limit, math.Min(limit, v))
}

// Mapping turns raw controller outputs into a command.
type Mapping struct {
	MaxSpeed    float64 `json:"max_speed"`
	PanDivisor  float64 `json:"pan_divisor"`
	TiltDivisor float64 `json:"tilt_divisor"`
	InvertPan   bool    `json:"invert_pan"`
	InvertTilt  bool    `json:"invert_tilt"`
}

// Map clamps each output to ±MaxSpeed, applies the sign convention, then
// scales down by the per-axis divisor. Division truncates toward zero, so a
// command never exceeds MaxSpeed/divisor in magnitude.
func (m Mapping) Map(panOutput, tiltOutput float64) Command {
	pan := ClampSpeed(panOutput, m.MaxSpeed)
	tilt := ClampSpeed(tiltOutput, m.MaxSpeed)
	if m.InvertPan {
		pan = -pan
	}
	if m.InvertTilt {
		tilt = -tilt
	}
	return Command{
		Lateral:  int(pan / divisor(m.PanDivisor)),
		Vertical: int(tilt / divisor(m.TiltDivisor)),
	}.Clamp()
}

func divisor(d float64) float64 {
	if d < 1 {
		return 1
	}
	return d
}

// Direction names a discrete move understood by the platform.
type Direction string

const (
	Forward          Direction = "forward"
	Back             Direction = "back"
	Left             Direction = "left"
	Right            Direction = "right"
	Up               Direction = "up"
	Down             Direction = "down"
	Clockwise        Direction = "cw"
	CounterClockwise Direction = "ccw"
)
