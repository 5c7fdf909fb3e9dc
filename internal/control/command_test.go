package control

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMapping_ClampsThenScales(t *testing.T) {
	m := DefaultConfig().Mapping

	tests := []struct {
		name      string
		pan, tilt float64
		want      Command
	}{
		{"zero", 0, 0, Command{}},
		{"inside range", 30, 30, Command{Lateral: -10, Vertical: 15}},
		{"negative inside range", -12, -8, Command{Lateral: 4, Vertical: -4}},
		{"truncates toward zero", 10, 5, Command{Lateral: -3, Vertical: 2}},
		{"clamped high", 300, 95, Command{Lateral: -13, Vertical: 20}},
		{"clamped low", -300, -95, Command{Lateral: 13, Vertical: -20}},
		{"exactly at limit", 40, -40, Command{Lateral: -13, Vertical: -20}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, m.Map(tt.pan, tt.tilt))
		})
	}
}

func TestMapping_ClampedOutputIsExactlyMaxSpeed(t *testing.T) {
	m := Mapping{MaxSpeed: 40, PanDivisor: 1, TiltDivisor: 1, InvertPan: true}
	assert.Equal(t, Command{Lateral: -40, Vertical: 40}, m.Map(1e6, 1e6))
	assert.Equal(t, Command{Lateral: 40, Vertical: -40}, m.Map(-1e6, -1e6))
	assert.Equal(t, Command{Lateral: -17, Vertical: 23}, m.Map(17, 23))
}

func TestMapping_InvertTiltAndDivisorFloor(t *testing.T) {
	m := Mapping{MaxSpeed: 100, PanDivisor: 0, TiltDivisor: 0.5, InvertTilt: true}
	assert.Equal(t, Command{Lateral: 50, Vertical: -50}, m.Map(50, 50))
}

func TestCommand_ClampAndString(t *testing.T) {
	c := Command{Lateral: 150, Longitudinal: -101, Vertical: 3, Yaw: 100}.Clamp()
	assert.Equal(t, Command{Lateral: 100, Longitudinal: -100, Vertical: 3, Yaw: 100}, c)
	assert.Equal(t, "rc 100 -100 3 100", c.String())
	assert.True(t, Hover.IsHover())
	assert.False(t, c.IsHover())
}

func TestMoveFor(t *testing.T) {
	d, ok := MoveFor('e')
	assert.True(t, ok)
	assert.Equal(t, Clockwise, d)

	_, ok = MoveFor('z')
	assert.False(t, ok)
}
