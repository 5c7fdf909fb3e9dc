package tello

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/facefollow/internal/control"
	"github.com/banshee-data/facefollow/internal/frame"
	"github.com/banshee-data/facefollow/internal/timeutil"
)

type staticSource struct{ f *frame.Frame }

func (s staticSource) Latest() (*frame.Frame, error) { return s.f, nil }
func (s staticSource) Close() error                  { return nil }

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.CommandTimeout = time.Second
	cfg.TakeoffTimeout = time.Second
	cfg.MoveTimeout = time.Second
	return cfg
}

func newSimDrone(t *testing.T, state *StateListener, video FrameSource) (*Drone, *MockLink) {
	t.Helper()
	sim := &Simulator{}
	link := NewMockLink(SimulatorResponder(sim))
	m := startMux(t, link)
	return NewDrone(m, state, video, fastConfig()), link
}

func TestDrone_FlightSequence(t *testing.T) {
	d, link := newSimDrone(t, nil, nil)
	ctx := context.Background()

	require.NoError(t, d.Connect(ctx))
	require.NoError(t, d.Takeoff(ctx))
	require.NoError(t, d.Move(ctx, control.Up, 70))
	require.NoError(t, d.SetVideoStream(ctx, true))
	require.NoError(t, d.SendVelocity(control.Command{Lateral: -13, Vertical: 20}))
	require.NoError(t, d.Move(ctx, control.Clockwise, 30))
	require.NoError(t, d.SendVelocity(control.Hover))
	require.NoError(t, d.Land(ctx))
	require.NoError(t, d.SetVideoStream(ctx, false))

	assert.Equal(t, []string{
		"command", "battery?", "takeoff", "up 70", "streamon",
		"rc -13 0 20 0", "cw 30", "rc 0 0 0 0", "land", "streamoff",
	}, link.Commands())

	st := d.Status()
	assert.Equal(t, 72, st.Battery)
	assert.False(t, st.Flying)
	assert.False(t, st.StreamOn)
	assert.Equal(t, "ok", st.Link)
}

func TestDrone_InterruptedTakeoffStillLands(t *testing.T) {
	// the takeoff reply only arrives after the climb; here it never does
	link := NewMockLink(func(cmd string) string {
		if cmd == "takeoff" {
			return ""
		}
		return "ok"
	})
	m := startMux(t, link)
	d := NewDrone(m, nil, nil, fastConfig())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := d.Takeoff(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, d.Status().Flying, "an unacknowledged takeoff may have left the ground")

	// the climb finishes and its acknowledgement must not answer the land
	link.Inject("ok")
	require.NoError(t, d.Land(context.Background()))
	assert.Equal(t, []string{"takeoff", "land"}, link.Commands())
	assert.False(t, d.Status().Flying)
}

func TestDrone_ConnectFailsWhenSilent(t *testing.T) {
	link := NewMockLink(func(string) string { return "" })
	m := startMux(t, link)
	cfg := fastConfig()
	cfg.CommandTimeout = 10 * time.Millisecond
	d := NewDrone(m, nil, nil, cfg)

	err := d.Connect(context.Background())
	assert.ErrorIs(t, err, ErrConnectionLost)
	assert.Len(t, link.Commands(), 3, "connect retries")
}

func TestDrone_MoveRangeChecked(t *testing.T) {
	d, link := newSimDrone(t, nil, nil)
	assert.Error(t, d.Move(context.Background(), control.Forward, 5))
	assert.Error(t, d.Move(context.Background(), control.CounterClockwise, 400))
	assert.Empty(t, link.Commands())
}

func TestDrone_WatchdogMakesTransportFatal(t *testing.T) {
	clock := timeutil.NewMockClock(time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC))
	state := NewStateListener(NewMockUDPSocket(), clock)
	f := frame.Blank(1, clock.Now(), 4, 4)
	d, _ := newSimDrone(t, state, staticSource{f})

	got, err := d.LatestFrame()
	require.NoError(t, err)
	assert.Same(t, f, got)

	clock.Advance(10 * time.Second)
	_, err = d.LatestFrame()
	assert.True(t, control.IsFatal(err))
	assert.True(t, control.IsFatal(d.SendVelocity(control.Hover)))
	assert.Equal(t, "lost", d.Status().Link)
}

func TestDrone_SendFailureIsFatal(t *testing.T) {
	d, link := newSimDrone(t, nil, nil)
	link.FailWrites(errors.New("network is unreachable"))
	err := d.SendVelocity(control.Hover)
	assert.ErrorIs(t, err, ErrConnectionLost)
}

func TestDrone_NoVideoYet(t *testing.T) {
	d, _ := newSimDrone(t, nil, nil)
	f, err := d.LatestFrame()
	assert.NoError(t, err)
	assert.Nil(t, f)
}
