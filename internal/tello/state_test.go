package tello

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/facefollow/internal/control"
	"github.com/banshee-data/facefollow/internal/timeutil"
)

const samplePacket = "pitch:1;roll:-2;yaw:45;vgx:0;vgy:0;vgz:0;templ:63;temph:66;tof:92;h:80;bat:87;baro:12.75;time:14;agx:-3.00;agy:1.00;agz:-999.00;\r\n"

func TestParseState(t *testing.T) {
	s, err := ParseState(samplePacket)
	require.NoError(t, err)

	assert.Equal(t, 87, s.Battery)
	assert.Equal(t, 80, s.Height)
	assert.Equal(t, 92, s.TOF)
	assert.Equal(t, 14, s.FlightTime)
	assert.Equal(t, 63, s.TempLow)
	assert.Equal(t, 66, s.TempHigh)
	assert.Equal(t, 1, s.Pitch)
	assert.Equal(t, -2, s.Roll)
	assert.Equal(t, 45, s.Yaw)
	assert.InDelta(t, 12.75, s.Baro, 1e-9)
	assert.Equal(t, "-999.00", s.Fields["agz"])
}

func TestParseState_Malformed(t *testing.T) {
	for _, packet := range []string{"", ";;", "bat", "bat:lots;", "baro:high;"} {
		_, err := ParseState(packet)
		assert.Error(t, err, packet)
	}
}

func TestStateListener_Watchdog(t *testing.T) {
	clock := timeutil.NewMockClock(time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC))
	sock := NewMockUDPSocket()
	l := NewStateListener(sock, clock)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()
	defer func() {
		cancel()
		l.Close()
		<-done
	}()

	assert.NoError(t, l.Check(5*time.Second))
	clock.Advance(6 * time.Second)
	err := l.Check(5 * time.Second)
	assert.ErrorIs(t, err, ErrConnectionLost)
	assert.True(t, control.IsFatal(err), "a lost link must end the session")

	sock.Packets <- []byte(samplePacket)
	require.Eventually(t, func() bool { return l.Packets() == 1 }, time.Second, 5*time.Millisecond)
	assert.NoError(t, l.Check(5*time.Second))

	st, ok := l.Latest()
	require.True(t, ok)
	assert.Equal(t, 87, st.Battery)
	assert.Equal(t, clock.Now(), st.Received)

	// garbage does not feed the watchdog
	clock.Advance(6 * time.Second)
	sock.Packets <- []byte("garbage")
	time.Sleep(20 * time.Millisecond)
	assert.ErrorIs(t, l.Check(5*time.Second), ErrConnectionLost)
}

func TestStateListener_RunStopsOnClose(t *testing.T) {
	sock := NewMockUDPSocket()
	l := NewStateListener(sock, nil)
	done := make(chan error, 1)
	go func() { done <- l.Run(context.Background()) }()

	require.NoError(t, l.Close())
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}
}
