package tello

import (
	"bytes"
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimulator_Respond(t *testing.T) {
	s := &Simulator{}
	for cmd, want := range map[string]string{
		"command":  "ok",
		"battery?": "72",
		"speed?":   "40",
		"time?":    "100",
		"wifi?":    "snr",
		"sdk?":     "2.0",
		"sn?":      "tello sn",
		"flip l":   "ok",
	} {
		assert.Equal(t, want, s.Respond(cmd), cmd)
	}

	s.Respond("takeoff")
	s.Respond("up 70")
	assert.Contains(t, s.StatePacket(3*time.Second), ";h:150;")
	st, err := ParseState(s.StatePacket(3 * time.Second))
	require.NoError(t, err)
	assert.Equal(t, 3, st.FlightTime)

	s.Respond("land")
	assert.Contains(t, s.StatePacket(0), ";h:0;")
}

func TestSimulator_ServesUDPClient(t *testing.T) {
	stateConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	statePort := stateConn.LocalAddr().(*net.UDPAddr).Port

	sim, err := NewSimulator(SimConfig{
		Listen:        "127.0.0.1:0",
		StatePort:     statePort,
		StateInterval: 10 * time.Millisecond,
		Remember:      true,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	simDone := make(chan error, 1)
	go func() { simDone <- sim.Run(ctx) }()

	link, err := DialUDP("", sim.Addr().String())
	require.NoError(t, err)
	m := NewCommandMux(link)
	monDone := make(chan error, 1)
	go func() { monDone <- m.Monitor(ctx) }()

	state := NewStateListener(stateConn, nil)
	go state.Run(ctx)

	d := NewDrone(m, state, nil, fastConfig())
	require.NoError(t, d.Connect(ctx))
	require.NoError(t, d.Takeoff(ctx))

	require.Eventually(t, func() bool {
		st, ok := state.Latest()
		return ok && st.Height == 80
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, []Exchange{
		{Command: "command", Response: "ok"},
		{Command: "battery?", Response: "72"},
		{Command: "takeoff", Response: "ok"},
	}, sim.Table())

	var buf bytes.Buffer
	require.NoError(t, sim.WriteTable(&buf))
	assert.Contains(t, buf.String(), "battery?")

	cancel()
	m.Close()
	state.Close()
	select {
	case err := <-simDone:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("simulator did not stop")
	}
}
