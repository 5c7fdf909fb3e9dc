package tello

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/banshee-data/facefollow/internal/timeutil"
)

// State is one telemetry packet from the drone's state port, e.g.
// "pitch:0;roll:0;yaw:0;...;bat:87;baro:12.5;time:0;".
type State struct {
	Fields     map[string]string `json:"fields"`
	Battery    int               `json:"battery"`
	Height     int               `json:"height_cm"`
	TOF        int               `json:"tof_cm"`
	FlightTime int               `json:"flight_time_s"`
	TempLow    int               `json:"temp_low"`
	TempHigh   int               `json:"temp_high"`
	Pitch      int               `json:"pitch"`
	Roll       int               `json:"roll"`
	Yaw        int               `json:"yaw"`
	Baro       float64           `json:"baro"`
	Received   time.Time         `json:"received"`
}

// ParseState decodes a state packet. Unknown keys are kept in Fields;
// malformed numeric values are an error.
func ParseState(packet string) (State, error) {
	s := State{Fields: make(map[string]string)}
	for _, part := range strings.Split(strings.TrimSpace(packet), ";") {
		if part == "" {
			continue
		}
		k, v, ok := strings.Cut(part, ":")
		if !ok {
			return s, fmt.Errorf("malformed state field %q", part)
		}
		s.Fields[k] = v
	}
	if len(s.Fields) == 0 {
		return s, errors.New("empty state packet")
	}

	ints := map[string]*int{
		"bat": &s.Battery, "h": &s.Height, "tof": &s.TOF, "time": &s.FlightTime,
		"templ": &s.TempLow, "temph": &s.TempHigh,
		"pitch": &s.Pitch, "roll": &s.Roll, "yaw": &s.Yaw,
	}
	for k, dst := range ints {
		v, ok := s.Fields[k]
		if !ok {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return s, fmt.Errorf("state field %s=%q: %w", k, v, err)
		}
		*dst = n
	}
	if v, ok := s.Fields["baro"]; ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return s, fmt.Errorf("state field baro=%q: %w", v, err)
		}
		s.Baro = f
	}
	return s, nil
}

// StateListener receives state packets and doubles as the link watchdog.
type StateListener struct {
	sock  UDPSocket
	clock timeutil.Clock

	mu       sync.Mutex
	latest   *State
	lastSeen time.Time
	packets  uint64
	bad      uint64
}

// NewStateListener reads packets from sock. The watchdog interval starts now.
func NewStateListener(sock UDPSocket, clock timeutil.Clock) *StateListener {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &StateListener{sock: sock, clock: clock, lastSeen: clock.Now()}
}

// Run reads until ctx is done or the socket is closed.
func (l *StateListener) Run(ctx context.Context) error {
	buf := make([]byte, 1024)
	for {
		if ctx.Err() != nil {
			return nil
		}
		l.sock.SetReadDeadline(time.Now().Add(250 * time.Millisecond))
		n, _, err := l.sock.ReadFromUDP(buf)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("read state: %w", err)
		}
		l.handle(string(buf[:n]))
	}
}

func (l *StateListener) handle(packet string) {
	s, err := ParseState(packet)
	now := l.clock.Now()
	l.mu.Lock()
	defer l.mu.Unlock()
	if err != nil {
		l.bad++
		if l.bad == 1 || l.bad%100 == 0 {
			logf("bad state packet (%d so far): %v", l.bad, err)
		}
		return
	}
	s.Received = now
	l.latest = &s
	l.lastSeen = now
	l.packets++
}

// Latest returns the most recent state, if any packet has arrived.
func (l *StateListener) Latest() (State, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.latest == nil {
		return State{}, false
	}
	return *l.latest, true
}

// Packets counts valid packets received.
func (l *StateListener) Packets() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.packets
}

// Check returns ErrConnectionLost when no valid packet arrived within timeout.
func (l *StateListener) Check(timeout time.Duration) error {
	l.mu.Lock()
	silent := l.clock.Since(l.lastSeen)
	l.mu.Unlock()
	if silent > timeout {
		return fmt.Errorf("no state for %v: %w", silent.Round(time.Millisecond), ErrConnectionLost)
	}
	return nil
}

// Close closes the socket, ending Run.
func (l *StateListener) Close() error { return l.sock.Close() }
