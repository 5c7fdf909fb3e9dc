package tello

import (
	"net"
	"time"
)

// UDPSocket is the part of *net.UDPConn the state listener uses. This
// abstraction enables unit testing without real network connections.
type UDPSocket interface {
	ReadFromUDP(b []byte) (n int, addr *net.UDPAddr, err error)
	SetReadDeadline(t time.Time) error
	Close() error
	LocalAddr() net.Addr
}

// ListenUDP opens a real socket on addr.
func ListenUDP(addr string) (UDPSocket, error) {
	laddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// MockUDPSocket replays packets for tests.
type MockUDPSocket struct {
	Packets  chan []byte
	Closed   chan struct{}
	deadline time.Time
}

// NewMockUDPSocket creates a socket whose reads are fed through Packets.
func NewMockUDPSocket() *MockUDPSocket {
	return &MockUDPSocket{Packets: make(chan []byte, 64), Closed: make(chan struct{})}
}

func (m *MockUDPSocket) ReadFromUDP(b []byte) (int, *net.UDPAddr, error) {
	wait := time.Until(m.deadline)
	if m.deadline.IsZero() {
		wait = time.Hour
	}
	select {
	case p := <-m.Packets:
		return copy(b, p), &net.UDPAddr{IP: net.IPv4(192, 168, 10, 1), Port: 8889}, nil
	case <-m.Closed:
		return 0, nil, net.ErrClosed
	case <-time.After(wait):
		return 0, nil, &net.OpError{Op: "read", Net: "udp", Err: timeoutError{}}
	}
}

func (m *MockUDPSocket) SetReadDeadline(t time.Time) error { m.deadline = t; return nil }

func (m *MockUDPSocket) Close() error {
	select {
	case <-m.Closed:
	default:
		close(m.Closed)
	}
	return nil
}

func (m *MockUDPSocket) LocalAddr() net.Addr {
	return &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 8890}
}

// timeoutError implements net.Error for timeout simulation.
type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }
