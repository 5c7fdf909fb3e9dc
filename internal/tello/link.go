package tello

import (
	"fmt"
	"io"
	"net"
	"strings"

	"go.bug.st/serial"
)

// Default SDK endpoints.
const (
	DefaultCommandAddr = "192.168.10.1:8889"
	DefaultStateAddr   = "0.0.0.0:8890"
	DefaultVideoURL    = "udp://@0.0.0.0:11111"
)

// Link is the minimal interface needed for a command channel: commands are
// written as newline-terminated text and responses read back as lines. This
// abstraction enables unit testing without a drone.
type Link interface {
	io.ReadWriter
	io.Closer
}

// UDPLink adapts the SDK's one-command-per-datagram protocol to a line
// stream so the same multiplexer serves UDP and serial bridges.
type UDPLink struct {
	conn    *net.UDPConn
	buf     []byte
	pending []byte
}

// DialUDP connects to the drone's command port. local may be empty to let the
// OS pick a source port; the drone answers whichever port sent the command.
func DialUDP(local, remote string) (*UDPLink, error) {
	raddr, err := net.ResolveUDPAddr("udp", remote)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", remote, err)
	}
	var laddr *net.UDPAddr
	if local != "" {
		if laddr, err = net.ResolveUDPAddr("udp", local); err != nil {
			return nil, fmt.Errorf("resolve %s: %w", local, err)
		}
	}
	conn, err := net.DialUDP("udp", laddr, raddr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", remote, err)
	}
	return &UDPLink{conn: conn, buf: make([]byte, 2048)}, nil
}

// Write sends one command per call. The trailing newline is not part of the
// datagram but is counted as written.
func (l *UDPLink) Write(p []byte) (int, error) {
	cmd := strings.TrimRight(string(p), "\r\n")
	if _, err := l.conn.Write([]byte(cmd)); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Read returns response datagrams, each terminated with a newline.
func (l *UDPLink) Read(p []byte) (int, error) {
	if len(l.pending) == 0 {
		n, err := l.conn.Read(l.buf)
		if err != nil {
			return 0, err
		}
		line := strings.TrimRight(string(l.buf[:n]), "\r\n\x00")
		l.pending = []byte(line + "\n")
	}
	n := copy(p, l.pending)
	l.pending = l.pending[n:]
	return n, nil
}

func (l *UDPLink) Close() error { return l.conn.Close() }

// LocalAddr is the source address the drone replies to.
func (l *UDPLink) LocalAddr() net.Addr { return l.conn.LocalAddr() }

// OpenSerial opens a UART bridge (e.g. the ESP32 on a Robomaster TT) that
// relays SDK commands line by line.
func OpenSerial(path string, opts PortOptions) (serial.Port, error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return port, nil
}
