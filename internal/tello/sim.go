package tello

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"text/tabwriter"
	"time"
)

// SimConfig configures the simulator.
type SimConfig struct {
	// Listen is the command address, e.g. "127.0.0.1:8889".
	Listen string
	// StatePort receives state packets on the client's host; zero disables them.
	StatePort     int
	StateInterval time.Duration
	// Proxy, when set, forwards every command to a real drone and relays
	// its answer instead of simulating.
	Proxy        string
	ProxyTimeout time.Duration
	// Remember records each command/response pair for Table.
	Remember bool
}

// simReplies are the canned answers to read commands; everything else is "ok".
var simReplies = map[string]string{
	"battery?": "72",
	"speed?":   "40",
	"time?":    "100",
	"wifi?":    "snr",
	"sdk?":     "2.0",
	"sn?":      "tello sn",
}

// Exchange is one remembered command and its answer.
type Exchange struct {
	Command  string
	Response string
}

// Simulator answers SDK commands like a drone on the ground, or proxies them
// to a real one. Only the first client address is served.
type Simulator struct {
	cfg   SimConfig
	conn  *net.UDPConn
	proxy *net.UDPConn

	mu      sync.Mutex
	client  *net.UDPAddr
	flying  bool
	height  int
	table   []Exchange
	unknown uint64
}

// NewSimulator binds the command socket (and dials the proxy target).
func NewSimulator(cfg SimConfig) (*Simulator, error) {
	if cfg.StateInterval <= 0 {
		cfg.StateInterval = 100 * time.Millisecond
	}
	if cfg.ProxyTimeout <= 0 {
		cfg.ProxyTimeout = 7 * time.Second
	}
	laddr, err := net.ResolveUDPAddr("udp", cfg.Listen)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", cfg.Listen, err)
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", cfg.Listen, err)
	}
	s := &Simulator{cfg: cfg, conn: conn}
	if cfg.Proxy != "" {
		raddr, err := net.ResolveUDPAddr("udp", cfg.Proxy)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("resolve proxy %s: %w", cfg.Proxy, err)
		}
		if s.proxy, err = net.DialUDP("udp", nil, raddr); err != nil {
			conn.Close()
			return nil, fmt.Errorf("dial proxy %s: %w", cfg.Proxy, err)
		}
	}
	return s, nil
}

// Addr is the bound command address.
func (s *Simulator) Addr() net.Addr { return s.conn.LocalAddr() }

// Respond is the simulated answer to one command. It also tracks whether the
// simulated drone is airborne so state packets report a height.
func (s *Simulator) Respond(command string) string {
	command = strings.TrimSpace(command)
	if r, ok := simReplies[command]; ok {
		return r
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	verb, arg, _ := strings.Cut(command, " ")
	switch verb {
	case "takeoff":
		s.flying, s.height = true, 80
	case "land", "emergency":
		s.flying, s.height = false, 0
	case "up":
		s.height += atoiOr(arg, 0)
	case "down":
		s.height = max(s.height-atoiOr(arg, 0), 0)
	}
	return "ok"
}

func atoiOr(s string, def int) int {
	var n int
	if _, err := fmt.Sscanf(s, "%d", &n); err != nil {
		return def
	}
	return n
}

// StatePacket renders the current simulated telemetry.
func (s *Simulator) StatePacket(elapsed time.Duration) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := 0
	if s.flying {
		t = int(elapsed.Seconds())
	}
	return fmt.Sprintf("pitch:0;roll:0;yaw:0;vgx:0;vgy:0;vgz:0;templ:60;temph:62;tof:%d;h:%d;bat:72;baro:12.34;time:%d;agx:0.00;agy:0.00;agz:-1000.00;\r\n",
		s.height+10, s.height, t)
}

// Run serves commands until ctx is done.
func (s *Simulator) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.conn.Close()
		if s.proxy != nil {
			s.proxy.Close()
		}
	}()
	if s.cfg.StatePort > 0 && s.proxy == nil {
		go s.emitState(ctx)
	}

	buf := make([]byte, 1024)
	for {
		n, addr, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("read command: %w", err)
		}
		command := strings.TrimSpace(string(buf[:n]))

		s.mu.Lock()
		if s.client == nil {
			s.client = addr
			logf("sim: serving client %s", addr)
		}
		known := s.client.String() == addr.String()
		if !known {
			s.unknown++
		}
		s.mu.Unlock()
		if !known {
			logf("sim: ignoring unknown address %s", addr)
			continue
		}

		var resp string
		if s.proxy != nil {
			resp, err = s.forward(command)
			if err != nil {
				logf("sim: proxy %q: %v", command, err)
				continue
			}
		} else {
			resp = s.Respond(command)
		}
		logf("sim: %q -> %q", command, resp)
		if s.cfg.Remember {
			s.mu.Lock()
			s.table = append(s.table, Exchange{Command: command, Response: resp})
			s.mu.Unlock()
		}
		if _, err := s.conn.WriteToUDP([]byte(resp), addr); err != nil {
			logf("sim: reply to %s: %v", addr, err)
		}
	}
}

// forward relays one command to the real drone and waits for its answer.
func (s *Simulator) forward(command string) (string, error) {
	if _, err := s.proxy.Write([]byte(command)); err != nil {
		return "", err
	}
	// rc is not acknowledged by the drone
	if strings.HasPrefix(command, "rc ") {
		return "ok", nil
	}
	s.proxy.SetReadDeadline(time.Now().Add(s.cfg.ProxyTimeout))
	buf := make([]byte, 1024)
	n, err := s.proxy.Read(buf)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(buf[:n])), nil
}

func (s *Simulator) emitState(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.StateInterval)
	defer ticker.Stop()
	start := time.Now()
	var out *net.UDPConn
	defer func() {
		if out != nil {
			out.Close()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		s.mu.Lock()
		client := s.client
		s.mu.Unlock()
		if client == nil {
			continue
		}
		if out == nil {
			dst := &net.UDPAddr{IP: client.IP, Port: s.cfg.StatePort}
			var err error
			if out, err = net.DialUDP("udp", nil, dst); err != nil {
				logf("sim: state socket: %v", err)
				return
			}
		}
		out.Write([]byte(s.StatePacket(time.Since(start))))
	}
}

// Table returns the remembered exchanges.
func (s *Simulator) Table() []Exchange {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Exchange(nil), s.table...)
}

// WriteTable prints the remembered exchanges as aligned columns.
func (s *Simulator) WriteTable(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "COMMAND\tRESPONSE")
	for _, e := range s.Table() {
		fmt.Fprintf(tw, "%s\t%s\n", e.Command, e.Response)
	}
	return tw.Flush()
}
