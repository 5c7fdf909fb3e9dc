package tello

import (
	"io"
	"strings"
	"sync"
)

// MockLink is an in-memory Link. Every written command is passed to Respond;
// a non-empty answer becomes readable as a line. It backs -dev runs and
// tests.
type MockLink struct {
	Respond func(command string) string

	mu       sync.Mutex
	commands []string
	pending  []byte
	ready    chan struct{}
	closed   bool
	writeErr error
}

// NewMockLink creates a link answering through respond. A nil respond
// answers "ok" to everything except rc.
func NewMockLink(respond func(string) string) *MockLink {
	if respond == nil {
		respond = func(cmd string) string {
			if strings.HasPrefix(cmd, "rc ") {
				return ""
			}
			return "ok"
		}
	}
	return &MockLink{Respond: respond, ready: make(chan struct{}, 1)}
}

// SimulatorResponder answers like the simulator, without the rc reply.
func SimulatorResponder(s *Simulator) func(string) string {
	return func(cmd string) string {
		if strings.HasPrefix(cmd, "rc ") {
			return ""
		}
		return s.Respond(cmd)
	}
}

func (m *MockLink) Write(p []byte) (int, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return 0, io.ErrClosedPipe
	}
	if m.writeErr != nil {
		err := m.writeErr
		m.mu.Unlock()
		return 0, err
	}
	var replies []string
	for _, line := range strings.Split(strings.TrimRight(string(p), "\n"), "\n") {
		cmd := strings.TrimSpace(line)
		if cmd == "" {
			continue
		}
		m.commands = append(m.commands, cmd)
		replies = append(replies, cmd)
	}
	m.mu.Unlock()

	// answer outside the lock so Respond may call back into the link
	for _, cmd := range replies {
		if r := m.Respond(cmd); r != "" {
			m.Inject(r)
		}
	}
	return len(p), nil
}

// Inject makes line readable as if the drone had sent it.
func (m *MockLink) Inject(line string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.pending = append(m.pending, line+"\n"...)
	select {
	case m.ready <- struct{}{}:
	default:
	}
}

func (m *MockLink) Read(p []byte) (int, error) {
	for {
		m.mu.Lock()
		if len(m.pending) > 0 {
			n := copy(p, m.pending)
			m.pending = m.pending[n:]
			m.mu.Unlock()
			return n, nil
		}
		if m.closed {
			m.mu.Unlock()
			return 0, io.EOF
		}
		m.mu.Unlock()
		<-m.ready
	}
}

func (m *MockLink) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	close(m.ready)
	return nil
}

// FailWrites makes every subsequent Write return err.
func (m *MockLink) FailWrites(err error) {
	m.mu.Lock()
	m.writeErr = err
	m.mu.Unlock()
}

// Commands returns every command written so far.
func (m *MockLink) Commands() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.commands...)
}
