// Package tello talks to a Ryze/DJI Tello over its text SDK: a command link
// (UDP or a serial bridge), the state telemetry stream, and a simulator that
// answers like a drone for ground testing.
package tello

import (
	"bufio"
	"context"
	crand "crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/banshee-data/facefollow/internal/control"
	"github.com/banshee-data/facefollow/internal/monitoring"
)

var (
	// ErrConnectionLost means the drone stopped answering; the session cannot
	// continue.
	ErrConnectionLost = fmt.Errorf("tello: connection lost: %w", control.ErrTransportFatal)
	// ErrCommandFailed is returned when the drone answers "error".
	ErrCommandFailed = errors.New("tello: command failed")
	// ErrTimeout is returned when no response arrives in time.
	ErrTimeout = errors.New("tello: no response")
	// ErrWriteFailed is returned for a short write to the link.
	ErrWriteFailed = errors.New("tello: failed to write command")
)

var logf = monitoring.Prefixed("Tello")

// subscriberBuffer lets a waiter miss no response that arrives between
// subscribing and reading.
const subscriberBuffer = 16

// lateReplyGrace extends an abandoned command's timeout for replies that are
// still on the way when the waiter gives up.
const lateReplyGrace = 2 * time.Second

// CommandMux multiplexes one command link: any number of subscribers see
// every response line, and Exec serialises request/response exchanges.
type CommandMux[T Link] struct {
	link         T
	subscribers  map[string]chan string
	subscriberMu sync.Mutex
	commandMu    sync.Mutex
	execMu       sync.Mutex
	closing      bool
	closingMu    sync.Mutex

	// late holds, per abandoned Exec, the time until which its reply is
	// still expected. Each entry swallows one response line.
	late   []time.Time
	lateMu sync.Mutex
}

// NewCommandMux wraps link.
func NewCommandMux[T Link](link T) *CommandMux[T] {
	return &CommandMux[T]{
		link:        link,
		subscribers: make(map[string]chan string),
	}
}

// randomID generates a random channel ID (8 byte random hex encoded value)
func randomID() string {
	b := make([]byte, 8)
	crand.Read(b)
	return hex.EncodeToString(b)
}

// Subscribe returns a channel receiving every response line. The channel ID
// is used to unsubscribe.
func (m *CommandMux[T]) Subscribe() (string, chan string) {
	id := randomID()
	ch := make(chan string, subscriberBuffer)
	m.subscriberMu.Lock()
	defer m.subscriberMu.Unlock()
	m.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes and closes a subscriber channel.
func (m *CommandMux[T]) Unsubscribe(id string) {
	m.subscriberMu.Lock()
	defer m.subscriberMu.Unlock()
	if ch, ok := m.subscribers[id]; ok {
		close(ch)
		delete(m.subscribers, id)
	}
}

// SendCommand writes one command without waiting for a response. Used for
// the rc stick command, which the drone does not acknowledge.
func (m *CommandMux[T]) SendCommand(command string) error {
	m.commandMu.Lock()
	defer m.commandMu.Unlock()
	if !strings.HasSuffix(command, "\n") {
		command += "\n"
	}
	n, err := m.link.Write([]byte(command))
	if err != nil {
		return err
	}
	if n != len(command) {
		return ErrWriteFailed
	}
	return nil
}

// Exec sends command and waits for its response. An "error" response is
// returned as ErrCommandFailed. Only one Exec is in flight at a time since
// SDK responses carry no correlation id.
func (m *CommandMux[T]) Exec(ctx context.Context, command string, timeout time.Duration) (string, error) {
	m.execMu.Lock()
	defer m.execMu.Unlock()

	id, ch := m.Subscribe()
	defer m.Unsubscribe(id)

	if err := m.SendCommand(command); err != nil {
		return "", fmt.Errorf("%s: %w", command, err)
	}

	start := time.Now()
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case line, ok := <-ch:
		if !ok {
			return "", fmt.Errorf("%s: link closed: %w", command, ErrConnectionLost)
		}
		resp := strings.TrimSpace(line)
		if isErrorResponse(resp) {
			return resp, fmt.Errorf("%s: %w: %s", command, ErrCommandFailed, resp)
		}
		return resp, nil
	case <-timer.C:
		m.expectLate(start.Add(timeout + lateReplyGrace))
		return "", fmt.Errorf("%s: %w after %v", command, ErrTimeout, timeout)
	case <-ctx.Done():
		m.expectLate(start.Add(timeout + lateReplyGrace))
		return "", fmt.Errorf("%s: %w", command, ctx.Err())
	}
}

func (m *CommandMux[T]) expectLate(until time.Time) {
	m.lateMu.Lock()
	defer m.lateMu.Unlock()
	m.late = append(m.late, until)
}

// dropLate reports whether a line received at now answers an abandoned
// command. Expired expectations are forgotten.
func (m *CommandMux[T]) dropLate(now time.Time) bool {
	m.lateMu.Lock()
	defer m.lateMu.Unlock()
	live := m.late[:0]
	for _, until := range m.late {
		if now.Before(until) {
			live = append(live, until)
		}
	}
	m.late = live
	if len(m.late) == 0 {
		return false
	}
	m.late = m.late[1:]
	return true
}

func isErrorResponse(resp string) bool {
	r := strings.ToLower(resp)
	return strings.HasPrefix(r, "error") || strings.HasPrefix(r, "unknown command")
}

// Monitor reads response lines from the link and fans them out to
// subscribers until ctx is done or the link fails.
func (m *CommandMux[T]) Monitor(ctx context.Context) error {
	scan := bufio.NewScanner(m.link)

	lineChan := make(chan string)
	scanErrChan := make(chan error, 1)

	// the blocking scan.Scan runs on its own goroutine so the outer loop can
	// still observe cancellation
	go func() {
		defer close(lineChan)
		for scan.Scan() {
			select {
			case lineChan <- scan.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scan.Err(); err != nil {
			select {
			case scanErrChan <- err:
			case <-ctx.Done():
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-scanErrChan:
			if m.isClosing() {
				return nil
			}
			return err

		case line, ok := <-lineChan:
			if !ok {
				return nil
			}
			if m.isClosing() {
				return nil
			}
			if m.dropLate(time.Now()) {
				logf("dropping late reply %q", line)
				continue
			}
			m.subscriberMu.Lock()
			for _, ch := range m.subscribers {
				select {
				case ch <- line:
				default:
					// a slow subscriber misses lines rather than blocking the link
				}
			}
			m.subscriberMu.Unlock()
		}
	}
}

func (m *CommandMux[T]) isClosing() bool {
	m.closingMu.Lock()
	defer m.closingMu.Unlock()
	return m.closing
}

// Close closes all subscriber channels and the link.
func (m *CommandMux[T]) Close() error {
	m.closingMu.Lock()
	if m.closing {
		m.closingMu.Unlock()
		return nil
	}
	m.closing = true
	m.closingMu.Unlock()

	m.subscriberMu.Lock()
	for id, ch := range m.subscribers {
		close(ch)
		delete(m.subscribers, id)
	}
	m.subscriberMu.Unlock()
	return m.link.Close()
}
