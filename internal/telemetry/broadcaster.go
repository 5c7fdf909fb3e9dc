// Package telemetry streams control-loop ticks to remote clients over gRPC.
package telemetry

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/facefollow/internal/control"
	"github.com/banshee-data/facefollow/internal/monitoring"
)

var logf = monitoring.Prefixed("Telemetry")

// clientBuffer is the per-client queue; a slow client loses ticks.
const clientBuffer = 64

type client struct {
	id    string
	every uint64
	ch    chan control.Tick
}

// Broadcaster is a tick sink that copies every tick to each subscribed
// stream.
type Broadcaster struct {
	mu      sync.RWMutex
	clients map[string]*client
	closed  bool

	sent    atomic.Uint64
	dropped atomic.Uint64
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{clients: make(map[string]*client)}
}

func (b *Broadcaster) Name() string { return "telemetry" }

// Write never blocks on a client.
func (b *Broadcaster) Write(t control.Tick) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, c := range b.clients {
		if c.every > 1 && t.Seq%c.every != 0 {
			continue
		}
		select {
		case c.ch <- t:
			b.sent.Add(1)
		default:
			b.dropped.Add(1)
		}
	}
	return nil
}

// Subscribe registers a client receiving every n-th tick (n <= 1 for all).
// The channel is closed by Unsubscribe or Close.
func (b *Broadcaster) Subscribe(every uint64) (string, <-chan control.Tick) {
	c := &client{
		id:    fmt.Sprintf("grpc-%d", time.Now().UnixNano()),
		every: every,
		ch:    make(chan control.Tick, clientBuffer),
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(c.ch)
		return c.id, c.ch
	}
	for b.clients[c.id] != nil {
		c.id += "+"
	}
	b.clients[c.id] = c
	logf("client connected: %s (total: %d)", c.id, len(b.clients))
	return c.id, c.ch
}

func (b *Broadcaster) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if c, ok := b.clients[id]; ok {
		close(c.ch)
		delete(b.clients, id)
		logf("client disconnected: %s (remaining: %d)", id, len(b.clients))
	}
}

// Clients is the number of connected streams.
func (b *Broadcaster) Clients() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Stats returns delivered and dropped tick counts over all clients.
func (b *Broadcaster) Stats() (sent, dropped uint64) {
	return b.sent.Load(), b.dropped.Load()
}

// Close ends every stream.
func (b *Broadcaster) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for id, c := range b.clients {
		close(c.ch)
		delete(b.clients, id)
	}
	return nil
}
