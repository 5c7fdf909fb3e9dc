package distribution

import (
	"fmt"
	"strings"
	"sync/atomic"
)

// DropPolicy decides which item is lost when a sink's queue is full. The
// producer is never blocked.
type DropPolicy int

const (
	// DropOldest evicts the head of the queue so a slow sink always sees
	// the most recent item next.
	DropOldest DropPolicy = iota
	// DropNewest discards the incoming item.
	DropNewest
)

func (p DropPolicy) String() string {
	switch p {
	case DropOldest:
		return "oldest"
	case DropNewest:
		return "newest"
	default:
		return fmt.Sprintf("DropPolicy(%d)", int(p))
	}
}

// ParseDropPolicy accepts "oldest"/"drop-oldest" and "newest"/"drop-newest".
// An empty string selects DropOldest.
func ParseDropPolicy(s string) (DropPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "oldest", "drop-oldest":
		return DropOldest, nil
	case "newest", "drop-newest":
		return DropNewest, nil
	default:
		return DropOldest, fmt.Errorf("unknown drop policy %q: expected oldest or newest", s)
	}
}

// Queue is a bounded single-producer single-consumer hand-off.
type Queue[T any] struct {
	ch     chan T
	policy DropPolicy

	pushed  atomic.Uint64
	dropped atomic.Uint64
}

// NewQueue creates a queue holding at most depth items (minimum 1).
func NewQueue[T any](depth int, policy DropPolicy) *Queue[T] {
	if depth < 1 {
		depth = 1
	}
	return &Queue[T]{ch: make(chan T, depth), policy: policy}
}

// Push enqueues v without blocking and reports whether an item was dropped
// to make room (DropOldest) or v itself was dropped (DropNewest).
func (q *Queue[T]) Push(v T) (dropped bool) {
	q.pushed.Add(1)

	if q.policy == DropNewest {
		select {
		case q.ch <- v:
			return false
		default:
			q.dropped.Add(1)
			return true
		}
	}

	// With a single producer this terminates: once the head is evicted the
	// only competitor for the free slot is the consumer, which makes more room.
	for {
		select {
		case q.ch <- v:
			return dropped
		default:
		}
		select {
		case <-q.ch:
			dropped = true
			q.dropped.Add(1)
		default:
		}
	}
}

// C is the consumer side.
func (q *Queue[T]) C() <-chan T { return q.ch }

// Len is the current depth.
func (q *Queue[T]) Len() int { return len(q.ch) }

// Cap is the configured depth.
func (q *Queue[T]) Cap() int { return cap(q.ch) }

// Pushed counts calls to Push.
func (q *Queue[T]) Pushed() uint64 { return q.pushed.Load() }

// Dropped counts items lost to the drop policy.
func (q *Queue[T]) Dropped() uint64 { return q.dropped.Load() }
