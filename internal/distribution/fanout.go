// Package distribution fans produced values (video frames, control ticks) out
// to independent sinks through bounded, non-blocking queues, so that a slow
// sink can never stall the producer.
package distribution

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/banshee-data/facefollow/internal/monitoring"
)

// ErrClosed is returned when a fan-out or sink has already been shut down.
var ErrClosed = errors.New("distribution: closed")

// ErrSinkFailed marks a sink error that should end the session. Sinks wrap it
// when they hit an unrecoverable fault; a panic inside Write is reported
// wrapped in it as well.
var ErrSinkFailed = errors.New("distribution: sink failed")

var logf = monitoring.Prefixed("Distribution")

// Sink consumes values in arrival order. Write and Close are only ever called
// from the sink's own goroutine; the sink owns whatever resource it writes to.
type Sink[T any] interface {
	Name() string
	Write(v T) error
	Close() error
}

// Config holds per-fan-out settings.
type Config struct {
	// Depth is the queue capacity per sink.
	Depth int
	// Policy applies when a sink's queue is full.
	Policy DropPolicy
	// OnError, if set, is called from the sink goroutine for every failed
	// Write or Close.
	OnError func(sink string, err error)
}

// DefaultConfig returns a small drop-oldest queue per sink.
func DefaultConfig() Config {
	return Config{Depth: 8, Policy: DropOldest}
}

// SinkStats is a snapshot of one sink's counters.
type SinkStats struct {
	Name      string `json:"name"`
	Published uint64 `json:"published"`
	Delivered uint64 `json:"delivered"`
	Dropped   uint64 `json:"dropped"`
	Errors    uint64 `json:"errors"`
	Queued    int    `json:"queued"`
	Closed    bool   `json:"closed"`
}

type worker[T any] struct {
	sink  Sink[T]
	queue *Queue[T]

	stopCh chan struct{}
	done   chan struct{}

	// mu orders the started and closed transitions; closed is also read
	// without it on the publish path.
	mu      sync.Mutex
	started bool
	closed  atomic.Bool

	delivered atomic.Uint64
	errors    atomic.Uint64
}

// Fanout delivers every published value to each enabled sink.
type Fanout[T any] struct {
	config  Config
	workers []*worker[T]
	byName  map[string]*worker[T]

	startOnce sync.Once
	closed    atomic.Bool
}

// New creates a fan-out over the given sinks. Nil sinks are disabled and get
// no queue at all.
func New[T any](cfg Config, sinks ...Sink[T]) *Fanout[T] {
	if cfg.Depth < 1 {
		cfg.Depth = DefaultConfig().Depth
	}
	f := &Fanout[T]{
		config: cfg,
		byName: make(map[string]*worker[T]),
	}
	for _, s := range sinks {
		if s == nil {
			continue
		}
		w := &worker[T]{
			sink:   s,
			queue:  NewQueue[T](cfg.Depth, cfg.Policy),
			stopCh: make(chan struct{}),
			done:   make(chan struct{}),
		}
		f.workers = append(f.workers, w)
		f.byName[s.Name()] = w
	}
	return f
}

// Sinks returns the names of the enabled sinks in registration order.
func (f *Fanout[T]) Sinks() []string {
	names := make([]string, 0, len(f.workers))
	for _, w := range f.workers {
		names = append(names, w.sink.Name())
	}
	return names
}

// Has reports whether a sink with this name is enabled.
func (f *Fanout[T]) Has(name string) bool {
	_, ok := f.byName[name]
	return ok
}

// Start launches one goroutine per sink. Calling it more than once is a no-op.
func (f *Fanout[T]) Start() {
	f.startOnce.Do(func() {
		for _, w := range f.workers {
			w.mu.Lock()
			if w.closed.Load() {
				w.mu.Unlock()
				continue
			}
			w.started = true
			w.mu.Unlock()
			go f.run(w)
		}
	})
}

// Publish hands v to every sink queue and returns immediately.
func (f *Fanout[T]) Publish(v T) {
	if f.closed.Load() {
		return
	}
	for _, w := range f.workers {
		if w.closed.Load() {
			continue
		}
		if w.queue.Push(v) {
			if n := w.queue.Dropped(); n == 1 || n%100 == 0 {
				logf("sink %s queue full (policy=%s), dropped %d so far",
					w.sink.Name(), f.config.Policy, n)
			}
		}
	}
}

func (f *Fanout[T]) run(w *worker[T]) {
	defer close(w.done)
	name := w.sink.Name()
	logf("sink %s started (depth=%d policy=%s)", name, f.config.Depth, f.config.Policy)

	for {
		select {
		case v := <-w.queue.C():
			f.write(w, v)
		case <-w.stopCh:
			// flush whatever is already queued, in order
			for {
				select {
				case v := <-w.queue.C():
					f.write(w, v)
				default:
					if err := f.closeSink(w); err != nil {
						f.fail(w, fmt.Errorf("close: %w", err))
					}
					logf("sink %s stopped: delivered=%d dropped=%d errors=%d",
						name, w.delivered.Load(), w.queue.Dropped(), w.errors.Load())
					return
				}
			}
		}
	}
}

func (f *Fanout[T]) write(w *worker[T], v T) {
	defer func() {
		if r := recover(); r != nil {
			f.fail(w, fmt.Errorf("%w: panic in %s: %v", ErrSinkFailed, w.sink.Name(), r))
		}
	}()
	if err := w.sink.Write(v); err != nil {
		f.fail(w, err)
		return
	}
	w.delivered.Add(1)
}

func (f *Fanout[T]) closeSink(w *worker[T]) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic closing %s: %v", ErrSinkFailed, w.sink.Name(), r)
		}
	}()
	return w.sink.Close()
}

func (f *Fanout[T]) fail(w *worker[T], err error) {
	w.errors.Add(1)
	if f.config.OnError != nil {
		f.config.OnError(w.sink.Name(), err)
		return
	}
	logf("sink %s: %v", w.sink.Name(), err)
}

// CloseSink stops one sink after it has written everything already queued,
// then closes it. It waits for the sink goroutine until ctx is done.
func (f *Fanout[T]) CloseSink(ctx context.Context, name string) error {
	w, ok := f.byName[name]
	if !ok {
		return nil
	}
	return f.stop(ctx, w)
}

func (f *Fanout[T]) stop(ctx context.Context, w *worker[T]) error {
	w.mu.Lock()
	first := !w.closed.Swap(true)
	started := w.started
	w.mu.Unlock()

	if !started {
		// never started: close synchronously, exactly once
		if !first {
			return nil
		}
		err := f.closeSink(w)
		close(w.done)
		return err
	}
	if first {
		close(w.stopCh)
	}
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("sink %s did not stop: %w", w.sink.Name(), ctx.Err())
	}
}

// Close stops publication and every remaining sink.
func (f *Fanout[T]) Close(ctx context.Context) error {
	f.closed.Store(true)
	var errs []error
	for _, w := range f.workers {
		if err := f.stop(ctx, w); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Stats returns per-sink counters in registration order.
func (f *Fanout[T]) Stats() []SinkStats {
	out := make([]SinkStats, 0, len(f.workers))
	for _, w := range f.workers {
		out = append(out, SinkStats{
			Name:      w.sink.Name(),
			Published: w.queue.Pushed(),
			Delivered: w.delivered.Load(),
			Dropped:   w.queue.Dropped(),
			Errors:    w.errors.Load(),
			Queued:    w.queue.Len(),
			Closed:    w.closed.Load(),
		})
	}
	return out
}
