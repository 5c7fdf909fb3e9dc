// Package lifecycle owns the process-wide stop condition and the ordered
// teardown that runs exactly once when it is triggered.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/facefollow/internal/monitoring"
)

var (
	// ErrInterrupted is the stop cause for an OS signal.
	ErrInterrupted = errors.New("interrupted")
	// ErrUserQuit is the stop cause for a quit request from the operator.
	ErrUserQuit = errors.New("user quit")
)

// DefaultStepTimeout bounds each teardown step.
const DefaultStepTimeout = 10 * time.Second

var logf = monitoring.Prefixed("Lifecycle")

// Step is one named teardown action.
type Step struct {
	Name    string
	Run     func(ctx context.Context) error
	Timeout time.Duration
}

// StepResult records how one teardown step went.
type StepResult struct {
	Name     string        `json:"name"`
	Err      error         `json:"-"`
	Duration time.Duration `json:"duration"`
}

// Coordinator is the shared stop condition. Workers observe Context or Done;
// any component may call RequestStop, any number of times, concurrently.
type Coordinator struct {
	ctx    context.Context
	cancel context.CancelFunc

	stopping atomic.Bool
	once     sync.Once
	finished chan struct{}

	mu      sync.Mutex
	steps   []Step
	cause   error
	results []StepResult
	err     error
}

// New creates a coordinator whose context is derived from parent. If parent
// is cancelled before RequestStop, the coordinator stops with parent's cause.
func New(parent context.Context) *Coordinator {
	ctx, cancel := context.WithCancel(parent)
	c := &Coordinator{
		ctx:      ctx,
		cancel:   cancel,
		finished: make(chan struct{}),
	}
	go func() {
		<-ctx.Done()
		c.RequestStop(context.Cause(ctx))
	}()
	return c
}

// AddStep appends a teardown step. Steps run in registration order. A zero
// timeout selects DefaultStepTimeout. Steps added after stop was requested
// are ignored.
func (c *Coordinator) AddStep(name string, run func(ctx context.Context) error) {
	c.AddStepTimeout(name, 0, run)
}

// AddStepTimeout is AddStep with an explicit per-step timeout.
func (c *Coordinator) AddStepTimeout(name string, timeout time.Duration, run func(ctx context.Context) error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopping.Load() {
		logf("step %q registered after stop; ignored", name)
		return
	}
	c.steps = append(c.steps, Step{Name: name, Run: run, Timeout: timeout})
}

// RequestStop marks the session as stopping, cancels the shared context and
// starts teardown. Only the first call has any effect; it never blocks.
func (c *Coordinator) RequestStop(cause error) {
	c.once.Do(func() {
		c.mu.Lock()
		c.stopping.Store(true)
		c.cause = cause
		steps := append([]Step(nil), c.steps...)
		c.mu.Unlock()

		if cause != nil {
			logf("stop requested: %v", cause)
		} else {
			logf("stop requested")
		}
		c.cancel()
		go c.teardown(steps)
	})
}

// Stopping reports whether stop has been requested.
func (c *Coordinator) Stopping() bool { return c.stopping.Load() }

// Context is cancelled as soon as stop is requested.
func (c *Coordinator) Context() context.Context { return c.ctx }

// Done is closed as soon as stop is requested.
func (c *Coordinator) Done() <-chan struct{} { return c.ctx.Done() }

// Finished is closed once teardown has completed.
func (c *Coordinator) Finished() <-chan struct{} { return c.finished }

// Cause returns the error passed to the first RequestStop.
func (c *Coordinator) Cause() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cause
}

// Wait blocks until teardown has finished and returns the joined step errors.
func (c *Coordinator) Wait() error {
	<-c.finished
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Results returns per-step outcomes once teardown has finished.
func (c *Coordinator) Results() []StepResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]StepResult(nil), c.results...)
}

func (c *Coordinator) teardown(steps []Step) {
	defer close(c.finished)

	var errs []error
	results := make([]StepResult, 0, len(steps))
	for _, s := range steps {
		start := time.Now()
		err := runStep(s)
		results = append(results, StepResult{Name: s.Name, Err: err, Duration: time.Since(start)})
		if err != nil {
			logf("teardown %s failed after %v: %v", s.Name, time.Since(start), err)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name, err))
			continue
		}
		logf("teardown %s ok (%v)", s.Name, time.Since(start))
	}

	c.mu.Lock()
	c.results = results
	c.err = errors.Join(errs...)
	c.mu.Unlock()
}

func runStep(s Step) (err error) {
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = DefaultStepTimeout
	}
	// teardown must outlive the cancelled session context
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic: %v", r)
			}
		}()
		done <- s.Run(ctx)
	}()

	select {
	case err = <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("timed out after %v: %w", timeout, ctx.Err())
	}
}
