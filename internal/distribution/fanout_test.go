package distribution

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingSink collects values; an optional gate blocks every Write until
// the gate is closed.
type recordingSink struct {
	name   string
	gate   chan struct{}
	failOn int

	mu      sync.Mutex
	got     []int
	entered chan int
	closes  int
}

func newRecordingSink(name string) *recordingSink {
	return &recordingSink{name: name, entered: make(chan int, 1024)}
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) Write(v int) error {
	s.entered <- v
	if s.gate != nil {
		<-s.gate
	}
	if s.failOn != 0 && v == s.failOn {
		return errors.New("write failed")
	}
	s.mu.Lock()
	s.got = append(s.got, v)
	s.mu.Unlock()
	return nil
}

func (s *recordingSink) Close() error {
	s.mu.Lock()
	s.closes++
	s.mu.Unlock()
	return nil
}

func (s *recordingSink) values() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.got...)
}

func (s *recordingSink) closeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}

func TestFanout_DeliversInOrderToEverySink(t *testing.T) {
	a, b := newRecordingSink("display"), newRecordingSink("recorder")
	f := New[int](Config{Depth: 64}, a, b)
	f.Start()

	for i := 1; i <= 20; i++ {
		f.Publish(i)
	}
	require.NoError(t, f.Close(context.Background()))

	want := make([]int, 20)
	for i := range want {
		want[i] = i + 1
	}
	assert.Equal(t, want, a.values())
	assert.Equal(t, want, b.values())
	assert.Equal(t, 1, a.closeCount())
	assert.Equal(t, 1, b.closeCount())
}

func TestFanout_DisabledSinkHasNoQueue(t *testing.T) {
	a := newRecordingSink("recorder")
	f := New[int](DefaultConfig(), nil, a)

	assert.Equal(t, []string{"recorder"}, f.Sinks())
	assert.False(t, f.Has("display"))
	require.Len(t, f.Stats(), 1)

	f.Start()
	f.Publish(1)
	require.NoError(t, f.Close(context.Background()))
	assert.Equal(t, []int{1}, a.values())
}

func TestFanout_PublishNeverBlocksOnStalledSink(t *testing.T) {
	stalled := newRecordingSink("stalled")
	stalled.gate = make(chan struct{})
	const depth = 4
	f := New[int](Config{Depth: depth, Policy: DropOldest}, stalled)
	f.Start()

	// first value is taken by the sink and parks inside Write
	f.Publish(0)
	select {
	case <-stalled.entered:
	case <-time.After(time.Second):
		t.Fatal("sink never received the first value")
	}

	const n = 5000
	start := time.Now()
	for i := 1; i <= n; i++ {
		f.Publish(i)
	}
	elapsed := time.Since(start)
	assert.Less(t, elapsed, 500*time.Millisecond, "publishing must not wait for the sink")

	stats := f.Stats()[0]
	assert.Equal(t, uint64(n+1), stats.Published)
	assert.Equal(t, uint64(n-depth), stats.Dropped)
	assert.Equal(t, depth, stats.Queued)

	close(stalled.gate)
	require.NoError(t, f.Close(context.Background()))

	// the in-flight value, then the newest `depth` values in order
	assert.Equal(t, []int{0, n - 3, n - 2, n - 1, n}, stalled.values())
}

func TestFanout_DropNewestKeepsBacklog(t *testing.T) {
	stalled := newRecordingSink("stalled")
	stalled.gate = make(chan struct{})
	f := New[int](Config{Depth: 2, Policy: DropNewest}, stalled)
	f.Start()

	f.Publish(0)
	<-stalled.entered
	for i := 1; i <= 10; i++ {
		f.Publish(i)
	}

	close(stalled.gate)
	require.NoError(t, f.Close(context.Background()))
	assert.Equal(t, []int{0, 1, 2}, stalled.values())
}

func TestFanout_CloseTimesOutOnStuckSink(t *testing.T) {
	stuck := newRecordingSink("stuck")
	stuck.gate = make(chan struct{})
	defer close(stuck.gate)
	f := New[int](DefaultConfig(), stuck)
	f.Start()
	f.Publish(1)
	<-stuck.entered

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := f.Close(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFanout_CloseSinkFlushesThenStopsOnlyThatSink(t *testing.T) {
	rec, disp := newRecordingSink("recorder"), newRecordingSink("display")
	f := New[int](Config{Depth: 16}, disp, rec)
	f.Start()
	for i := 1; i <= 5; i++ {
		f.Publish(i)
	}

	require.NoError(t, f.CloseSink(context.Background(), "recorder"))
	assert.Equal(t, []int{1, 2, 3, 4, 5}, rec.values())
	assert.Equal(t, 1, rec.closeCount())

	f.Publish(6)
	require.NoError(t, f.CloseSink(context.Background(), "recorder"), "second close is a no-op")
	require.NoError(t, f.Close(context.Background()))

	assert.Equal(t, []int{1, 2, 3, 4, 5}, rec.values())
	assert.Equal(t, 1, rec.closeCount())
	assert.Equal(t, []int{1, 2, 3, 4, 5, 6}, disp.values())
}

func TestFanout_CloseWithoutStartClosesSinks(t *testing.T) {
	s := newRecordingSink("recorder")
	f := New[int](DefaultConfig(), s)

	require.NoError(t, f.Close(context.Background()))
	require.NoError(t, f.Close(context.Background()))
	assert.Equal(t, 1, s.closeCount())
}

type panicSink struct{}

func (panicSink) Name() string    { return "panicky" }
func (panicSink) Write(int) error { panic("boom") }
func (panicSink) Close() error    { return nil }

func TestFanout_ErrorsReachCallback(t *testing.T) {
	var mu sync.Mutex
	var errs []error
	cfg := Config{Depth: 8, OnError: func(sink string, err error) {
		mu.Lock()
		errs = append(errs, err)
		mu.Unlock()
	}}
	failing := newRecordingSink("failing")
	failing.failOn = 2
	f := New[int](cfg, failing, panicSink{})
	f.Start()

	f.Publish(1)
	f.Publish(2)
	require.NoError(t, f.Close(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	var sawPanic bool
	for _, err := range errs {
		if errors.Is(err, ErrSinkFailed) {
			sawPanic = true
		}
	}
	assert.True(t, sawPanic, "panic must be reported as ErrSinkFailed")
	assert.Len(t, errs, 3) // two panics, one write failure

	for _, st := range f.Stats() {
		if st.Name == "failing" {
			assert.Equal(t, uint64(1), st.Delivered)
			assert.Equal(t, uint64(1), st.Errors)
		}
	}
}

func TestFanout_PublishAfterCloseIsIgnored(t *testing.T) {
	s := newRecordingSink("recorder")
	f := New[int](DefaultConfig(), s)
	f.Start()
	require.NoError(t, f.Close(context.Background()))

	f.Publish(99)
	assert.Empty(t, s.values())
	assert.Equal(t, uint64(0), f.Stats()[0].Published)
}

func TestFanout_StartRacingCloseClosesOnce(t *testing.T) {
	for i := 0; i < 500; i++ {
		s := newRecordingSink("recorder")
		f := New[int](DefaultConfig(), s)

		started := make(chan struct{})
		go func() {
			defer close(started)
			f.Start()
		}()
		require.NoError(t, f.Close(context.Background()))
		<-started

		require.Equal(t, 1, s.closeCount(), "iteration %d", i)
	}
}

type closePanicSink struct{ *recordingSink }

func (s *closePanicSink) Close() error { panic("close boom") }

func TestFanout_PanicInCloseIsRecovered(t *testing.T) {
	t.Run("running sink", func(t *testing.T) {
		var mu sync.Mutex
		var errs []error
		cfg := Config{Depth: 8, OnError: func(sink string, err error) {
			mu.Lock()
			errs = append(errs, err)
			mu.Unlock()
		}}
		s := &closePanicSink{newRecordingSink("recorder")}
		f := New[int](cfg, s)
		f.Start()
		f.Publish(1)

		require.NoError(t, f.CloseSink(context.Background(), "recorder"))
		mu.Lock()
		defer mu.Unlock()
		require.Len(t, errs, 1)
		assert.ErrorIs(t, errs[0], ErrSinkFailed)
		assert.Equal(t, []int{1}, s.values())
	})

	t.Run("never started", func(t *testing.T) {
		f := New[int](DefaultConfig(), &closePanicSink{newRecordingSink("recorder")})
		err := f.Close(context.Background())
		assert.ErrorIs(t, err, ErrSinkFailed)
	})
}
