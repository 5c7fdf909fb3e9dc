package lifecycle

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitFinished(t *testing.T, c *Coordinator) error {
	t.Helper()
	select {
	case <-c.Finished():
	case <-time.After(5 * time.Second):
		t.Fatal("teardown did not finish")
	}
	return c.Wait()
}

func TestRequestStop_ConcurrentCallsTearDownOnce(t *testing.T) {
	c := New(context.Background())

	var lands, closes atomic.Int32
	c.AddStep("land", func(context.Context) error { lands.Add(1); return nil })
	c.AddStep("close-recorder", func(context.Context) error { closes.Add(1); return nil })

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				c.RequestStop(ErrInterrupted)
			} else {
				c.RequestStop(ErrUserQuit)
			}
		}(i)
	}
	wg.Wait()

	require.NoError(t, waitFinished(t, c))
	assert.Equal(t, int32(1), lands.Load())
	assert.Equal(t, int32(1), closes.Load())

	// a late second request changes nothing
	c.RequestStop(errors.New("late"))
	assert.Equal(t, int32(1), lands.Load())
	cause := c.Cause()
	assert.True(t, errors.Is(cause, ErrInterrupted) || errors.Is(cause, ErrUserQuit))
}

func TestRequestStop_StepsRunInOrderDespiteFailures(t *testing.T) {
	c := New(context.Background())

	var order []string
	var mu sync.Mutex
	record := func(name string) {
		mu.Lock()
		order = append(order, name)
		mu.Unlock()
	}
	landErr := errors.New("no response")

	c.AddStep("halt", func(context.Context) error { record("halt"); return nil })
	c.AddStep("land", func(context.Context) error { record("land"); return landErr })
	c.AddStep("stream-off", func(context.Context) error { record("stream-off"); panic("socket gone") })
	c.AddStep("close-recorder", func(context.Context) error { record("close-recorder"); return nil })

	c.RequestStop(nil)
	err := waitFinished(t, c)

	assert.Equal(t, []string{"halt", "land", "stream-off", "close-recorder"}, order)
	require.Error(t, err)
	assert.ErrorIs(t, err, landErr)
	assert.Contains(t, err.Error(), "stream-off: panic: socket gone")

	results := c.Results()
	require.Len(t, results, 4)
	assert.NoError(t, results[0].Err)
	assert.Error(t, results[1].Err)
	assert.NoError(t, results[3].Err)
}

func TestRequestStop_StepTimeoutDoesNotBlockLaterSteps(t *testing.T) {
	c := New(context.Background())
	release := make(chan struct{})
	defer close(release)

	var ran atomic.Bool
	c.AddStepTimeout("land", 20*time.Millisecond, func(context.Context) error {
		<-release
		return nil
	})
	c.AddStep("close-recorder", func(context.Context) error { ran.Store(true); return nil })

	c.RequestStop(nil)
	err := waitFinished(t, c)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, ran.Load())
}

func TestStepContextOutlivesSessionContext(t *testing.T) {
	c := New(context.Background())
	var stepErr error
	c.AddStep("land", func(ctx context.Context) error {
		stepErr = ctx.Err()
		return nil
	})
	c.RequestStop(nil)
	require.NoError(t, waitFinished(t, c))

	assert.NoError(t, stepErr)
	assert.Error(t, c.Context().Err())
}

func TestStopObservedByWorkers(t *testing.T) {
	c := New(context.Background())
	assert.False(t, c.Stopping())

	exited := make(chan struct{})
	go func() {
		defer close(exited)
		for {
			select {
			case <-c.Done():
				return
			default:
				time.Sleep(time.Millisecond)
			}
		}
	}()

	c.RequestStop(ErrUserQuit)
	select {
	case <-exited:
	case <-time.After(time.Second):
		t.Fatal("worker did not observe stop")
	}
	assert.True(t, c.Stopping())
	assert.ErrorIs(t, c.Cause(), ErrUserQuit)
	require.NoError(t, waitFinished(t, c))
}

func TestParentCancellationStops(t *testing.T) {
	parent, cancel := context.WithCancelCause(context.Background())
	c := New(parent)
	var landed atomic.Bool
	c.AddStep("land", func(context.Context) error { landed.Store(true); return nil })

	cancel(ErrInterrupted)
	require.NoError(t, waitFinished(t, c))
	assert.True(t, landed.Load())
	assert.ErrorIs(t, c.Cause(), ErrInterrupted)
}

func TestAddStepAfterStopIgnored(t *testing.T) {
	c := New(context.Background())
	c.RequestStop(nil)
	var ran atomic.Bool
	c.AddStep("late", func(context.Context) error { ran.Store(true); return nil })
	require.NoError(t, waitFinished(t, c))
	assert.False(t, ran.Load())
}
