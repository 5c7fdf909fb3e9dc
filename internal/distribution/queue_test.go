package distribution

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain[T any](q *Queue[T]) []T {
	var out []T
	for {
		select {
		case v := <-q.C():
			out = append(out, v)
		default:
			return out
		}
	}
}

func TestQueue_DropOldestKeepsNewest(t *testing.T) {
	q := NewQueue[int](3, DropOldest)
	for i := 1; i <= 10; i++ {
		q.Push(i)
	}

	assert.Equal(t, []int{8, 9, 10}, drain(q))
	assert.Equal(t, uint64(10), q.Pushed())
	assert.Equal(t, uint64(7), q.Dropped())
}

func TestQueue_DropNewestKeepsOldest(t *testing.T) {
	q := NewQueue[int](3, DropNewest)
	for i := 1; i <= 10; i++ {
		q.Push(i)
	}

	assert.Equal(t, []int{1, 2, 3}, drain(q))
	assert.Equal(t, uint64(7), q.Dropped())
}

func TestQueue_PushReportsDrop(t *testing.T) {
	q := NewQueue[string](1, DropOldest)
	assert.False(t, q.Push("a"))
	assert.True(t, q.Push("b"))
	assert.Equal(t, []string{"b"}, drain(q))
}

func TestQueue_MinimumDepth(t *testing.T) {
	q := NewQueue[int](0, DropOldest)
	assert.Equal(t, 1, q.Cap())
}

func TestParseDropPolicy(t *testing.T) {
	for in, want := range map[string]DropPolicy{
		"":             DropOldest,
		"oldest":       DropOldest,
		"Drop-Oldest":  DropOldest,
		"newest":       DropNewest,
		" drop-newest": DropNewest,
	} {
		got, err := ParseDropPolicy(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseDropPolicy("block")
	assert.Error(t, err)
}
