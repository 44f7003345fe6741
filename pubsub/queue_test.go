package pubsub

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueOverflow(t *testing.T) {
	tests := []struct {
		name     string
		overflow Overflow
		want     []int
	}{
		{"drop newest", DropNewest, []int{1, 2}},
		{"drop oldest", DropOldest, []int{3, 4}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := NewQueue[int](2, tt.overflow)
			for i := 1; i <= 4; i++ {
				q.Push(i)
			}
			assert.Equal(t, uint64(2), q.Dropped())
			require.Equal(t, 2, q.Len())
			for _, want := range tt.want {
				got, err := q.Next(context.Background())
				require.NoError(t, err)
				assert.Equal(t, want, got)
			}
		})
	}
}

func TestQueueUnbounded(t *testing.T) {
	q := NewQueue[int](0, DropNewest)
	for i := 0; i < 1000; i++ {
		assert.True(t, q.Push(i))
	}
	assert.Equal(t, 1000, q.Len())
	assert.Equal(t, uint64(0), q.Dropped())
}

func TestQueueCancel(t *testing.T) {
	q := NewQueue[string](4, DropNewest)
	q.Push("a")
	assert.True(t, q.Cancel())
	assert.False(t, q.Cancel())
	assert.False(t, q.Push("b"))
	assert.Equal(t, 0, q.Len())
	_, err := q.Next(context.Background())
	assert.ErrorIs(t, err, ErrCanceled)
}

func TestQueueFinish(t *testing.T) {
	q := NewQueue[int](4, DropNewest)
	q.Push(1)
	q.Finish()
	assert.False(t, q.Push(2))

	v, err := q.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, v)
	_, err = q.Next(context.Background())
	assert.ErrorIs(t, err, io.EOF)
}
