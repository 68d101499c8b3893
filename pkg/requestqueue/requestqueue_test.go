package requestqueue

import (
	"testing"

	"github.com/sentrypool/sentrypool/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFloorsCapacity(t *testing.T) {
	q := New(1)

	for i := 0; i < types.MinRequestQueueSize; i++ {
		_, ok := q.Enqueue(types.RequestNodeDown, []int{0}, true)
		require.True(t, ok, "capacity must be floored to MinRequestQueueSize")
	}
	_, ok := q.Enqueue(types.RequestNodeDown, []int{0}, true)
	assert.False(t, ok, "queue should be full after MinRequestQueueSize entries")
}

func TestEnqueueDequeueFIFO(t *testing.T) {
	q := New(types.MinRequestQueueSize)

	first, ok := q.Enqueue(types.RequestNodeDown, []int{1}, true)
	require.True(t, ok)
	second, ok := q.Enqueue(types.RequestNodeUp, []int{2}, false)
	require.True(t, ok)

	got, ok := q.Dequeue()
	require.True(t, ok)
	assert.Equal(t, first.ID, got.ID)

	got, ok = q.Dequeue()
	require.True(t, ok)
	assert.Equal(t, second.ID, got.ID)
}

func TestDequeueEmptyReturnsFalse(t *testing.T) {
	q := New(types.MinRequestQueueSize)

	_, ok := q.Dequeue()
	assert.False(t, ok)
}

func TestEnqueueRejectsWhenFull(t *testing.T) {
	q := New(types.MinRequestQueueSize)
	for i := 0; i < types.MinRequestQueueSize; i++ {
		_, ok := q.Enqueue(types.RequestCloseIdle, nil, false)
		require.True(t, ok)
	}

	_, ok := q.Enqueue(types.RequestCloseIdle, nil, false)
	assert.False(t, ok)
	assert.True(t, q.Full())
}

func TestEmptyAndLen(t *testing.T) {
	q := New(types.MinRequestQueueSize)
	assert.True(t, q.Empty())
	assert.Equal(t, 0, q.Len())

	q.Enqueue(types.RequestNodeDown, []int{0}, true)
	assert.False(t, q.Empty())
	assert.Equal(t, 1, q.Len())

	q.Dequeue()
	assert.True(t, q.Empty())
}

func TestEnqueueAssignsUniqueIDs(t *testing.T) {
	q := New(types.MinRequestQueueSize)

	a, _ := q.Enqueue(types.RequestNodeDown, []int{0}, true)
	b, _ := q.Enqueue(types.RequestNodeDown, []int{1}, true)

	assert.NotEmpty(t, a.ID)
	assert.NotEqual(t, a.ID, b.ID)
}
