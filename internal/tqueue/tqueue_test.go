package tqueue

import (
	"testing"

	"github.com/edoardocostantinidev/mora/internal/timestamp"
	"github.com/stretchr/testify/require"
)

func TestPeekEmpty(t *testing.T) {
	q := New()
	_, _, ok := q.Peek()
	require.False(t, ok)
}

func TestEnqueuePeekOrdersAscending(t *testing.T) {
	q := New()
	q.Enqueue(timestamp.FromUint64(30), []byte("c"))
	q.Enqueue(timestamp.FromUint64(10), []byte("a"))
	q.Enqueue(timestamp.FromUint64(20), []byte("b"))

	key, payload, ok := q.Peek()
	require.True(t, ok)
	require.Equal(t, timestamp.FromUint64(10), key)
	require.Equal(t, []byte("a"), payload)
	require.Equal(t, 3, q.Len())
}

func TestDequeueUntilDrainsInclusive(t *testing.T) {
	q := New()
	q.Enqueue(timestamp.FromUint64(10), []byte("a"))
	q.Enqueue(timestamp.FromUint64(20), []byte("b"))
	q.Enqueue(timestamp.FromUint64(30), []byte("c"))

	due := q.DequeueUntil(timestamp.FromUint64(20))
	require.Len(t, due, 2)
	require.Equal(t, []byte("a"), due[0].Payload)
	require.Equal(t, []byte("b"), due[1].Payload)
	require.Equal(t, 1, q.Len())

	_, payload, ok := q.Peek()
	require.True(t, ok)
	require.Equal(t, []byte("c"), payload)
}

func TestDequeueUntilStableFIFOForEqualKeys(t *testing.T) {
	q := New()
	k := timestamp.FromUint64(10)
	q.Enqueue(k, []byte("first"))
	q.Enqueue(k, []byte("second"))
	q.Enqueue(k, []byte("third"))

	due := q.DequeueUntil(k)
	require.Len(t, due, 3)
	require.Equal(t, []byte("first"), due[0].Payload)
	require.Equal(t, []byte("second"), due[1].Payload)
	require.Equal(t, []byte("third"), due[2].Payload)
}

func TestDequeueUntilNothingDue(t *testing.T) {
	q := New()
	q.Enqueue(timestamp.FromUint64(100), []byte("a"))
	due := q.DequeueUntil(timestamp.FromUint64(50))
	require.Empty(t, due)
	require.Equal(t, 1, q.Len())
}

func TestDequeueUntilPeekIsPure(t *testing.T) {
	q := New()
	q.Enqueue(timestamp.FromUint64(10), []byte("a"))
	q.Enqueue(timestamp.FromUint64(20), []byte("b"))

	due := q.PeekUntil(timestamp.FromUint64(20))
	require.Len(t, due, 2, "PeekUntil must report everything due")
	require.Equal(t, 2, q.Len(), "PeekUntil must not remove anything from the queue")

	q.RemoveDue(due)
	require.Equal(t, 0, q.Len())
}

func TestIsEmpty(t *testing.T) {
	q := New()
	require.True(t, q.IsEmpty())
	q.Enqueue(timestamp.Zero, []byte("x"))
	require.False(t, q.IsEmpty())
}
