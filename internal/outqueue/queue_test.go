package outqueue

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFIFOOrder(t *testing.T) {
	q := New(0, Reject)
	for i := 0; i < 100; i++ {
		_, err := q.Push([]byte(fmt.Sprintf("msg-%d\n", i)))
		require.NoError(t, err)
	}
	assert.Equal(t, 100, q.Len())

	for i := 0; i < 100; i++ {
		msg, ok := q.Pop()
		require.True(t, ok)
		assert.Equal(t, fmt.Sprintf("msg-%d\n", i), string(msg))
	}
	_, ok := q.Pop()
	assert.False(t, ok)
}

func TestDrainStopsAtFailureAndKeepsHead(t *testing.T) {
	q := New(0, Reject)
	for _, m := range []string{"a\n", "b\n", "c\n"} {
		_, err := q.Push([]byte(m))
		require.NoError(t, err)
	}

	var got []string
	failOn := "b\n"
	sent, err := q.Drain(func(msg []byte) error {
		if string(msg) == failOn {
			return errors.New("broken pipe")
		}
		got = append(got, string(msg))
		return nil
	})
	require.Error(t, err)
	assert.Equal(t, 1, sent)
	assert.Equal(t, []string{"a\n"}, got)
	assert.Equal(t, 2, q.Len(), "unsent messages stay queued")

	head, ok := q.Peek()
	require.True(t, ok)
	assert.Equal(t, "b\n", string(head))

	failOn = ""
	sent, err = q.Drain(func(msg []byte) error {
		got = append(got, string(msg))
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, sent)
	assert.Equal(t, []string{"a\n", "b\n", "c\n"}, got)
	assert.Zero(t, q.Len())
}

func TestBoundedReject(t *testing.T) {
	q := New(2, Reject)
	_, err := q.Push([]byte("1"))
	require.NoError(t, err)
	_, err = q.Push([]byte("2"))
	require.NoError(t, err)

	_, err = q.Push([]byte("3"))
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.Equal(t, 2, q.Len())
	assert.Equal(t, uint64(1), q.Dropped())

	head, _ := q.Peek()
	assert.Equal(t, "1", string(head))
}

func TestBoundedDropOldest(t *testing.T) {
	q := New(2, ParsePolicy("drop-oldest"))
	for _, m := range []string{"1", "2", "3"} {
		_, err := q.Push([]byte(m))
		require.NoError(t, err)
	}

	assert.Equal(t, 2, q.Len())
	assert.Equal(t, uint64(1), q.Dropped())
	a, _ := q.Pop()
	b, _ := q.Pop()
	assert.Equal(t, []string{"2", "3"}, []string{string(a), string(b)})
}

func TestClear(t *testing.T) {
	q := New(0, Reject)
	q.Push([]byte("x"))
	q.Push([]byte("y"))
	assert.Equal(t, 2, q.Clear())
	assert.Zero(t, q.Len())
	assert.Equal(t, "reject", ParsePolicy("anything").String())
}
