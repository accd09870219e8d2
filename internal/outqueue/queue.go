// Package outqueue holds messages a client could not transmit yet. Messages
// leave the queue only after they were written successfully.
package outqueue

import (
	"errors"
	"sync"
)

// ErrQueueFull is returned by Push on a full queue with the Reject policy
var ErrQueueFull = errors.New("outbound queue is full")

// OverflowPolicy decides what Push does when a bounded queue is full
type OverflowPolicy int

const (
	// Reject refuses the new message
	Reject OverflowPolicy = iota
	// DropOldest evicts the head to make room for the new message
	DropOldest
)

// ParsePolicy maps a config value onto an OverflowPolicy
func ParsePolicy(s string) OverflowPolicy {
	if s == "drop-oldest" {
		return DropOldest
	}
	return Reject
}

func (p OverflowPolicy) String() string {
	if p == DropOldest {
		return "drop-oldest"
	}
	return "reject"
}

// Queue is a FIFO of raw messages. A capacity of 0 means unbounded.
// All methods are safe for concurrent use.
type Queue struct {
	mu       sync.Mutex
	items    [][]byte
	capacity int
	policy   OverflowPolicy
	dropped  uint64
}

// New creates a queue
func New(capacity int, policy OverflowPolicy) *Queue {
	if capacity < 0 {
		capacity = 0
	}
	return &Queue{capacity: capacity, policy: policy}
}

// Push appends msg. It reports whether an older message was evicted.
func (q *Queue) Push(msg []byte) (evicted bool, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.capacity > 0 && len(q.items) >= q.capacity {
		if q.policy == Reject {
			q.dropped++
			return false, ErrQueueFull
		}
		q.items[0] = nil
		q.items = q.items[1:]
		q.dropped++
		evicted = true
	}
	q.items = append(q.items, msg)
	return evicted, nil
}

// Peek returns the head without removing it
func (q *Queue) Peek() ([]byte, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil, false
	}
	return q.items[0], true
}

// Pop removes and returns the head
func (q *Queue) Pop() ([]byte, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil, false
	}
	msg := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	if len(q.items) == 0 {
		q.items = nil
	}
	return msg, true
}

// Drain writes messages in FIFO order with send, removing each one only after
// send succeeded. It stops at the first error and returns the number sent.
func (q *Queue) Drain(send func([]byte) error) (int, error) {
	sent := 0
	for {
		msg, ok := q.Peek()
		if !ok {
			return sent, nil
		}
		if err := send(msg); err != nil {
			return sent, err
		}
		q.Pop()
		sent++
	}
}

// Len returns the number of pending messages
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Dropped returns how many messages were rejected or evicted
func (q *Queue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Clear discards every pending message and returns how many there were
func (q *Queue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.items)
	q.items = nil
	return n
}
