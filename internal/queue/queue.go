// Package queue provides the bounded FIFO holding area between job
// submission and worker pickup. A full queue rejects instead of growing,
// which is what keeps memory bounded under load spikes.
package queue

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrFull signals the caller to back off; submissions are never
	// silently dropped or blocked.
	ErrFull = errors.New("queue full")

	// ErrClosed is returned after Close, during shutdown.
	ErrClosed = errors.New("queue closed")
)

// Queue is a bounded FIFO of job ids backed by a buffered channel.
type Queue struct {
	ch        chan string
	done      chan struct{}
	closeOnce sync.Once
}

// New creates a queue with the given capacity.
func New(capacity int) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue{
		ch:   make(chan string, capacity),
		done: make(chan struct{}),
	}
}

// Enqueue adds a job id without blocking. Returns ErrFull at capacity.
func (q *Queue) Enqueue(id string) error {
	select {
	case <-q.done:
		return ErrClosed
	default:
	}

	select {
	case q.ch <- id:
		return nil
	default:
		return ErrFull
	}
}

// Dequeue blocks until a job id is available, the context is cancelled, or
// the queue is closed.
func (q *Queue) Dequeue(ctx context.Context) (string, error) {
	select {
	case id := <-q.ch:
		return id, nil
	case <-ctx.Done():
		return "", ctx.Err()
	case <-q.done:
		// Drain what is left so queued jobs are not lost on shutdown races.
		select {
		case id := <-q.ch:
			return id, nil
		default:
			return "", ErrClosed
		}
	}
}

// Len reports how many jobs are currently waiting.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Cap reports the configured capacity.
func (q *Queue) Cap() int {
	return cap(q.ch)
}

// Close stops the queue. Safe to call from multiple goroutines; pending
// Dequeue calls return ErrClosed once the buffer is drained.
func (q *Queue) Close() {
	q.closeOnce.Do(func() {
		close(q.done)
	})
}
