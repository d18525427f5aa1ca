// Package queue provides the bounded FIFO used between pipeline stages.
package queue

import (
	"errors"
	"time"

	"github.com/bugg-resources/buggd/internal/stopflag"
)

// ErrShutdown is returned by Put and Get once the shutdown flag is set and
// the operation can no longer complete.
var ErrShutdown = errors.New("queue: shutting down")

// pollInterval bounds how long a blocked Put or Get waits between checks of
// the shutdown flag. Blocked callers are not woken immediately on shutdown
// but observe it within one interval.
const pollInterval = 100 * time.Millisecond

// Queue is a bounded FIFO. Put blocks while the queue is full and Get blocks
// while it is empty; both unblock with ErrShutdown once the shared shutdown
// flag is set. Ordering is strict FIFO.
type Queue[T any] struct {
	ch   chan T
	stop *stopflag.Flag
}

// New creates a queue with the given fixed capacity, which must be positive.
func New[T any](capacity int, stop *stopflag.Flag) *Queue[T] {
	if capacity <= 0 {
		panic("queue: capacity must be positive")
	}
	return &Queue[T]{ch: make(chan T, capacity), stop: stop}
}

// Put appends an item, blocking while the queue is full. It returns
// ErrShutdown if the shutdown flag is set before space becomes available.
func (q *Queue[T]) Put(item T) error {
	for {
		if q.stop.IsSet() {
			return ErrShutdown
		}
		select {
		case q.ch <- item:
			return nil
		case <-time.After(pollInterval):
		}
	}
}

// Get removes and returns the oldest item, blocking while the queue is
// empty. Once the shutdown flag is set Get returns ErrShutdown even with
// items still queued: the consumer finishes only its in-flight item, and
// a queued backlog stays where its producer left it.
func (q *Queue[T]) Get() (T, error) {
	for {
		if q.stop.IsSet() {
			var zero T
			return zero, ErrShutdown
		}
		select {
		case item := <-q.ch:
			return item, nil
		case <-time.After(pollInterval):
		}
	}
}

// Len returns the number of items currently queued.
func (q *Queue[T]) Len() int {
	return len(q.ch)
}

// Cap returns the fixed capacity of the queue.
func (q *Queue[T]) Cap() int {
	return cap(q.ch)
}
