// Package queue implements the bounded hand-off queue between the collection
// task and the consumers.
package queue

import (
	"context"
	"errors"
	"sync"

	"github.com/Guliveer/databot/internal/event"
)

var (
	// ErrFull is returned by Offer when the queue has no free slot.
	ErrFull = errors.New("event queue is full")
	// ErrClosed is returned once the queue is closed (Offer) or closed and
	// drained (Take).
	ErrClosed = errors.New("event queue is closed")
)

// DefaultCapacity is used when a non-positive capacity is requested.
const DefaultCapacity = 10

// Queue is a FIFO of collected events with a fixed capacity. Producers never
// block; each event is delivered to at most one taker.
type Queue struct {
	ch chan *event.MultiSourceReading

	mu     sync.RWMutex
	closed bool
}

// New creates a queue holding at most capacity events.
func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue{ch: make(chan *event.MultiSourceReading, capacity)}
}

// Offer enqueues ev without blocking.
func (q *Queue) Offer(ev *event.MultiSourceReading) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrClosed
	}
	select {
	case q.ch <- ev:
		return nil
	default:
		return ErrFull
	}
}

// Take blocks until an event is available, ctx is done, or the queue is
// closed and empty.
func (q *Queue) Take(ctx context.Context) (*event.MultiSourceReading, error) {
	select {
	case ev, ok := <-q.ch:
		if !ok {
			return nil, ErrClosed
		}
		return ev, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Poll returns the head event without blocking, or false when empty.
func (q *Queue) Poll() (*event.MultiSourceReading, bool) {
	select {
	case ev, ok := <-q.ch:
		if !ok {
			return nil, false
		}
		return ev, true
	default:
		return nil, false
	}
}

// Len returns the number of queued events.
func (q *Queue) Len() int { return len(q.ch) }

// Cap returns the queue capacity.
func (q *Queue) Cap() int { return cap(q.ch) }

// Close stops accepting events. Queued events can still be taken.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.ch)
}

// Closed reports whether Close was called.
func (q *Queue) Closed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}
