package pubsub

import (
	"context"
	"errors"
	"io"
	"sync"
)

// ErrCanceled is returned by Next once the queue has been canceled.
var ErrCanceled = errors.New("pubsub: subscription canceled")

// Overflow selects what a full Queue does with a new value.
type Overflow int

const (
	// DropNewest discards the value being pushed.
	DropNewest Overflow = iota
	// DropOldest evicts the head of the queue to make room.
	DropOldest
)

// Queue is a bounded FIFO mailbox with a single consumer. Push never blocks.
type Queue[T any] struct {
	mu       sync.Mutex
	items    []T
	limit    int
	overflow Overflow
	notify   chan struct{}
	done     chan struct{}
	canceled bool
	finished bool
	dropped  uint64
}

// NewQueue creates a queue holding at most limit values. A non-positive limit
// means unbounded.
func NewQueue[T any](limit int, overflow Overflow) *Queue[T] {
	return &Queue[T]{
		limit:    limit,
		overflow: overflow,
		notify:   make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// Push appends v. It reports false when v was not queued, either because
// the queue was canceled or because it was full under DropNewest. Under
// DropOldest the push succeeds and the evicted value is counted as dropped.
func (q *Queue[T]) Push(v T) bool {
	q.mu.Lock()
	if q.canceled || q.finished {
		q.mu.Unlock()
		return false
	}
	accepted := true
	if q.limit > 0 && len(q.items) >= q.limit {
		q.dropped++
		switch q.overflow {
		case DropOldest:
			var zero T
			q.items[0] = zero
			q.items = append(q.items[1:], v)
		default:
			accepted = false
		}
	} else {
		q.items = append(q.items, v)
	}
	q.mu.Unlock()

	if accepted {
		select {
		case q.notify <- struct{}{}:
		default:
		}
	}
	return accepted
}

// Next blocks until a value is available, the queue is canceled or ctx is
// done. A finished queue returns its remaining values and then io.EOF.
func (q *Queue[T]) Next(ctx context.Context) (T, error) {
	var zero T
	for {
		q.mu.Lock()
		if q.canceled {
			q.mu.Unlock()
			return zero, ErrCanceled
		}
		if len(q.items) > 0 {
			v := q.items[0]
			q.items[0] = zero
			q.items = q.items[1:]
			q.mu.Unlock()
			return v, nil
		}
		if q.finished {
			q.mu.Unlock()
			return zero, io.EOF
		}
		q.mu.Unlock()

		select {
		case <-q.notify:
		case <-q.done:
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
}

// Cancel discards queued values and wakes any waiting consumer. It is safe
// to call more than once. It reports whether this call did the canceling.
func (q *Queue[T]) Cancel() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.canceled {
		return false
	}
	q.canceled = true
	q.items = nil
	close(q.done)
	return true
}

// Finish marks the end of input. Values already queued are still returned
// by Next.
func (q *Queue[T]) Finish() {
	q.mu.Lock()
	q.finished = true
	q.mu.Unlock()
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Done is closed when the queue is canceled.
func (q *Queue[T]) Done() <-chan struct{} {
	return q.done
}

// Len returns the number of queued values.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Dropped returns how many values overflow has discarded so far.
func (q *Queue[T]) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}
