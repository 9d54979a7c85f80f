package utils

import (
	"sync"
	"sync/atomic"
)

// Queue is an unbounded single-consumer hand-off channel. Push never blocks,
// so a slow consumer cannot stall the producer.
type Queue[T any] struct {
	in      chan T
	out     chan T
	done    chan struct{}
	discard sync.Once
	mu      sync.Mutex
	closed  bool
	depth   atomic.Int64
}

// NewQueue creates a queue and starts its forwarding goroutine.
func NewQueue[T any]() *Queue[T] {
	q := &Queue[T]{
		in:   make(chan T, 64),
		out:  make(chan T),
		done: make(chan struct{}),
	}
	go q.forward()
	return q
}

// Push enqueues an item. It returns false once the queue is closed.
func (q *Queue[T]) Push(item T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.depth.Add(1)
	q.in <- item
	return true
}

// Out is the receiving end. It is closed after Close once every buffered
// item has been delivered.
func (q *Queue[T]) Out() <-chan T {
	return q.out
}

// Len reports the number of items pushed but not yet received.
func (q *Queue[T]) Len() int {
	return int(q.depth.Load())
}

// Close stops accepting items. Close is idempotent.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.in)
}

// Discard is called by a consumer that will not read again. Buffered items
// are dropped, Out is closed and later pushes are refused.
func (q *Queue[T]) Discard() {
	q.Close()
	q.discard.Do(func() { close(q.done) })
}

func (q *Queue[T]) forward() {
	defer close(q.out)

	var buf []T
	in := q.in
	for in != nil || len(buf) > 0 {
		select {
		case <-q.done:
			q.depth.Store(0)
			return
		default:
		}

		var (
			out  chan T
			next T
		)
		if len(buf) > 0 {
			out = q.out
			next = buf[0]
		}

		select {
		case item, ok := <-in:
			if !ok {
				in = nil
				continue
			}
			buf = append(buf, item)
		case out <- next:
			var zero T
			buf[0] = zero
			buf = buf[1:]
			q.depth.Add(-1)
		case <-q.done:
			q.depth.Store(0)
			return
		}
	}
}
