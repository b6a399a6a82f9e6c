// Package queue implements the fetch queue: a bounded merge point into which
// any number of partition fetch streams put messages, and from which a single
// consumer polls them with a timeout.
package queue

import (
	"context"
	"sync"
	"time"

	"github.com/mkocikowski/kafkaqueue"
	kqerrors "github.com/mkocikowski/kafkaqueue/errors"
)

const DefaultCapacity = 1024

// Queue is safe for concurrent Put from multiple goroutines. Poll is meant to
// be called from one goroutine at a time. Messages put by a single goroutine
// are polled in the order they were put; there is no ordering between
// messages put by different goroutines.
type Queue struct {
	messages  chan *kafkaqueue.Message
	done      chan struct{}
	closeOnce sync.Once
}

// New queue holding up to capacity messages. Zero capacity means
// DefaultCapacity.
func New(capacity int) (*Queue, error) {
	if capacity == 0 {
		capacity = DefaultCapacity
	}
	if capacity < 0 {
		return nil, kqerrors.Kindf(kqerrors.ErrResource, "invalid queue capacity %d", capacity)
	}
	q := &Queue{
		messages: make(chan *kafkaqueue.Message, capacity),
		done:     make(chan struct{}),
	}
	return q, nil
}

// Put m on the queue, blocking while the queue is full. Returns ctx.Err() if
// ctx is done before there is room, and errors.ErrClosed if the queue is
// closed.
func (q *Queue) Put(ctx context.Context, m *kafkaqueue.Message) error {
	select {
	case <-q.done:
		return kqerrors.ErrClosed
	default:
	}
	select {
	case q.messages <- m:
		return nil
	case <-q.done:
		return kqerrors.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Poll returns the next message. If a message is available it is returned
// even if ctx is already done, so an expired ctx makes for a non-blocking
// poll. Otherwise Poll waits until a message arrives, ctx is done (returns
// ctx.Err()), or the queue is closed (returns errors.ErrClosed).
func (q *Queue) Poll(ctx context.Context) (*kafkaqueue.Message, error) {
	select {
	case <-q.done:
		return nil, kqerrors.ErrClosed
	default:
	}
	select {
	case m := <-q.messages:
		return m, nil
	default:
	}
	select {
	case m := <-q.messages:
		return m, nil
	case <-q.done:
		return nil, kqerrors.ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// PollTimeout is Poll bounded by timeout. It returns nil message and nil
// error if nothing arrived within timeout.
func (q *Queue) PollTimeout(timeout time.Duration) (*kafkaqueue.Message, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	m, err := q.Poll(ctx)
	if err == context.DeadlineExceeded {
		return nil, nil
	}
	return m, err
}

// Len is the number of messages waiting to be polled.
func (q *Queue) Len() int {
	return len(q.messages)
}

// Cap is the capacity of the queue.
func (q *Queue) Cap() int {
	return cap(q.messages)
}

// Close the queue. Pending and blocked Put calls return kqerrors.ErrClosed,
// messages still on the queue are discarded. Idempotent.
func (q *Queue) Close() {
	q.closeOnce.Do(func() {
		close(q.done)
	})
}
