// Package workqueue decouples ingestion from slow analysis with a bounded
// problem queue and a pool of workers draining it.
package workqueue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tinytelemetry/triage/internal/model"
)

var (
	// ErrClosed is returned by Put after Close, and by Get once the queue is
	// closed and drained.
	ErrClosed = errors.New("workqueue: closed")
	// ErrTimeout is returned by Get when no task arrived in time.
	ErrTimeout = errors.New("workqueue: get timed out")
)

// Stats is a point-in-time view of the queue.
type Stats struct {
	Depth       int   `json:"depth"`
	Capacity    int   `json:"capacity"`
	Put         int64 `json:"put"`
	Acked       int64 `json:"acked"`
	BlockedPuts int64 `json:"blocked_puts"`
	Closed      bool  `json:"closed"`
}

// Queue is a bounded FIFO of problem tasks. There is a single producer, which
// must call Close after its last Put; consumers are many.
type Queue struct {
	ch        chan model.ProblemTask
	closed    chan struct{}
	closeOnce sync.Once

	put     atomic.Int64
	acked   atomic.Int64
	blocked atomic.Int64

	mu      sync.Mutex
	waiters []chan struct{}
}

// New creates a queue holding at most capacity tasks.
func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = model.DefaultQueueCapacity
	}
	return &Queue{
		ch:     make(chan model.ProblemTask, capacity),
		closed: make(chan struct{}),
	}
}

// Put enqueues task, blocking while the queue is full. It gives up only when
// ctx ends or the queue is closed.
func (q *Queue) Put(ctx context.Context, task model.ProblemTask) error {
	select {
	case <-q.closed:
		return ErrClosed
	default:
	}

	q.put.Add(1)
	select {
	case q.ch <- task:
		return nil
	default:
	}

	q.blocked.Add(1)
	select {
	case q.ch <- task:
		return nil
	case <-q.closed:
		q.undoPut()
		return ErrClosed
	case <-ctx.Done():
		q.undoPut()
		return ctx.Err()
	}
}

func (q *Queue) undoPut() {
	q.put.Add(-1)
	q.notifyIfIdle()
}

// Get dequeues one task, waiting at most timeout. It returns ErrTimeout when
// nothing arrived, and ErrClosed once the queue is closed and empty.
func (q *Queue) Get(ctx context.Context, timeout time.Duration) (model.ProblemTask, error) {
	if timeout <= 0 {
		timeout = model.DefaultDequeueTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case task := <-q.ch:
		return task, nil
	case <-q.closed:
		select {
		case task := <-q.ch:
			return task, nil
		default:
			return model.ProblemTask{}, ErrClosed
		}
	case <-timer.C:
		return model.ProblemTask{}, ErrTimeout
	case <-ctx.Done():
		return model.ProblemTask{}, ctx.Err()
	}
}

// Ack marks one dequeued task as fully handled.
func (q *Queue) Ack() {
	q.acked.Add(1)
	q.notifyIfIdle()
}

func (q *Queue) notifyIfIdle() {
	if q.acked.Load() < q.put.Load() {
		return
	}
	q.mu.Lock()
	waiters := q.waiters
	q.waiters = nil
	q.mu.Unlock()
	for _, w := range waiters {
		close(w)
	}
}

// Close signals that no more tasks will be put. It is safe to call more than once.
func (q *Queue) Close() {
	q.closeOnce.Do(func() { close(q.closed) })
}

// Closed reports whether Close was called.
func (q *Queue) Closed() bool {
	select {
	case <-q.closed:
		return true
	default:
		return false
	}
}

// Wait blocks until every put task has been acknowledged or ctx ends.
func (q *Queue) Wait(ctx context.Context) error {
	for {
		q.mu.Lock()
		if q.acked.Load() >= q.put.Load() {
			q.mu.Unlock()
			return nil
		}
		w := make(chan struct{})
		q.waiters = append(q.waiters, w)
		q.mu.Unlock()

		select {
		case <-w:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Len returns the number of tasks waiting to be dequeued.
func (q *Queue) Len() int { return len(q.ch) }

// Stats returns current counters.
func (q *Queue) Stats() Stats {
	return Stats{
		Depth:       len(q.ch),
		Capacity:    cap(q.ch),
		Put:         q.put.Load(),
		Acked:       q.acked.Load(),
		BlockedPuts: q.blocked.Load(),
		Closed:      q.Closed(),
	}
}
