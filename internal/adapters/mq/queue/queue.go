// Package queue provides the job-wakeup channel between ingest and the
// worker pool.
//
// The job table in the repository is the source of truth; wakeups are
// lossy hints. A dropped wakeup only delays a job until the next batch
// invocation drains the table.
package queue

import (
	"context"
	"sync"

	"github.com/okian/autoscale/pkg/metrics"
)

// Default queue configuration constants.
const (
	defaultCapacity = 10000
)

// Wakeup tells a worker that a specific job became pending.
type Wakeup struct {
	JobID string
}

// Queue provides non-blocking enqueue and channel-based dequeue
// semantics for job wakeups.
type Queue interface {
	// Enqueue adds a wakeup. Returns false when the queue is full or
	// closed; callers must treat that as a soft failure.
	Enqueue(ctx context.Context, w Wakeup) bool

	// Dequeue returns a channel receiving wakeups until the queue closes.
	Dequeue(ctx context.Context) <-chan Wakeup

	// Len returns the current number of queued wakeups.
	Len(ctx context.Context) int

	// Close stops the queue; the dequeue channel is closed.
	Close() error
}

// InMemoryQueue implements Queue using a buffered channel.
type InMemoryQueue struct {
	wakeups  chan Wakeup
	capacity int
	mu       sync.RWMutex
	closed   bool
}

// Option applies a configuration option to the InMemoryQueue.
type Option func(*InMemoryQueue)

// WithCapacity bounds the wakeup buffer.
func WithCapacity(n int) Option {
	return func(q *InMemoryQueue) {
		if n > 0 {
			q.capacity = n
		}
	}
}

// NewInMemoryQueue creates a new in-memory wakeup queue.
func NewInMemoryQueue(opts ...Option) *InMemoryQueue {
	q := &InMemoryQueue{capacity: defaultCapacity}
	for _, opt := range opts {
		opt(q)
	}
	q.wakeups = make(chan Wakeup, q.capacity)
	return q
}

// Enqueue adds a wakeup without blocking.
func (q *InMemoryQueue) Enqueue(ctx context.Context, w Wakeup) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return false
	}
	select {
	case q.wakeups <- w:
		metrics.UpdateQueueDepth(len(q.wakeups))
		return true
	case <-ctx.Done():
		return false
	default:
		return false
	}
}

// Dequeue returns a channel that receives wakeups as they arrive.
func (q *InMemoryQueue) Dequeue(ctx context.Context) <-chan Wakeup {
	out := make(chan Wakeup)
	go func() {
		defer close(out)
		for w := range q.wakeups {
			select {
			case out <- w:
				metrics.UpdateQueueDepth(len(q.wakeups))
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// Len returns the current number of queued wakeups.
func (q *InMemoryQueue) Len(ctx context.Context) int {
	return len(q.wakeups)
}

// Close stops the queue.
func (q *InMemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	close(q.wakeups)
	q.closed = true
	return nil
}
