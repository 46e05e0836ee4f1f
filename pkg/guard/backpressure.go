package guard

import (
	"context"
	"sync"

	"github.com/vulpeslabs/redaction-plane/internal/metrics"
)

// QueueConfig contains configuration for one backpressure queue.
type QueueConfig struct {
	// HighWaterMark pauses upstream producers when the queue reaches it.
	HighWaterMark int `json:"high_water_mark" yaml:"high_water_mark" default:"64"`
	// LowWaterMark resumes producers once the queue drains below it.
	LowWaterMark int `json:"low_water_mark" yaml:"low_water_mark" default:"16"`
	// MaxSize is the hard bound; pushes beyond it are dropped and counted.
	MaxSize int `json:"max_size" yaml:"max_size" default:"128"`
}

// Queue is a bounded FIFO of produced-but-not-yet-consumed outputs with
// watermark flow control. Crossing the high watermark pauses producers;
// draining below the low watermark resumes them. At MaxSize the newest item
// is dropped and counted rather than growing the queue. Safe for concurrent
// use.
type Queue[T any] struct {
	cfg    *QueueConfig
	name   string
	metric *metrics.Handler

	mu      sync.Mutex
	items   []T
	paused  bool
	resume  chan struct{}
	dropped int
}

// NewQueue creates a resumed, empty queue. name labels the queue's metrics.
func NewQueue[T any](cfg *QueueConfig, name string, metric *metrics.Handler) *Queue[T] {
	return &Queue[T]{cfg: cfg, name: name, metric: metric}
}

// Push appends an item. It returns false when the queue is at MaxSize and
// the item was dropped; the drop is counted, never raised.
func (q *Queue[T]) Push(item T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) >= q.cfg.MaxSize {
		q.dropped++
		if q.metric != nil {
			q.metric.IncQueueDropped(q.name)
		}
		return false
	}
	q.items = append(q.items, item)
	if !q.paused && len(q.items) >= q.cfg.HighWaterMark {
		q.paused = true
		q.resume = make(chan struct{})
	}
	q.observeDepth()
	return true
}

// Pop removes and returns the oldest item. Draining below the low watermark
// resumes paused producers.
func (q *Queue[T]) Pop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var zero T
	if len(q.items) == 0 {
		return zero, false
	}
	item := q.items[0]
	q.items = q.items[1:]
	if q.paused && len(q.items) < q.cfg.LowWaterMark {
		q.unpause()
	}
	q.observeDepth()
	return item, true
}

// Drain removes and returns everything queued, in order, and resumes
// producers. Used on shutdown so buffered output is surfaced, not lost.
func (q *Queue[T]) Drain() []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	items := q.items
	q.items = nil
	if q.paused {
		q.unpause()
	}
	q.observeDepth()
	return items
}

// Await blocks while the queue is paused, until producers are resumed or
// ctx is done.
func (q *Queue[T]) Await(ctx context.Context) error {
	for {
		q.mu.Lock()
		if !q.paused {
			q.mu.Unlock()
			return nil
		}
		resume := q.resume
		q.mu.Unlock()

		select {
		case <-resume:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Paused reports whether producers should stop pushing.
func (q *Queue[T]) Paused() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.paused
}

// Len returns the current queue depth.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Dropped returns the cumulative drop count.
func (q *Queue[T]) Dropped() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// unpause resumes producers. Caller holds mu.
func (q *Queue[T]) unpause() {
	q.paused = false
	close(q.resume)
}

func (q *Queue[T]) observeDepth() {
	if q.metric != nil {
		q.metric.SetQueueDepth(q.name, len(q.items))
	}
}
