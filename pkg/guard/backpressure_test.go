package guard

import (
	"context"
	"testing"
	"time"
)

func newTestQueue() *Queue[int] {
	return NewQueue[int](&QueueConfig{HighWaterMark: 3, LowWaterMark: 2, MaxSize: 5}, "test", nil)
}

func TestQueueWatermarks(t *testing.T) {
	q := newTestQueue()

	q.Push(1)
	q.Push(2)
	if q.Paused() {
		t.Fatal("paused below the high watermark")
	}
	q.Push(3)
	if !q.Paused() {
		t.Fatal("reaching the high watermark must pause producers")
	}

	q.Pop() // depth 2, still at the low watermark
	if !q.Paused() {
		t.Fatal("resumed before draining below the low watermark")
	}
	q.Pop() // depth 1
	if q.Paused() {
		t.Fatal("draining below the low watermark must resume producers")
	}
}

func TestQueueDropsNewestAtMaxSize(t *testing.T) {
	q := newTestQueue()

	for i := 1; i <= 5; i++ {
		if !q.Push(i) {
			t.Fatalf("push %d rejected below max size", i)
		}
	}
	if q.Push(6) {
		t.Fatal("push beyond max size must be dropped")
	}
	if q.Dropped() != 1 {
		t.Errorf("dropped = %d, want 1", q.Dropped())
	}
	if q.Len() != 5 {
		t.Errorf("len = %d, the queue must not grow past max size", q.Len())
	}
	// The queued items are the oldest five; the newest was the casualty.
	if v, _ := q.Pop(); v != 1 {
		t.Errorf("head = %d, want FIFO order preserved", v)
	}
}

func TestQueueDrain(t *testing.T) {
	q := newTestQueue()
	q.Push(1)
	q.Push(2)
	q.Push(3)

	items := q.Drain()
	if len(items) != 3 || items[0] != 1 || items[2] != 3 {
		t.Errorf("drained = %v", items)
	}
	if q.Len() != 0 {
		t.Errorf("len after drain = %d", q.Len())
	}
	if q.Paused() {
		t.Error("drain must resume producers")
	}
}

func TestQueueAwaitBlocksWhilePaused(t *testing.T) {
	q := newTestQueue()
	q.Push(1)
	q.Push(2)
	q.Push(3) // paused

	released := make(chan error, 1)
	go func() { released <- q.Await(context.Background()) }()

	select {
	case <-released:
		t.Fatal("Await returned while paused")
	case <-time.After(50 * time.Millisecond):
	}

	q.Pop()
	q.Pop() // below low watermark, resumed

	select {
	case err := <-released:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Await never released after resume")
	}
}

func TestQueueAwaitHonorsContext(t *testing.T) {
	q := newTestQueue()
	q.Push(1)
	q.Push(2)
	q.Push(3)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := q.Await(ctx); err != context.DeadlineExceeded {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
}

func TestQueueAwaitPassesWhenResumed(t *testing.T) {
	q := newTestQueue()
	if err := q.Await(context.Background()); err != nil {
		t.Fatalf("Await on a resumed queue must not block: %v", err)
	}
}
