package pubsub

import (
	"container/heap"
	"context"
	"errors"
	"sync"
)

// ErrQueueClosed is returned by Receive after Close drains the queue.
var ErrQueueClosed = errors.New("pubsub: queue closed")

// Queue is an unbounded priority queue of Events for one subscriber.
// Delivery order is priority ascending, then enqueue order (FIFO) among
// equal priorities. Push never blocks; Receive blocks until an event is
// available, the context is done, or the queue is closed.
//
// A Queue expects a single receiver: the owning component's or service's
// inbound loop.
type Queue struct {
	mu     sync.Mutex
	items  eventHeap
	seq    uint64
	closed bool
	signal chan struct{}
}

// NewQueue creates an empty Queue.
func NewQueue() *Queue {
	return &Queue{signal: make(chan struct{}, 1)}
}

// Push enqueues an event. Pushing onto a closed queue is a no-op.
func (q *Queue) Push(ev *Event) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.seq++
	heap.Push(&q.items, queuedEvent{event: ev, seq: q.seq})
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// Receive blocks until an event is available and returns the
// lowest-priority event (FIFO among equals). It returns ctx.Err() on
// cancellation and ErrQueueClosed once the queue is closed and empty.
func (q *Queue) Receive(ctx context.Context) (*Event, error) {
	for {
		q.mu.Lock()
		if q.items.Len() > 0 {
			qe := heap.Pop(&q.items).(queuedEvent)
			q.mu.Unlock()
			return qe.event, nil
		}
		if q.closed {
			q.mu.Unlock()
			return nil, ErrQueueClosed
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.signal:
		}
	}
}

// Close marks the queue closed. Pending events remain receivable; once
// drained, Receive returns ErrQueueClosed. Close is idempotent.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// Len returns the number of queued events.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}

type queuedEvent struct {
	event *Event
	seq   uint64
}

type eventHeap []queuedEvent

func (h eventHeap) Len() int { return len(h) }

func (h eventHeap) Less(i, j int) bool {
	if h[i].event.Priority != h[j].event.Priority {
		return h[i].event.Priority < h[j].event.Priority
	}
	return h[i].seq < h[j].seq
}

func (h eventHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *eventHeap) Push(x any) { *h = append(*h, x.(queuedEvent)) }

func (h *eventHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
