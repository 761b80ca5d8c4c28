package bus

import (
	"context"
	"errors"
	"sync/atomic"

	"main/internal/schema"
)

var (
	ErrQueueFull   = errors.New("event queue full")
	ErrQueueClosed = errors.New("event queue closed")
)

// Event is the unit passed through the in-memory bus.
type Event struct {
	Header  schema.EventHeader
	Payload []byte
}

// Queue is a bounded, non-blocking event queue connecting two pipeline
// stages. Push never blocks the producer: on a full queue the event is
// dropped and counted, because stalling a latency-critical producer is worse
// than losing a stale event.
type Queue struct {
	name   string
	ch     chan Event
	closed uint32
	drops  uint64
}

// NewQueue allocates a queue with the given name and capacity.
func NewQueue(name string, capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{name: name, ch: make(chan Event, capacity)}
}

// Name returns the queue name used in telemetry.
func (q *Queue) Name() string {
	return q.name
}

// TryPublish enqueues an event without blocking. A full queue drops the
// event, increments the drop counter and returns ErrQueueFull.
func (q *Queue) TryPublish(e Event) error {
	if atomic.LoadUint32(&q.closed) != 0 {
		return ErrQueueClosed
	}
	select {
	case q.ch <- e:
		return nil
	default:
		atomic.AddUint64(&q.drops, 1)
		return ErrQueueFull
	}
}

// TryPop dequeues a single event without blocking.
func (q *Queue) TryPop() (Event, bool) {
	select {
	case e, ok := <-q.ch:
		return e, ok
	default:
		return Event{}, false
	}
}

// Len returns the current queue depth.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Drops returns the number of events dropped on overflow.
func (q *Queue) Drops() uint64 {
	return atomic.LoadUint64(&q.drops)
}

// Close stops the queue from accepting new events.
func (q *Queue) Close() {
	if atomic.CompareAndSwapUint32(&q.closed, 0, 1) {
		close(q.ch)
	}
}

// Run consumes events strictly FIFO until the context is done or the queue
// is closed and drained. Each queue has exactly one consumer, which preserves
// per-symbol causal order end-to-end.
func (q *Queue) Run(ctx context.Context, handler func(Event)) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-q.ch:
			if !ok {
				return
			}
			handler(e)
		}
	}
}
