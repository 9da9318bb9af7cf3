package bus

import (
	"context"
	"log/slog"
	"sync"
)

// DefaultQueueSize is the bounded capacity used when config leaves it unset.
const DefaultQueueSize = 256

// Queue is a bounded FIFO between the wire handler and a single consumer
// loop. Enqueue never blocks: when the queue is full the oldest event is
// dropped so the socket reader (and with it heartbeat timeliness) is never
// held up by slow processing.
type Queue struct {
	ch      chan Event
	mu      sync.Mutex // serializes the drop-then-enqueue sequence
	dropped int
}

// NewQueue creates a queue with the given capacity (DefaultQueueSize if <= 0).
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultQueueSize
	}
	return &Queue{ch: make(chan Event, capacity)}
}

// Enqueue adds an event, evicting the oldest entry on overflow.
func (q *Queue) Enqueue(ev Event) {
	q.mu.Lock()
	defer q.mu.Unlock()

	select {
	case q.ch <- ev:
		return
	default:
	}

	// Full: drop the oldest and retry once. The consumer may have raced a
	// dequeue in between, so the retry can still succeed on the fast path.
	select {
	case old := <-q.ch:
		q.dropped++
		slog.Warn("inbound queue full, dropping oldest event",
			"dropped_event_id", old.EventID,
			"total_dropped", q.dropped,
		)
	default:
	}
	select {
	case q.ch <- ev:
	default:
	}
}

// Len returns the number of buffered events.
func (q *Queue) Len() int { return len(q.ch) }

// Dropped returns how many events have been evicted on overflow.
func (q *Queue) Dropped() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Consume pulls events one at a time until ctx is cancelled. Each item is
// processed in isolation: a handler error or panic is logged and the loop
// moves on to the next event.
func (q *Queue) Consume(ctx context.Context, handler Handler) {
	slog.Info("inbound consumer started")
	for {
		select {
		case <-ctx.Done():
			slog.Info("inbound consumer stopped")
			return
		case ev := <-q.ch:
			q.process(ctx, ev, handler)
		}
	}
}

func (q *Queue) process(ctx context.Context, ev Event, handler Handler) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("inbound handler panic", "event_id", ev.EventID, "panic", r)
		}
	}()
	if err := handler(ctx, ev); err != nil {
		slog.Error("inbound handler failed", "event_id", ev.EventID, "error", err)
	}
}
