package dispatch

import (
	"context"
	"sync"

	"github.com/sweeney/parking-sensor/internal/logic"
)

// queue is one input's ordered backlog between the sensor loop and the
// delivery loop. Push never blocks. When full, the two oldest queued events
// are dropped together so Occupied/Vacated still alternate: occupancy is
// last-write-wins and stale intermediate states carry no information.
type queue struct {
	mu     sync.Mutex
	items  []logic.Event
	limit  int
	notify chan struct{}
}

// newQueue creates a queue holding at most limit events; limit <= 0 means
// unbounded. Limits below 2 are raised to 2 so pairs can be dropped.
func newQueue(limit int) *queue {
	if limit > 0 && limit < 2 {
		limit = 2
	}
	return &queue{
		limit:  limit,
		notify: make(chan struct{}, 1),
	}
}

// push appends ev and returns any events dropped to make room.
func (q *queue) push(ev logic.Event) []logic.Event {
	q.mu.Lock()
	var dropped []logic.Event
	if q.limit > 0 && len(q.items) >= q.limit {
		dropped = append(dropped, q.items[:2]...)
		q.items = q.items[2:]
	}
	q.items = append(q.items, ev)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return dropped
}

// pop blocks until an event is available or ctx is done.
func (q *queue) pop(ctx context.Context) (logic.Event, bool) {
	for {
		if ctx.Err() != nil {
			return logic.Event{}, false
		}
		q.mu.Lock()
		if len(q.items) > 0 {
			ev := q.items[0]
			q.items = q.items[1:]
			q.mu.Unlock()
			return ev, true
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return logic.Event{}, false
		case <-q.notify:
		}
	}
}

// drain removes and returns everything still queued.
func (q *queue) drain() []logic.Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.items
	q.items = nil
	return out
}

func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
