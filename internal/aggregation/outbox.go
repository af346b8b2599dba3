package aggregation

import (
	"sync"

	"MultiBridge/internal/events"
)

// outbox queues committed event batches in commit order and delivers them
// outside the engine lock. Batches are pushed under the engine lock, so
// queue order is commit order; one flusher at a time delivers them.
type outbox struct {
	mu    sync.Mutex       // mu guards queue
	queue [][]events.Event // queue holds undelivered batches, oldest first

	flushMu sync.Mutex // flushMu serializes delivery
}

// push appends a committed batch.
func (o *outbox) push(evs []events.Event) {
	o.mu.Lock()
	o.queue = append(o.queue, evs)
	o.mu.Unlock()
}

// flush delivers every queued batch to pub. When it returns, every batch
// pushed before the call has been delivered, by this caller or another.
func (o *outbox) flush(pub Publisher) {
	o.flushMu.Lock()
	defer o.flushMu.Unlock()

	for {
		o.mu.Lock()
		if len(o.queue) == 0 {
			o.mu.Unlock()
			return
		}

		batch := o.queue[0]
		o.queue[0] = nil
		o.queue = o.queue[1:]
		o.mu.Unlock()

		if pub != nil {
			pub.Publish(batch...)
		}
	}
}
