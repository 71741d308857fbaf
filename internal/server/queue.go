package server

import "sync"

// outItem is one queued delivery: the marshaled envelope plus its event
// name for diagnostics.
type outItem struct {
	event   string
	payload []byte
}

// outQueue is the per-connection FIFO outbound queue. It is unbounded so
// broadcast fan-out never blocks on a slow client; the writer goroutine
// drains it in order, which is what preserves per-recipient delivery
// order.
//
// A channel signals availability so the writer can wait without
// spinning; the signal channel closes when the queue closes, waking the
// writer for shutdown.
type outQueue struct {
	mu     sync.Mutex
	items  []outItem
	closed bool
	signal chan struct{}
}

func newOutQueue() *outQueue {
	return &outQueue{
		items:  make([]outItem, 0, 16),
		signal: make(chan struct{}, 1),
	}
}

// enqueue appends an item. Returns false once the queue is closed.
func (q *outQueue) enqueue(item outItem) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.items = append(q.items, item)

	// Coalescing signal: buffer of one is enough to wake the writer.
	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// tryDequeue pops the front item without blocking.
func (q *outQueue) tryDequeue() (outItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return outItem{}, false
	}
	item := q.items[0]

	// Nil the slot so the backing array does not retain the payload.
	q.items[0] = outItem{}
	if len(q.items) == 1 {
		q.items = q.items[:0]
	} else {
		q.items = q.items[1:]
	}
	return item, true
}

// wait returns the availability signal channel.
func (q *outQueue) wait() <-chan struct{} {
	return q.signal
}

// drained reports whether the queue is closed with nothing left to send.
func (q *outQueue) drained() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed && len(q.items) == 0
}

// close stops accepting new items and wakes the writer.
func (q *outQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}
