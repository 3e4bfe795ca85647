package audio

import (
	"sync"
	"time"
)

type queueItem struct {
	chunk *Chunk
	err   error
}

// Queue is an unbounded FIFO hand-off from capture to the consumer. Push
// never blocks. A popped item, chunk or sentinel, stays in flight until Done
// is called, so Idle reports when everything queued has been fully handled.
type Queue struct {
	mu       sync.Mutex
	items    []queueItem
	inflight int
	ready    chan struct{}
}

func NewQueue() *Queue {
	return &Queue{ready: make(chan struct{}, 1)}
}

// Push appends a chunk.
func (q *Queue) Push(c *Chunk) {
	if c == nil {
		return
	}
	q.put(queueItem{chunk: c})
}

// Fail appends an error sentinel; the consumer sees it in order, after every
// chunk pushed before it.
func (q *Queue) Fail(err error) {
	q.put(queueItem{err: err})
}

func (q *Queue) put(it queueItem) {
	q.mu.Lock()
	q.items = append(q.items, it)
	q.mu.Unlock()
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// Pop waits up to timeout for the next item. It returns the chunk, or the
// sentinel error, or (nil, nil) on timeout.
func (q *Queue) Pop(timeout time.Duration) (*Chunk, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			it := q.items[0]
			q.items[0] = queueItem{}
			q.items = q.items[1:]
			more := len(q.items) > 0
			q.inflight++
			q.mu.Unlock()
			if more {
				// Pass the wakeup on to any other waiter.
				select {
				case q.ready <- struct{}{}:
				default:
				}
			}
			return it.chunk, it.err
		}
		q.mu.Unlock()

		select {
		case <-q.ready:
		case <-timer.C:
			return nil, nil
		}
	}
}

// Len is the number of pending items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Done marks one popped item as handled.
func (q *Queue) Done() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.inflight > 0 {
		q.inflight--
	}
}

// Idle reports whether nothing is pending or in flight.
func (q *Queue) Idle() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) == 0 && q.inflight == 0
}
