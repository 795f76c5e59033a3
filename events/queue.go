package events

import "sync"

// Queue hands events to a slow handler on its own goroutine. Handle only appends
// to the backlog, so a publisher never waits on the handler's I/O. Nothing is
// dropped; events are delivered in the order they were queued.
type Queue struct {
	handler Handler

	mu      sync.Mutex
	cond    *sync.Cond
	backlog []Event
	busy    bool
	closed  bool
	done    chan struct{}
}

// NewQueue starts the delivery goroutine. Close stops it.
func NewQueue(h Handler) *Queue {
	q := &Queue{handler: h, done: make(chan struct{})}
	q.cond = sync.NewCond(&q.mu)
	go q.run()
	return q
}

// Handle is an events.Handler that queues e. Events queued after Close are dropped.
func (q *Queue) Handle(e Event) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.backlog = append(q.backlog, e)
	q.cond.Broadcast()
}

func (q *Queue) run() {
	defer close(q.done)
	for {
		q.mu.Lock()
		for len(q.backlog) == 0 && !q.closed {
			q.cond.Wait()
		}
		if len(q.backlog) == 0 {
			q.mu.Unlock()
			return
		}
		batch := q.backlog
		q.backlog = nil
		q.busy = true
		q.mu.Unlock()

		for _, e := range batch {
			q.handler(e)
		}

		q.mu.Lock()
		q.busy = false
		q.cond.Broadcast()
		q.mu.Unlock()
	}
}

// Flush blocks until every event queued so far has been handled.
func (q *Queue) Flush() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.backlog) > 0 || q.busy {
		q.cond.Wait()
	}
}

// Close delivers the remaining backlog and waits for the goroutine to exit.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()
	<-q.done
}
