package pipeline

import (
	"errors"
	"sync"

	"hgu-gateway/internal/model"
)

// ErrQueueFull is returned when the ingestion queue is at capacity.
var ErrQueueFull = errors.New("pipeline queue full")

// queue is a bounded FIFO. wake carries one token per push so an idle
// worker blocked in select picks the sample up.
type queue struct {
	mu       sync.Mutex
	items    []model.SensorSample
	head     int
	capacity int
	pushed   uint64
	popped   uint64
	closed   bool

	wake chan struct{}
}

func newQueue(capacity, workers int) *queue {
	if workers < 1 {
		workers = 1
	}
	return &queue{
		items:    make([]model.SensorSample, 0, capacity),
		capacity: capacity,
		wake:     make(chan struct{}, workers),
	}
}

func (q *queue) push(s model.SensorSample) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrNotRunning
	}
	if len(q.items)-q.head >= q.capacity {
		q.mu.Unlock()
		return ErrQueueFull
	}
	q.items = append(q.items, s)
	q.pushed++
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return nil
}

// take pops the oldest sample and runs fn on it while still holding the
// queue lock, so per-id work in fn is applied in pop order.
func (q *queue) take(fn func(model.SensorSample)) (model.SensorSample, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.head == len(q.items) {
		return model.SensorSample{}, false
	}
	s := q.items[q.head]
	q.items[q.head] = model.SensorSample{}
	q.head++
	q.popped++
	if q.head == len(q.items) {
		q.items = q.items[:0]
		q.head = 0
	} else if q.head > 1024 && q.head*2 > len(q.items) {
		n := copy(q.items, q.items[q.head:])
		q.items = q.items[:n]
		q.head = 0
	}
	if fn != nil {
		fn(s)
	}
	return s, true
}

// close makes push fail; queued samples can still be taken.
func (q *queue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
}

func (q *queue) open() {
	q.mu.Lock()
	q.closed = false
	q.mu.Unlock()
}

func (q *queue) pop() (model.SensorSample, bool) { return q.take(nil) }

func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) - q.head
}

// counts returns total pushes and pops.
func (q *queue) counts() (pushed, popped uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pushed, q.popped
}
