package queue

import "sync"

// MetricQueue is an unbounded multi-producer FIFO of metric names.
// Enqueue never blocks; TryDequeue never waits. Duplicates are legal
// and yield independent processing passes.
type MetricQueue struct {
	mu    sync.Mutex
	items []string
	wake  chan struct{}
}

// NewMetricQueue builds an empty queue.
func NewMetricQueue() *MetricQueue {
	return &MetricQueue{wake: make(chan struct{}, 1)}
}

// Enqueue appends a metric name and signals any waiting consumer.
func (q *MetricQueue) Enqueue(name string) {
	q.mu.Lock()
	q.items = append(q.items, name)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// TryDequeue pops the oldest metric name. The second return value is
// false when the queue is empty, which is a normal outcome.
func (q *MetricQueue) TryDequeue() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return "", false
	}
	name := q.items[0]
	q.items = q.items[1:]
	return name, true
}

// Len reports the current queue depth.
func (q *MetricQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Wake exposes the wake signal so a consumer can sleep until either
// new work arrives or its poll interval elapses.
func (q *MetricQueue) Wake() <-chan struct{} {
	return q.wake
}
