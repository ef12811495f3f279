package synchronizer

import (
	"sync"
)

type batch[QT any] struct {
	window int64
	items  []QT
}

// readyQueue is the only structure shared by the scheduler goroutine (producer) and the worker
// (consumer). push never blocks, the backlog is unbounded.
type readyQueue[QT any] struct {
	mu      *sync.Mutex
	batches []batch[QT]
	head    int
	signal  chan struct{}
}

func newReadyQueue[QT any]() *readyQueue[QT] {
	return &readyQueue[QT]{
		mu:     new(sync.Mutex),
		signal: make(chan struct{}, 1),
	}
}

func (q *readyQueue[QT]) push(b batch[QT]) {
	q.mu.Lock()
	q.batches = append(q.batches, b)
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func (q *readyQueue[QT]) pop() (batch[QT], bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.head == len(q.batches) {
		return batch[QT]{}, false
	}

	b := q.batches[q.head]
	q.batches[q.head] = batch[QT]{}
	q.head++

	switch {
	case q.head == len(q.batches):
		q.batches = q.batches[:0]
		q.head = 0
	case q.head >= 64 && q.head >= len(q.batches)/2:
		n := copy(q.batches, q.batches[q.head:])
		for i := n; i < len(q.batches); i++ {
			q.batches[i] = batch[QT]{}
		}
		q.batches = q.batches[:n]
		q.head = 0
	}

	return b, true
}

// wait returns a channel signalled after a push.
func (q *readyQueue[QT]) wait() <-chan struct{} {
	return q.signal
}

func (q *readyQueue[QT]) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.batches) - q.head
}

// clear drops every queued batch and returns how many items were dropped.
func (q *readyQueue[QT]) clear() (batches, items int) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, b := range q.batches[q.head:] {
		batches++
		items += len(b.items)
	}

	q.batches = nil
	q.head = 0

	return batches, items
}
