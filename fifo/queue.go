package fifo

import (
	"sync"
	"time"
)

// waitEmptyInterval is the polling period of WaitEmpty
const waitEmptyInterval = time.Millisecond

// Queue is a thread-safe FIFO queue backed by a circular buffer. The buffer doubles in place
// when it fills up, so enqueueing never fails.
type Queue[T any] struct {
	lock sync.Mutex
	cond *sync.Cond

	items    []T
	head     int
	tail     int
	capacity int
	closed   bool
}

// New creates a queue with room for capacity-1 items before the first growth. capacity must be at least 2.
func New[T any](capacity int) *Queue[T] {
	if capacity < 2 {
		panic("fifo capacity must be at least 2")
	}

	q := &Queue[T]{
		items:    make([]T, capacity),
		capacity: capacity,
	}
	q.cond = sync.NewCond(&q.lock)

	return q
}

func (q *Queue[T]) size() int {
	size := q.tail - q.head
	if size < 0 {
		size += q.capacity
	}
	return size
}

func (q *Queue[T]) full() bool {
	return (q.tail+1)%q.capacity == q.head
}

// grow doubles the capacity. When the contents wrap around the end of the array, the wrapped
// segment at the start of the array is moved into the new space after the old boundary so that
// head..tail stays contiguous modulo the new capacity.
func (q *Queue[T]) grow() {
	oldCapacity := q.capacity
	newCapacity := oldCapacity * 2

	items := make([]T, newCapacity)
	copy(items, q.items)

	if q.tail < q.head {
		copy(items[oldCapacity:], q.items[:q.tail])

		var zero T
		for i := 0; i < q.tail; i++ {
			items[i] = zero
		}

		q.tail += oldCapacity
	}

	q.items = items
	q.capacity = newCapacity
}

// Enqueue appends an item to the back of the queue
func (q *Queue[T]) Enqueue(item T) {
	q.lock.Lock()
	defer q.lock.Unlock()

	if q.full() {
		q.grow()
	}

	q.items[q.tail] = item
	q.tail = (q.tail + 1) % q.capacity

	q.cond.Signal()
}

// EnqueueFront inserts an item at the front of the queue, so that it is dequeued before
// everything that is already waiting
func (q *Queue[T]) EnqueueFront(item T) {
	q.lock.Lock()
	defer q.lock.Unlock()

	if q.full() {
		q.grow()
	}

	q.head--
	if q.head < 0 {
		q.head += q.capacity
	}
	q.items[q.head] = item

	q.cond.Signal()
}

// Dequeue removes the item at the front of the queue. If wait is true and the queue is empty,
// Dequeue blocks until an item arrives or the queue is closed. The boolean is false when no item
// was returned.
func (q *Queue[T]) Dequeue(wait bool) (T, bool) {
	q.lock.Lock()
	defer q.lock.Unlock()

	for wait && q.size() == 0 && !q.closed {
		q.cond.Wait()
	}

	return q.pop()
}

func (q *Queue[T]) pop() (T, bool) {
	var zero T
	if q.size() == 0 {
		return zero, false
	}

	item := q.items[q.head]
	q.items[q.head] = zero
	q.head = (q.head + 1) % q.capacity

	return item, true
}

// Size returns the number of items currently in the queue
func (q *Queue[T]) Size() int {
	q.lock.Lock()
	defer q.lock.Unlock()

	return q.size()
}

// Capacity returns the current length of the circular buffer. The queue holds at most Capacity()-1
// items before it grows.
func (q *Queue[T]) Capacity() int {
	q.lock.Lock()
	defer q.lock.Unlock()

	return q.capacity
}

// PeekFirst returns the item that the next Dequeue would return, without removing it
func (q *Queue[T]) PeekFirst() (T, bool) {
	q.lock.Lock()
	defer q.lock.Unlock()

	var zero T
	if q.size() == 0 {
		return zero, false
	}

	return q.items[q.head], true
}

// PeekLast returns the most recently enqueued item at the back of the queue, without removing it
func (q *Queue[T]) PeekLast() (T, bool) {
	q.lock.Lock()
	defer q.lock.Unlock()

	var zero T
	if q.size() == 0 {
		return zero, false
	}

	last := q.tail - 1
	if last < 0 {
		last += q.capacity
	}

	return q.items[last], true
}

// Discard drops the oldest items until at most maxSize remain, and returns how many were dropped.
// It is intended for backpressure on a queue whose consumer cannot keep up.
func (q *Queue[T]) Discard(maxSize int) int {
	q.lock.Lock()
	defer q.lock.Unlock()

	dropped := 0
	for q.size() > maxSize {
		q.pop()
		dropped++
	}

	return dropped
}

// WaitEmpty blocks until the queue is empty, polling at a short interval
func (q *Queue[T]) WaitEmpty() {
	for q.Size() > 0 {
		time.Sleep(waitEmptyInterval)
	}
}

// Reset drops every item in the queue while keeping the current capacity
func (q *Queue[T]) Reset() {
	q.lock.Lock()
	defer q.lock.Unlock()

	var zero T
	for i := range q.items {
		q.items[i] = zero
	}
	q.head = 0
	q.tail = 0
}

// Close wakes every goroutine blocked in Dequeue. Afterward, waiting dequeues on an empty queue
// return immediately. Items can still be enqueued and dequeued.
func (q *Queue[T]) Close() {
	q.lock.Lock()
	defer q.lock.Unlock()

	q.closed = true
	q.cond.Broadcast()
}

// Destroy drops every item and wakes any blocked consumers
func (q *Queue[T]) Destroy() {
	q.Reset()
	q.Close()
}
