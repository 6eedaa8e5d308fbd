// Package collections provides the circular containers and the object pool
// used by the sub-stepping engine to keep per-step bookkeeping allocation free.
//
// None of the types are safe for concurrent use; callers serialize access
// through their own lock.
package collections

import "iter"

const defaultCapacity = 16

// IndexedQueue is a growable circular FIFO queue with O(1) indexed access.
// Index 0 is the front (oldest) element.
type IndexedQueue[T any] struct {
	buf  []T
	head int
	size int
}

// NewIndexedQueue creates a queue with room for capacity elements before it
// has to grow.
func NewIndexedQueue[T any](capacity int) *IndexedQueue[T] {
	if capacity < 1 {
		capacity = defaultCapacity
	}
	return &IndexedQueue[T]{buf: make([]T, capacity)}
}

// Len returns the number of queued elements.
func (q *IndexedQueue[T]) Len() int { return q.size }

// Cap returns the current backing capacity.
func (q *IndexedQueue[T]) Cap() int { return len(q.buf) }

// Enqueue appends v at the back, doubling capacity when full.
func (q *IndexedQueue[T]) Enqueue(v T) {
	if q.size == len(q.buf) {
		q.grow()
	}
	q.buf[q.physical(q.size)] = v
	q.size++
}

// Dequeue removes and returns the front element. It panics on an empty queue;
// use TryDequeue when emptiness is expected.
func (q *IndexedQueue[T]) Dequeue() T {
	v, ok := q.TryDequeue()
	if !ok {
		panic("collections: Dequeue on empty IndexedQueue")
	}
	return v
}

// TryDequeue removes and returns the front element if there is one.
func (q *IndexedQueue[T]) TryDequeue() (T, bool) {
	var zero T
	if q.size == 0 {
		return zero, false
	}
	v := q.buf[q.head]
	q.buf[q.head] = zero
	q.head = (q.head + 1) % len(q.buf)
	q.size--
	return v, true
}

// Peek returns the front element without removing it. It panics on an empty queue.
func (q *IndexedQueue[T]) Peek() T {
	v, ok := q.TryPeek()
	if !ok {
		panic("collections: Peek on empty IndexedQueue")
	}
	return v
}

// TryPeek returns the front element if there is one.
func (q *IndexedQueue[T]) TryPeek() (T, bool) {
	if q.size == 0 {
		var zero T
		return zero, false
	}
	return q.buf[q.head], true
}

// At returns the i-th element counted from the front.
func (q *IndexedQueue[T]) At(i int) T {
	q.check(i)
	return q.buf[q.physical(i)]
}

// Clear removes every element, keeping the backing storage.
func (q *IndexedQueue[T]) Clear() {
	var zero T
	for i := 0; i < q.size; i++ {
		q.buf[q.physical(i)] = zero
	}
	q.head = 0
	q.size = 0
}

// TrimExcess shrinks the backing storage to the current length (or the
// default capacity, whichever is larger).
func (q *IndexedQueue[T]) TrimExcess() {
	n := max(q.size, defaultCapacity)
	if n >= len(q.buf) {
		return
	}
	q.resize(n)
}

// ToSlice copies the queue front to back into a new slice.
func (q *IndexedQueue[T]) ToSlice() []T {
	out := make([]T, q.size)
	for i := range out {
		out[i] = q.buf[q.physical(i)]
	}
	return out
}

// All iterates front to back with the logical index.
func (q *IndexedQueue[T]) All() iter.Seq2[int, T] {
	return func(yield func(int, T) bool) {
		for i := 0; i < q.size; i++ {
			if !yield(i, q.buf[q.physical(i)]) {
				return
			}
		}
	}
}

func (q *IndexedQueue[T]) physical(i int) int {
	return (q.head + i) % len(q.buf)
}

func (q *IndexedQueue[T]) check(i int) {
	if i < 0 || i >= q.size {
		panic("collections: IndexedQueue index out of range")
	}
}

func (q *IndexedQueue[T]) grow() {
	n := len(q.buf) * 2
	if n == 0 {
		n = defaultCapacity
	}
	q.resize(n)
}

// resize relinearizes the ring into a buffer of size n, front at index 0.
func (q *IndexedQueue[T]) resize(n int) {
	buf := make([]T, n)
	if q.size > 0 {
		if q.head+q.size <= len(q.buf) {
			copy(buf, q.buf[q.head:q.head+q.size])
		} else {
			k := copy(buf, q.buf[q.head:])
			copy(buf[k:], q.buf[:q.size-k])
		}
	}
	q.buf = buf
	q.head = 0
}
