package collections

import "iter"

// Deque is a double-ended circular buffer with O(1) push/pop at both ends and
// O(1) indexed access. Capacity doubles when full.
type Deque[T any] struct {
	buf  []T
	head int
	size int
}

// NewDeque creates a deque with room for capacity elements.
func NewDeque[T any](capacity int) *Deque[T] {
	if capacity < 1 {
		capacity = defaultCapacity
	}
	return &Deque[T]{buf: make([]T, capacity)}
}

// Len returns the number of elements.
func (d *Deque[T]) Len() int { return d.size }

// Cap returns the current backing capacity.
func (d *Deque[T]) Cap() int { return len(d.buf) }

// PushBack appends v after the last element.
func (d *Deque[T]) PushBack(v T) {
	d.ensure(d.size + 1)
	d.buf[d.physical(d.size)] = v
	d.size++
}

// PushFront inserts v before the first element.
func (d *Deque[T]) PushFront(v T) {
	d.ensure(d.size + 1)
	d.head = d.wrap(d.head - 1)
	d.buf[d.head] = v
	d.size++
}

// PopFront removes and returns the first element.
func (d *Deque[T]) PopFront() (T, bool) {
	var zero T
	if d.size == 0 {
		return zero, false
	}
	v := d.buf[d.head]
	d.buf[d.head] = zero
	d.head = d.wrap(d.head + 1)
	d.size--
	return v, true
}

// PopBack removes and returns the last element.
func (d *Deque[T]) PopBack() (T, bool) {
	var zero T
	if d.size == 0 {
		return zero, false
	}
	i := d.physical(d.size - 1)
	v := d.buf[i]
	d.buf[i] = zero
	d.size--
	return v, true
}

// Front returns the first element.
func (d *Deque[T]) Front() (T, bool) {
	if d.size == 0 {
		var zero T
		return zero, false
	}
	return d.buf[d.head], true
}

// Back returns the last element.
func (d *Deque[T]) Back() (T, bool) {
	if d.size == 0 {
		var zero T
		return zero, false
	}
	return d.buf[d.physical(d.size-1)], true
}

// At returns the i-th element from the front.
func (d *Deque[T]) At(i int) T {
	d.check(i)
	return d.buf[d.physical(i)]
}

// Set replaces the i-th element.
func (d *Deque[T]) Set(i int, v T) {
	d.check(i)
	d.buf[d.physical(i)] = v
}

// Insert places v at logical index i, shifting whichever side is shorter.
func (d *Deque[T]) Insert(i int, v T) {
	if i < 0 || i > d.size {
		panic("collections: Deque insert index out of range")
	}
	switch i {
	case 0:
		d.PushFront(v)
		return
	case d.size:
		d.PushBack(v)
		return
	}
	d.ensure(d.size + 1)
	if i < d.size/2 {
		// shift [0, i) one slot towards the front
		d.head = d.wrap(d.head - 1)
		for k := 0; k < i; k++ {
			d.buf[d.physical(k)] = d.buf[d.physical(k+1)]
		}
	} else {
		// shift [i, size) one slot towards the back
		for k := d.size; k > i; k-- {
			d.buf[d.physical(k)] = d.buf[d.physical(k-1)]
		}
	}
	d.buf[d.physical(i)] = v
	d.size++
}

// RemoveAt removes and returns the element at logical index i.
func (d *Deque[T]) RemoveAt(i int) T {
	d.check(i)
	v := d.buf[d.physical(i)]
	d.RemoveRange(i, 1)
	return v
}

// RemoveRange removes count elements starting at logical index offset.
func (d *Deque[T]) RemoveRange(offset, count int) {
	if offset < 0 || count < 0 || offset+count > d.size {
		panic("collections: Deque range out of bounds")
	}
	if count == 0 {
		return
	}
	var zero T
	after := d.size - offset - count
	if offset < after {
		// move the front part forward over the gap
		for k := offset - 1; k >= 0; k-- {
			d.buf[d.physical(k+count)] = d.buf[d.physical(k)]
		}
		for k := 0; k < count; k++ {
			d.buf[d.physical(k)] = zero
		}
		d.head = d.wrap(d.head + count)
	} else {
		// move the back part backward over the gap
		for k := offset; k < offset+after; k++ {
			d.buf[d.physical(k)] = d.buf[d.physical(k+count)]
		}
		for k := d.size - count; k < d.size; k++ {
			d.buf[d.physical(k)] = zero
		}
	}
	d.size -= count
}

// Truncate drops every element from index n onwards and returns them, front
// to back. It is a no-op when n >= Len.
func (d *Deque[T]) Truncate(n int) []T {
	if n < 0 {
		n = 0
	}
	if n >= d.size {
		return nil
	}
	dropped := make([]T, 0, d.size-n)
	for k := n; k < d.size; k++ {
		dropped = append(dropped, d.buf[d.physical(k)])
	}
	d.RemoveRange(n, d.size-n)
	return dropped
}

// Clear removes every element, keeping the backing storage.
func (d *Deque[T]) Clear() {
	var zero T
	for k := 0; k < d.size; k++ {
		d.buf[d.physical(k)] = zero
	}
	d.head = 0
	d.size = 0
}

// ToSlice copies the deque front to back into a new slice.
func (d *Deque[T]) ToSlice() []T {
	out := make([]T, d.size)
	for i := range out {
		out[i] = d.buf[d.physical(i)]
	}
	return out
}

// All iterates front to back with the logical index.
func (d *Deque[T]) All() iter.Seq2[int, T] {
	return func(yield func(int, T) bool) {
		for i := 0; i < d.size; i++ {
			if !yield(i, d.buf[d.physical(i)]) {
				return
			}
		}
	}
}

func (d *Deque[T]) physical(i int) int {
	return (d.head + i) % len(d.buf)
}

func (d *Deque[T]) wrap(i int) int {
	n := len(d.buf)
	return ((i % n) + n) % n
}

func (d *Deque[T]) check(i int) {
	if i < 0 || i >= d.size {
		panic("collections: Deque index out of range")
	}
}

func (d *Deque[T]) ensure(n int) {
	if n <= len(d.buf) {
		return
	}
	c := len(d.buf) * 2
	if c == 0 {
		c = defaultCapacity
	}
	for c < n {
		c *= 2
	}
	buf := make([]T, c)
	for k := 0; k < d.size; k++ {
		buf[k] = d.buf[d.physical(k)]
	}
	d.buf = buf
	d.head = 0
}
