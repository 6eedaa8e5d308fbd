package collections

import "errors"

// ErrStaleHandle is returned when a handle is released twice or refers to a
// slot that has since been handed out again.
var ErrStaleHandle = errors.New("collections: stale pool handle")

// Handle identifies one acquisition of a pooled object. The generation makes
// a handle single use: once released, the same slot comes back with a newer
// generation and the old handle no longer resolves.
type Handle struct {
	slot int32
	gen  uint32
}

// Valid reports whether the handle was ever issued by a pool.
func (h Handle) Valid() bool { return h.gen != 0 }

// Pool is a free-list of reusable objects with generation-checked handles.
// Free slots are reused in release order.
type Pool[T any] struct {
	alloc func() T
	items []T
	gens  []uint32
	live  []bool
	free  *IndexedQueue[int32]
	inUse int
}

// NewPool creates a pool whose new objects are built by alloc.
func NewPool[T any](alloc func() T) *Pool[T] {
	return &Pool[T]{
		alloc: alloc,
		free:  NewIndexedQueue[int32](defaultCapacity),
	}
}

// Acquire returns a free object, allocating a new slot only when the free
// list is empty.
func (p *Pool[T]) Acquire() (Handle, T) {
	slot, ok := p.free.TryDequeue()
	if !ok {
		slot = int32(len(p.items))
		p.items = append(p.items, p.alloc())
		p.gens = append(p.gens, 0)
		p.live = append(p.live, false)
	}
	p.gens[slot]++
	if p.gens[slot] == 0 {
		p.gens[slot] = 1
	}
	p.live[slot] = true
	p.inUse++
	return Handle{slot: slot, gen: p.gens[slot]}, p.items[slot]
}

// Get resolves a handle to its object if the handle is still current.
func (p *Pool[T]) Get(h Handle) (T, bool) {
	if !p.current(h) {
		var zero T
		return zero, false
	}
	return p.items[h.slot], true
}

// Release returns the object behind h to the free list.
func (p *Pool[T]) Release(h Handle) error {
	if !p.current(h) {
		return ErrStaleHandle
	}
	p.live[h.slot] = false
	p.inUse--
	p.free.Enqueue(h.slot)
	return nil
}

// InUse returns how many objects are currently acquired.
func (p *Pool[T]) InUse() int { return p.inUse }

// Created returns how many objects the pool has allocated in total.
func (p *Pool[T]) Created() int { return len(p.items) }

func (p *Pool[T]) current(h Handle) bool {
	if h.slot < 0 || int(h.slot) >= len(p.items) {
		return false
	}
	return p.live[h.slot] && p.gens[h.slot] == h.gen
}
