package substep

import (
	"context"
	"time"
)

// timedMutex is a mutual exclusion lock whose acquisition can give up after a
// deadline. The main tick must never stall behind the worker, so it only ever
// waits a bounded amount of time; the worker blocks.
type timedMutex struct {
	ch chan struct{}
}

func newTimedMutex() *timedMutex {
	return &timedMutex{ch: make(chan struct{}, 1)}
}

// Lock blocks until the lock is held.
func (m *timedMutex) Lock() {
	m.ch <- struct{}{}
}

// LockContext blocks until the lock is held or ctx is done.
func (m *timedMutex) LockContext(ctx context.Context) bool {
	select {
	case m.ch <- struct{}{}:
		return true
	case <-ctx.Done():
		return false
	}
}

// TryLockFor waits at most d for the lock.
func (m *timedMutex) TryLockFor(d time.Duration) bool {
	select {
	case m.ch <- struct{}{}:
		return true
	default:
	}
	if d <= 0 {
		return false
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case m.ch <- struct{}{}:
		return true
	case <-timer.C:
		return false
	}
}

// Unlock releases the lock. Unlocking an unlocked mutex panics.
func (m *timedMutex) Unlock() {
	select {
	case <-m.ch:
	default:
		panic("substep: unlock of unlocked timedMutex")
	}
}
