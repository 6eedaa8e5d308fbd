package substep

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/star/substep/internal/metrics"
)

// Alive reports whether a worker goroutine is running.
func (s *Scheduler) Alive() bool { return s.alive.Load() != 0 }

// Generation returns how many workers have been spawned.
func (s *Scheduler) Generation() int64 { return s.generation.Load() }

// Stop flags the worker to exit and cancels it. Main tick.
func (s *Scheduler) Stop() {
	s.alive.Store(0)
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

// spawn starts a new worker, cancelling the previous one if it is still
// referenced. Main tick.
func (s *Scheduler) spawn(ctx context.Context) {
	if s.cancel != nil {
		s.cancel()
		metrics.IncWorkerRespawns()
		s.logger.Warn("worker not alive, respawning", "generation", s.generation.Load())
	}
	wctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	gen := s.generation.Add(1)
	s.alive.Store(gen)
	go s.workerLoop(wctx, gen)
}

// signal wakes an idle worker without blocking.
func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) workerLoop(ctx context.Context, gen int64) {
	logger := s.logger.With("generation", gen)
	defer func() {
		if err := recover(); err != nil {
			metrics.IncWorkerPanics()
			logger.Error("worker panicked", "error", fmt.Sprint(err))

			hub := sentry.CurrentHub().Clone()
			hub.ConfigureScope(func(scope *sentry.Scope) {
				scope.SetTag("component", "substep-worker")
				scope.SetTag("generation", fmt.Sprint(gen))
			})
			hub.Recover(err)
			hub.Flush(2 * time.Second)
		}
		// a replaced worker must not clear its successor's flag
		s.alive.CompareAndSwap(gen, 0)
		logger.Debug("worker stopped")
	}()
	logger.Debug("worker started")

	idle := time.NewTimer(s.cfg.WorkerBackoff)
	defer idle.Stop()

	for s.alive.Load() == gen && ctx.Err() == nil {
		worked, ok := s.workOnce(ctx)
		if !ok {
			return
		}
		if worked {
			runtime.Gosched()
			continue
		}
		idle.Reset(s.cfg.WorkerBackoff)
		select {
		case <-ctx.Done():
			return
		case <-s.wake:
		case <-idle.C:
		}
	}
}

// workOnce performs one unit of worker work under the lock: a new step while
// below the horizon, otherwise one catch-up increment. ok is false when ctx
// ended while waiting for the lock.
func (s *Scheduler) workOnce(ctx context.Context) (worked, ok bool) {
	if !s.mu.LockContext(ctx) {
		return false, false
	}
	defer s.mu.Unlock()

	if s.canProduce() {
		start := time.Now()
		s.computeNextStep()
		metrics.ObserveWorkerStep(time.Since(start))
		s.publishLocked()
		return true, true
	}
	if s.catchUpOnce() {
		s.dirty = true
		return true, true
	}
	// catch-up is published once the queue runs dry
	if s.dirty {
		s.publishLocked()
	}
	return false, true
}
