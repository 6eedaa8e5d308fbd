// Package substep precomputes the environment of tracked vessels at fixed
// simulated-time intervals on a background worker. The main tick only
// consumes what the worker has already produced.
package substep

import (
	"context"
	"log/slog"
	"math"
	"slices"
	"sync/atomic"
	"time"

	"github.com/elliotchance/orderedmap/v2"
	"github.com/google/uuid"

	"github.com/star/substep/internal/collections"
	"github.com/star/substep/internal/metrics"
	"github.com/star/substep/internal/transform"
	"github.com/star/substep/internal/world"
)

// delivery is one vessel's share of the consumed steps, outbox[from:to].
type delivery struct {
	id       uuid.UUID
	from, to int
}

// Scheduler owns the predictors, the shared marker queue and the worker
// goroutine. OnMainTick must be called from a single goroutine.
type Scheduler struct {
	cfg      Config
	provider world.Provider
	consumer Consumer
	logger   *slog.Logger

	mu      *timedMutex
	tryLock func(time.Duration) bool

	// guarded by mu
	env          *env
	markerPool   *collections.Pool[*Marker]
	vessels      *orderedmap.OrderedMap[uuid.UUID, *VesselPredictor]
	catchup      *collections.IndexedQueue[*VesselPredictor]
	maxLookahead int
	currentTime  float64
	lastStepUT   float64
	frame        transform.Frame
	invRot       float64
	syncSeq      uint64
	outbox       []*Step
	deliveries   []delivery
	removedIDs   []uuid.UUID
	initialized  bool
	dirty        bool // catch-up work not yet published

	horizon   atomic.Uint64 // float64 bits
	published atomic.Pointer[snapshot]

	// main tick only
	lastConsumed int
	cancel       context.CancelFunc

	alive      atomic.Int64 // generation of the live worker, 0 when none
	generation atomic.Int64
	wake       chan struct{}

	produced   atomic.Uint64
	contention atomic.Uint64
}

// New creates a scheduler. consumer may be nil. Call Init before the first
// tick, and again whenever the world is reloaded.
func New(cfg Config, provider world.Provider, consumer Consumer, logger *slog.Logger) *Scheduler {
	s := &Scheduler{
		cfg:      cfg.withDefaults(),
		provider: provider,
		consumer: consumer,
		logger:   logger,
		mu:       newTimedMutex(),
		wake:     make(chan struct{}, 1),
	}
	s.tryLock = s.mu.TryLockFor
	return s
}

// Init rebuilds the body predictors from the provider, sizes the lookahead
// from the fastest warp rate and resets markers, vessels and catch-up.
func (s *Scheduler) Init() {
	s.mu.Lock()
	defer s.mu.Unlock()

	states := s.provider.Bodies()
	bodies := make([]*BodyPredictor, len(states))
	for i, st := range states {
		st.Index = i
		bodies[i] = newBodyPredictor(st, bodies)
	}
	// orbits could only be linked to parents built before them
	var stars []int
	for i, b := range bodies {
		b.apply(bodies[i].state)
		if b.Star {
			stars = append(stars, i)
		}
	}

	s.maxLookahead = s.cfg.LookaheadSteps(s.provider.MaxWarpRate())
	s.env = &env{
		cfg:     s.cfg,
		logger:  s.logger,
		markers: collections.NewIndexedQueue[*Marker](s.maxLookahead),
		bodies:  bodies,
		stars:   stars,
		steps:   collections.NewPool(func() *Step { return &Step{} }),
	}
	s.markerPool = collections.NewPool(func() *Marker { return &Marker{} })
	s.vessels = orderedmap.NewOrderedMap[uuid.UUID, *VesselPredictor]()
	s.catchup = collections.NewIndexedQueue[*VesselPredictor](0)
	s.outbox = s.outbox[:0]
	s.deliveries = s.deliveries[:0]
	s.removedIDs = s.removedIDs[:0]

	s.currentTime = s.provider.UniversalTime()
	s.lastStepUT = s.currentTime
	s.frame, s.invRot = s.provider.ReferenceFrame()
	s.setHorizon(s.currentTime + float64(s.maxLookahead)*s.cfg.Interval)
	s.lastConsumed = 0
	s.initialized = true
	s.publishLocked()

	s.logger.Info("scheduler initialized",
		"bodies", len(bodies),
		"stars", len(stars),
		"interval", s.cfg.Interval,
		"lookahead_steps", s.maxLookahead,
		"ut", s.currentTime,
	)
}

// OnMainTick synchronizes with the host when the world is running and makes
// sure a worker is alive. When the world stops, the worker is stopped too.
func (s *Scheduler) OnMainTick(ctx context.Context) {
	if !s.initialized {
		s.Init()
	}
	if !s.provider.Running() {
		if s.Alive() {
			s.logger.Info("world stopped, stopping worker")
		}
		s.Stop()
		return
	}
	s.Synchronize()
	if !s.Alive() {
		s.spawn(ctx)
	}
}

// Synchronize advances the scheduler to the host's time. It never waits more
// than LockTimeout for the worker: on contention the horizon is extended by
// the previous tick's consumption and the tick moves on. It reports whether
// the lock was acquired.
func (s *Scheduler) Synchronize() bool {
	if !s.tryLock(s.cfg.LockTimeout) {
		n := max(s.lastConsumed, 1)
		h := s.addHorizon(float64(n) * s.cfg.Interval)
		s.contention.Add(1)
		metrics.IncLockContention()
		s.logger.Warn("scheduler lock contended, extending horizon",
			"horizon", h,
			"steps", n,
		)
		s.signal()
		return false
	}

	start := time.Now()
	s.syncLocked()
	s.mu.Unlock()
	s.deliver()
	metrics.ObserveSync(time.Since(start))
	s.signal()
	return true
}

func (s *Scheduler) syncLocked() {
	for _, st := range s.outbox {
		s.env.releaseStep(st)
	}
	clear(s.outbox)
	s.outbox = s.outbox[:0]
	s.deliveries = s.deliveries[:0]
	s.removedIDs = s.removedIDs[:0]

	s.currentTime = s.provider.UniversalTime()
	s.setHorizon(s.currentTime + float64(s.maxLookahead)*s.cfg.Interval)

	consumed := 0
	for {
		m, ok := s.env.markers.TryPeek()
		if !ok || m.UT >= s.currentTime {
			break
		}
		s.env.markers.Dequeue()
		if err := s.markerPool.Release(m.handle); err != nil {
			s.logger.Warn("marker released twice", "ut", m.UT, "error", err)
		}
		consumed++
	}
	s.lastConsumed = consumed

	s.frame, s.invRot = s.provider.ReferenceFrame()
	for i, st := range s.provider.Bodies() {
		if i >= len(s.env.bodies) {
			break
		}
		st.Index = i
		s.env.bodies[i].Sync(st, s.frame, s.invRot)
	}

	s.syncSeq++
	for _, vs := range s.provider.Vessels() {
		if !vs.Simulated || vs.MainBody < 0 || vs.MainBody >= len(s.env.bodies) {
			continue
		}
		v, ok := s.vessels.Get(vs.ID)
		if !ok {
			v = newVesselPredictor(vs, s.env, s.maxLookahead)
			s.vessels.Set(vs.ID, v)
			s.logger.Info("tracking vessel", "vessel", vs.Name, "id", vs.ID)
		} else if v.seen == s.syncSeq {
			continue
		}
		v.seen = s.syncSeq

		if v.Update(vs, consumed) && !v.queued {
			v.queued = true
			s.catchup.Enqueue(v)
		}
		if len(v.consumed) > 0 {
			from := len(s.outbox)
			s.outbox = append(s.outbox, v.consumed...)
			s.deliveries = append(s.deliveries, delivery{id: v.ID, from: from, to: len(s.outbox)})
			clear(v.consumed)
			v.consumed = v.consumed[:0]
		}
	}

	for el := s.vessels.Front(); el != nil; el = el.Next() {
		if el.Value.seen != s.syncSeq {
			s.removedIDs = append(s.removedIDs, el.Key)
		}
	}
	for _, id := range s.removedIDs {
		v, _ := s.vessels.Get(id)
		v.release()
		s.vessels.Delete(id)
		s.logger.Info("vessel left scope", "vessel", v.Name, "id", id)
	}

	metrics.SetMarkerQueueLength(s.env.markers.Len())
	metrics.SetVesselsTracked(s.vessels.Len())
	metrics.SetCatchupQueueLength(s.catchup.Len())
	metrics.SetHorizonLead(s.Horizon() - s.currentTime)
	s.publishLocked()
}

// deliver hands the consumed steps to the consumer. Main tick, after the lock
// is released: the steps are out of every predictor and stay allocated until
// the next successful sync.
func (s *Scheduler) deliver() {
	metrics.AddStepsConsumed(len(s.outbox))
	if s.consumer == nil {
		return
	}
	for _, d := range s.deliveries {
		s.consumer.ConsumeSteps(d.id, s.outbox[d.from:d.to])
	}
	if r, ok := s.consumer.(VesselRemover); ok {
		for _, id := range s.removedIDs {
			r.RemoveVessel(id)
		}
	}
}

// nextMarkerUT is the time of the marker the worker would produce next.
// Markers stay strictly increasing even when the host time is not a multiple
// of the interval, so it may lie past the horizon. Under the lock.
func (s *Scheduler) nextMarkerUT() float64 {
	n := s.env.markers.Len()
	ut := s.currentTime + float64(n+1)*s.cfg.Interval
	if n > 0 {
		ut = max(ut, s.lastStepUT+s.cfg.Interval)
	}
	return ut
}

// canProduce reports whether the next marker fits under both the horizon and
// the lookahead. Under the lock.
func (s *Scheduler) canProduce() bool {
	return s.env.markers.Len() < s.maxLookahead && s.nextMarkerUT() <= s.Horizon()
}

// computeNextStep produces one marker and evaluates every predictor at it.
// Under the lock.
func (s *Scheduler) computeNextStep() {
	n := s.env.markers.Len()
	ut := s.nextMarkerUT()

	h, m := s.markerPool.Acquire()
	m.handle = h
	m.UT = ut
	m.Frame = s.frame
	m.InverseRotAngle = s.invRot
	s.env.markers.Enqueue(m)
	s.lastStepUT = ut

	for _, b := range s.env.bodies {
		b.Update(m)
	}
	for el := s.vessels.Front(); el != nil; el = el.Next() {
		el.Value.ComputeNextStep(n)
	}
	s.produced.Add(1)
	metrics.IncStepsProduced()
}

// catchUpOnce runs one catch-up increment on the oldest queued vessel and
// requeues it if it is not done. It reports whether any work was done.
// Under the lock.
func (s *Scheduler) catchUpOnce() bool {
	for s.catchup.Len() > 0 {
		v := s.catchup.Dequeue()
		if v.removed {
			v.queued = false
			continue
		}
		if v.TryComputeMissingSteps() {
			v.queued = false
		} else {
			s.catchup.Enqueue(v)
		}
		return true
	}
	return false
}

// Horizon returns the simulated time up to which the worker may produce.
func (s *Scheduler) Horizon() float64 {
	return math.Float64frombits(s.horizon.Load())
}

func (s *Scheduler) setHorizon(h float64) {
	s.horizon.Store(math.Float64bits(h))
}

func (s *Scheduler) addHorizon(delta float64) float64 {
	for {
		old := s.horizon.Load()
		h := math.Float64frombits(old) + delta
		if s.horizon.CompareAndSwap(old, math.Float64bits(h)) {
			return h
		}
	}
}

// MaxLookaheadSteps returns the number of markers kept ahead of current time.
func (s *Scheduler) MaxLookaheadSteps() int {
	if p := s.published.Load(); p != nil {
		return p.stats.LookaheadSteps
	}
	return 0
}

// Stats is a point-in-time view of the scheduler.
type Stats struct {
	CurrentTime    float64 `json:"current_time"`
	Horizon        float64 `json:"horizon"`
	LastStepUT     float64 `json:"last_step_ut"`
	Interval       float64 `json:"interval"`
	LookaheadSteps int     `json:"lookahead_steps"`
	Markers        int     `json:"markers"`
	Bodies         int     `json:"bodies"`
	Vessels        int     `json:"vessels"`
	CatchupQueue   int     `json:"catchup_queue"`
	StepsInUse     int     `json:"steps_in_use"`
	WorkerAlive    bool    `json:"worker_alive"`
	Generation     int64   `json:"generation"`
	StepsProduced  uint64  `json:"steps_produced"`
	LockContention uint64  `json:"lock_contention"`
}

// snapshot is the reader view published by whoever last held the lock, so
// that status readers never compete with the main tick for it.
type snapshot struct {
	stats   Stats
	vessels []VesselInfo
	index   map[uuid.UUID]int
}

// publishLocked replaces the reader view. Under the lock.
func (s *Scheduler) publishLocked() {
	p := &snapshot{
		stats: Stats{
			CurrentTime:    s.currentTime,
			LastStepUT:     s.lastStepUT,
			Interval:       s.cfg.Interval,
			LookaheadSteps: s.maxLookahead,
			Markers:        s.env.markers.Len(),
			Bodies:         len(s.env.bodies),
			Vessels:        s.vessels.Len(),
			CatchupQueue:   s.catchup.Len(),
			StepsInUse:     s.env.steps.InUse(),
		},
		vessels: make([]VesselInfo, 0, s.vessels.Len()),
		index:   make(map[uuid.UUID]int, s.vessels.Len()),
	}
	for el := s.vessels.Front(); el != nil; el = el.Next() {
		p.index[el.Key] = len(p.vessels)
		p.vessels = append(p.vessels, s.vesselInfo(el.Value))
	}
	s.published.Store(p)
	s.dirty = false
}

// Stats returns the view published at the last sync or worker step, with
// the live horizon and worker counters.
func (s *Scheduler) Stats() Stats {
	var st Stats
	if p := s.published.Load(); p != nil {
		st = p.stats
	} else {
		st.Interval = s.cfg.Interval
	}
	st.Horizon = s.Horizon()
	st.WorkerAlive = s.Alive()
	st.Generation = s.generation.Load()
	st.StepsProduced = s.produced.Load()
	st.LockContention = s.contention.Load()
	return st
}

// VesselInfo describes one vessel predictor.
type VesselInfo struct {
	ID       uuid.UUID `json:"id"`
	Name     string    `json:"name"`
	MainBody string    `json:"main_body"`
	Landed   bool      `json:"landed"`
	Loaded   bool      `json:"loaded"`
	Steps    int       `json:"steps"`
	CatchUp  bool      `json:"catch_up"`
	FirstUT  float64   `json:"first_ut,omitempty"`
	LastUT   float64   `json:"last_ut,omitempty"`
}

func (s *Scheduler) vesselInfo(v *VesselPredictor) VesselInfo {
	info := VesselInfo{
		ID:       v.ID,
		Name:     v.Name,
		MainBody: s.env.bodies[v.mainBody].Name,
		Landed:   v.landed,
		Loaded:   v.loaded,
		Steps:    v.steps.Len(),
		CatchUp:  v.queued,
	}
	if first, ok := v.steps.Front(); ok {
		info.FirstUT = first.UT
	}
	if last, ok := v.steps.Back(); ok {
		info.LastUT = last.UT
	}
	return info
}

// Vessels lists the tracked vessels in creation order, as last published.
func (s *Scheduler) Vessels() []VesselInfo {
	p := s.published.Load()
	if p == nil {
		return nil
	}
	return slices.Clone(p.vessels)
}

// Vessel describes one tracked vessel, as last published.
func (s *Scheduler) Vessel(id uuid.UUID) (VesselInfo, bool) {
	p := s.published.Load()
	if p == nil {
		return VesselInfo{}, false
	}
	i, ok := p.index[id]
	if !ok {
		return VesselInfo{}, false
	}
	return p.vessels[i], true
}
