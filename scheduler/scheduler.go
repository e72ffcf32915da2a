package scheduler

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joeycumines/go-tickwork/threadpool"
	"github.com/joeycumines/logiface"
)

type (
	// Scheduler updates registered objects at their requested frequencies,
	// driven by one [Scheduler.NotifyFrame] call per host frame.
	//
	// NotifyFrame must not be called concurrently, or from within an update
	// callback. Register, Unregister, and the setters may be called from any
	// goroutine, including update callbacks running on pool workers.
	Scheduler struct {
		pool     Dispatcher
		logger   *logiface.Logger[logiface.Event]
		metrics  *metrics
		registry map[Updatable]registration
		// pending insertions, awaiting their priming call
		pending    []*pendingInsert
		buckets    []*bucket
		migrations []migration
		tokens     []threadpool.CompletionToken
		arena      arena
		pass       parallelPass
		// bucketBase is the index of the first (phase 0) bucket of each
		// frequency
		bucketBase [numFrequencies]int
		// seqCursor is the next phase for sequential placement
		seqCursor [numFrequencies]int
		// accumulator is unconsumed wall time
		accumulator time.Duration
		// frameTotal is the total scaled wall time
		frameTotal        time.Duration
		minSpeedScale     float64
		catchUpWarn       int
		speedScale        atomic.Uint64
		ticks             atomic.Uint64
		pauseWhenInactive atomic.Bool
		notifying         atomic.Bool
		broken            atomic.Bool
		closed            atomic.Bool
		mu                sync.Mutex
	}

	// registration is the registry value, exactly one of h or pending.
	registration struct {
		pending *pendingInsert
		h       handle
	}

	pendingInsert struct {
		obj        Updatable
		sequential bool
		cancelled  bool
	}

	// migration is an entry in transit between buckets, owned by the
	// migration list until applied.
	migration struct {
		h    handle
		freq Frequency
	}
)

// New constructs a Scheduler, returning an error if any option is invalid.
func New(opts ...Option) (*Scheduler, error) {
	cfg, err := resolveOptions(opts)
	if err != nil {
		return nil, err
	}

	x := &Scheduler{
		pool:          cfg.pool,
		logger:        cfg.logger,
		registry:      make(map[Updatable]registration),
		minSpeedScale: cfg.minSpeedScale,
		catchUpWarn:   cfg.catchUpWarn,
	}
	if cfg.metricsEnabled {
		x.metrics = newMetrics()
	}
	x.speedScale.Store(math.Float64bits(cfg.speedScale))
	x.pauseWhenInactive.Store(cfg.pauseWhenInactive)

	for f := EveryFrame; f < numFrequencies; f++ {
		x.bucketBase[f] = len(x.buckets)
		for phase := 0; phase < f.phases(); phase++ {
			x.buckets = append(x.buckets, &bucket{
				id:    len(x.buckets),
				phase: phase,
				freq:  f,
			})
		}
	}

	return x, nil
}

// Register adds u to the scheduler. Its Update method is called once, with
// Tick.Priming set, at the start of the next frame or after the current
// tick, to learn its initial frequency.
//
// If sequential is set, objects of the same frequency are spread across its
// phases round robin, otherwise u is placed in the phase due next.
//
// Register panics if u is nil or already registered, or if the scheduler
// has been closed.
func (x *Scheduler) Register(u Updatable, sequential bool) {
	if u == nil {
		panic(ErrNilUpdatable)
	}
	if x.closed.Load() {
		panic(ErrSchedulerClosed)
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	if _, ok := x.registry[u]; ok {
		panic(ErrAlreadyRegistered)
	}

	p := &pendingInsert{obj: u, sequential: sequential}
	x.pending = append(x.pending, p)
	x.registry[u] = registration{pending: p}
}

// Unregister removes u, returning false if it was not registered. It is
// safe to call during a pass that includes u: u is skipped if it has not
// yet been updated, and is dropped once the pass completes.
func (x *Scheduler) Unregister(u Updatable) bool {
	if u == nil {
		return false
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	r, ok := x.registry[u]
	if !ok {
		return false
	}
	delete(x.registry, u)

	if r.pending != nil {
		r.pending.cancelled = true
		return true
	}

	e := x.arena.get(r.h)
	if e == nil {
		return true
	}
	e.removed.Store(true)

	if e.bucket == noBucket {
		// migrating, dropped when migrations are applied
		return true
	}

	b := x.buckets[e.bucket]
	if b.passing {
		// swept by the compaction at the end of the pass
		return true
	}

	x.removeNowLocked(b, e)
	x.arena.release(r.h)
	return true
}

// NotifyFrame is the per-frame entry point, to be called by the host with
// the wall time elapsed since the previous frame, and whether the host is
// active.
//
// Every fixed tick covered by the accumulated time is executed, with no
// coalescing, and any remainder is carried into the next frame. The
// per-frame frequencies are then updated once.
//
// Panics raised by update callbacks propagate, and leave the scheduler
// unusable: subsequent calls panic with [ErrSchedulerBroken].
func (x *Scheduler) NotifyFrame(wallDelta time.Duration, active bool) {
	if !x.notifying.CompareAndSwap(false, true) {
		panic(ErrReentrantNotify)
	}
	defer x.notifying.Store(false)

	if x.closed.Load() {
		panic(ErrSchedulerClosed)
	}
	if x.broken.Load() {
		panic(ErrSchedulerBroken)
	}

	var completed bool
	defer func() {
		if !completed {
			x.broken.Store(true)
		}
	}()

	if !active && x.pauseWhenInactive.Load() {
		if x.metrics != nil {
			x.metrics.recordSkipped()
		}
		completed = true
		return
	}

	var start time.Time
	if x.metrics != nil {
		start = time.Now()
	}

	x.processInsertions()

	// a paused scale discards the delta, rather than banking it
	if wallDelta > 0 && x.tickThreshold() != math.MaxInt64 {
		x.accumulator = saturatingAdd(x.accumulator, wallDelta)
	}

	var ticks int
	for {
		threshold := x.tickThreshold()
		if threshold == math.MaxInt64 || x.accumulator < threshold {
			break
		}
		x.accumulator -= threshold
		x.tick()
		ticks++
		x.processInsertions()
	}

	if wallDelta > 0 {
		x.frameTotal = saturatingAdd(x.frameTotal, time.Duration(float64(wallDelta)*x.effectiveSpeedScale()))
	}
	x.updateFrame()

	if x.catchUpWarn > 0 && ticks > x.catchUpWarn {
		x.warnFallingBehind(ticks)
	}

	if x.metrics != nil {
		x.metrics.recordFrame(time.Since(start), ticks)
	}

	completed = true
}

// tick executes one fixed tick: every due bucket, in frequency then phase
// order, followed by migrations.
func (x *Scheduler) tick() {
	t := x.ticks.Add(1)
	ctx := passContext{ticks: t}
	for f := Hz60; f < numFrequencies; f++ {
		phase := int(t % uint64(f.Interval()))
		x.runBucket(x.buckets[x.bucketBase[f]+phase], ctx)
	}
	x.applyMigrations()
}

// updateFrame updates the per-frame frequencies, then applies migrations
// and insertions.
func (x *Scheduler) updateFrame() {
	ctx := passContext{
		ticks: x.ticks.Load(),
		total: x.frameTotal,
		frame: true,
	}
	x.runBucket(x.buckets[x.bucketBase[EveryFrame]], ctx)
	x.runBucket(x.buckets[x.bucketBase[EveryFrameParallel]], ctx)
	x.applyMigrations()
	x.processInsertions()
}

func (x *Scheduler) applyMigrations() {
	x.mu.Lock()
	defer x.mu.Unlock()
	for i, m := range x.migrations {
		x.migrations[i] = migration{}
		e := x.arena.get(m.h)
		if e == nil {
			continue
		}
		if e.removed.Load() {
			x.arena.release(m.h)
			continue
		}
		// spread across phases, so retuning populations don't pile up
		x.insertNowLocked(x.placeLocked(m.freq, true), m.h, e)
	}
	x.migrations = x.migrations[:0]
}

// processInsertions primes and places pending insertions, including any
// registered by the priming calls themselves.
func (x *Scheduler) processInsertions() {
	for {
		x.mu.Lock()
		batch := x.pending
		x.pending = nil
		x.mu.Unlock()

		if len(batch) == 0 {
			return
		}

		for _, p := range batch {
			x.prime(p)
		}
	}
}

func (x *Scheduler) prime(p *pendingInsert) {
	x.mu.Lock()
	cancelled := p.cancelled
	x.mu.Unlock()
	if cancelled {
		return
	}

	ticks := x.ticks.Load()
	f := p.obj.Update(Tick{
		Scheduler:  x,
		TotalTicks: ticks,
		Total:      time.Duration(ticks) * TickDuration,
		Priming:    true,
	})

	x.mu.Lock()
	defer x.mu.Unlock()

	if p.cancelled {
		return
	}
	if !f.Valid() {
		panic(fmt.Errorf("%w: %d returned by %T", ErrInvalidFrequency, f, p.obj))
	}
	if f == Terminate {
		delete(x.registry, p.obj)
		return
	}

	h := x.arena.alloc(p.obj)
	e := x.arena.get(h)
	e.lastTick = ticks
	e.lastTotal = x.frameTotal
	x.insertNowLocked(x.placeLocked(f, p.sequential), h, e)
	x.registry[p.obj] = registration{h: h}
}

// placeLocked selects the bucket for a newly placed entry at f.
//
// CALLER MUST HOLD Scheduler.mu.
func (x *Scheduler) placeLocked(f Frequency, sequential bool) *bucket {
	base := x.bucketBase[f]
	if f.PerFrame() {
		return x.buckets[base]
	}
	interval := f.Interval()
	var phase int
	if sequential {
		phase = x.seqCursor[f]
		x.seqCursor[f] = (phase + 1) % interval
	} else {
		phase = int((x.ticks.Load() + 1) % uint64(interval))
	}
	return x.buckets[base+phase]
}

// terminateLocked frees an entry that returned Terminate.
//
// CALLER MUST HOLD Scheduler.mu.
func (x *Scheduler) terminateLocked(h handle, e *entry) {
	if r, ok := x.registry[e.obj]; ok && r.pending == nil && r.h == h {
		delete(x.registry, e.obj)
	}
	x.arena.release(h)
}

func (x *Scheduler) tickThreshold() time.Duration {
	scale := x.effectiveSpeedScale()
	if scale == 0 {
		return math.MaxInt64
	}
	d := float64(TickDuration) / scale
	if d >= math.MaxInt64 {
		return math.MaxInt64
	}
	return max(time.Duration(d), 1)
}

func (x *Scheduler) effectiveSpeedScale() float64 {
	scale := x.SpeedScale()
	if scale > 0 && scale < x.minSpeedScale {
		scale = x.minSpeedScale
	}
	return scale
}

func (x *Scheduler) warnFallingBehind(ticks int) {
	x.logger.Warning().
		Limit().
		Int("ticks", ticks).
		Int("threshold", x.catchUpWarn).
		Log("scheduler: falling behind, catching up on fixed ticks")
}

// SetUpdateSpeedScale sets the multiplier applied to wall time. Zero pauses
// fixed ticks indefinitely, while the per-frame frequencies continue with
// zero elapsed time.
func (x *Scheduler) SetUpdateSpeedScale(scale float64) error {
	if !validSpeedScale(scale) {
		return fmt.Errorf("%w: %v", ErrInvalidSpeedScale, scale)
	}
	x.speedScale.Store(math.Float64bits(scale))
	return nil
}

// SpeedScale returns the configured update speed scale.
func (x *Scheduler) SpeedScale() float64 {
	return math.Float64frombits(x.speedScale.Load())
}

// SetPauseWhenInactive sets whether frames reported as inactive are
// discarded, pausing every frequency, rather than updated as usual.
func (x *Scheduler) SetPauseWhenInactive(enabled bool) {
	x.pauseWhenInactive.Store(enabled)
}

// Len returns the number of registered objects, including those awaiting
// their priming call.
func (x *Scheduler) Len() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return len(x.registry)
}

// FrequencyOf returns the frequency u is scheduled at, or false if u is not
// registered, or has not yet been primed.
func (x *Scheduler) FrequencyOf(u Updatable) (Frequency, bool) {
	x.mu.Lock()
	defer x.mu.Unlock()
	r, ok := x.registry[u]
	if !ok || r.pending != nil {
		return Terminate, false
	}
	e := x.arena.get(r.h)
	if e == nil {
		return Terminate, false
	}
	return e.freq, true
}

// Ticks returns the number of fixed ticks executed.
func (x *Scheduler) Ticks() uint64 {
	return x.ticks.Load()
}

// Metrics returns a snapshot of the scheduler's metrics. Only Ticks is
// populated unless WithMetrics was enabled.
func (x *Scheduler) Metrics() MetricsSnapshot {
	snapshot := MetricsSnapshot{Ticks: x.ticks.Load()}
	if m := x.metrics; m != nil {
		snapshot.Latency = m.latency.Snapshot()
		snapshot.TPS = m.tps.TPS()
		snapshot.Frames = m.frames.Load()
		snapshot.SkippedFrames = m.skippedFrames.Load()
		snapshot.MaxCatchUp = int(m.maxCatchUp.Load())
	}
	return snapshot
}

// Close unregisters everything, and prevents further use. It returns
// [ErrSchedulerClosed] if called more than once. Close does not close the
// pool.
//
// Close panics with [ErrReentrantNotify] if called during NotifyFrame.
func (x *Scheduler) Close() error {
	if !x.notifying.CompareAndSwap(false, true) {
		panic(ErrReentrantNotify)
	}
	defer x.notifying.Store(false)

	if !x.closed.CompareAndSwap(false, true) {
		return ErrSchedulerClosed
	}

	x.mu.Lock()
	registered := len(x.registry)
	clear(x.registry)
	x.pending = nil
	x.migrations = nil
	for _, b := range x.buckets {
		b.entries = nil
		b.next = nil
	}
	x.arena = arena{}
	x.mu.Unlock()

	x.logger.Debug().
		Int("registered", registered).
		Uint64("ticks", x.ticks.Load()).
		Log("scheduler: closed")

	return nil
}

func saturatingAdd(a, b time.Duration) time.Duration {
	if b > 0 && a > math.MaxInt64-b {
		return math.MaxInt64
	}
	return a + b
}
