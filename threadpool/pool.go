package threadpool

import (
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/joeycumines/logiface"
)

type (
	// Pool is a fixed-size set of OS-thread workers, executing fire-and-forget
	// tasks. Callers may participate in execution, via [CompletionToken.Wait]
	// and [Pool.DrainOne].
	//
	// Foreground workers service the shared FIFO queue. Background workers
	// only accept direct handoffs, and SubmitBackground spawns an ephemeral
	// worker, rather than queueing, when none are ready.
	//
	// Pool must be constructed via [New], and should be closed via
	// [Pool.Close].
	Pool struct {
		logger        *logiface.Logger[logiface.Event]
		panicHandler  func(value any)
		ephemeralIdle *signal
		workers       []*worker
		background    []*worker
		// free is the slot free list, guarded by mu
		free           []*taskSlot
		queue          tokenQueue
		stats          poolStats
		wg             sync.WaitGroup
		mu             sync.Mutex
		slotCacheSize  int
		backgroundNice int
		cursor         int
		bgCursor       int
		ephemeral      int
		closed         atomic.Bool
	}

	// Stats is a point-in-time snapshot of a pool's counters.
	Stats struct {
		// Submitted is the total number of accepted submissions.
		Submitted uint64
		// Inline counts submissions run by the submitter, due to there being
		// no workers of the requested kind.
		Inline uint64
		// HandedOff counts submissions passed directly to a ready worker.
		HandedOff uint64
		// Queued counts submissions pushed onto the foreground FIFO.
		Queued uint64
		// Stolen counts tasks run by a goroutine waiting on their token.
		Stolen uint64
		// Drained counts tasks run via DrainOne (including from Wait).
		Drained uint64
		// Ephemeral counts ephemeral background workers spawned.
		Ephemeral uint64
	}

	poolStats struct {
		submitted atomic.Uint64
		inline    atomic.Uint64
		handedOff atomic.Uint64
		queued    atomic.Uint64
		stolen    atomic.Uint64
		drained   atomic.Uint64
		ephemeral atomic.Uint64
	}
)


// New constructs and starts a Pool, returning an error if any option is
// invalid.
func New(opts ...Option) (*Pool, error) {
	cfg, err := resolveOptions(opts)
	if err != nil {
		return nil, err
	}

	x := &Pool{
		logger:         cfg.logger,
		panicHandler:   cfg.panicHandler,
		ephemeralIdle:  newSignal(),
		slotCacheSize:  cfg.slotCacheSize,
		backgroundNice: cfg.backgroundNice,
	}
	x.ephemeralIdle.Set()

	x.workers = make([]*worker, cfg.workers)
	for i := range x.workers {
		x.workers[i] = newWorker(x, i, false)
	}
	x.background = make([]*worker, cfg.backgroundWorkers)
	for i := range x.background {
		x.background[i] = newWorker(x, len(x.workers)+i, true)
	}

	x.wg.Add(len(x.workers) + len(x.background))
	for _, w := range x.workers {
		go w.run()
	}
	for _, w := range x.background {
		go w.run()
	}

	x.logger.Debug().
		Int("workers", len(x.workers)).
		Int("background_workers", len(x.background)).
		Log("threadpool: started")

	return x, nil
}

// Submit schedules task to run on a foreground worker, returning a token
// that may be used to wait for it. Submit never blocks.
//
// If the pool has no foreground workers, the task runs inline, and the
// returned token is already complete.
//
// Submit panics if task is nil, or if the pool has been closed.
func (x *Pool) Submit(task Task, payload any) CompletionToken {
	return x.submit(task, payload, false)
}

// SubmitBackground schedules task to run on a background worker, returning
// a token that may be used to wait for it. If no background worker is
// ready, an ephemeral worker is spawned to run it. SubmitBackground never
// blocks.
//
// If the pool has no background workers, the task runs inline, and the
// returned token is already complete.
//
// SubmitBackground panics if task is nil, or if the pool has been closed.
func (x *Pool) SubmitBackground(task Task, payload any) CompletionToken {
	return x.submit(task, payload, true)
}

func (x *Pool) submit(task Task, payload any, background bool) CompletionToken {
	if task == nil {
		panic(ErrNilTask)
	}

	workers, cursor := x.workers, &x.cursor
	if background {
		workers, cursor = x.background, &x.bgCursor
	}

	if len(workers) == 0 {
		if x.closed.Load() {
			panic(ErrPoolClosed)
		}
		x.stats.submitted.Add(1)
		x.stats.inline.Add(1)
		task.Perform(payload)
		return CompletionToken{}
	}

	x.mu.Lock()

	if x.closed.Load() {
		x.mu.Unlock()
		panic(ErrPoolClosed)
	}

	x.stats.submitted.Add(1)

	slot := x.acquireSlotLocked()
	slot.task, slot.payload = task, payload
	token := CompletionToken{slot: slot, version: slot.version.Arm()}

	if w := takeReadyLocked(workers, cursor); w != nil {
		w.start <- token
		x.mu.Unlock()
		x.stats.handedOff.Add(1)
		return token
	}

	if background {
		x.ephemeral++
		if x.ephemeral == 1 {
			x.ephemeralIdle.Reset()
		}
		x.mu.Unlock()
		x.spawnEphemeral(token)
		return token
	}

	x.queue.Push(token)
	x.mu.Unlock()
	x.stats.queued.Add(1)
	return token
}

// takeReadyLocked polls each worker's ready signal without blocking,
// starting from the rotating cursor, and returns the first ready worker.
//
// CALLER MUST HOLD Pool.mu.
func takeReadyLocked(workers []*worker, cursor *int) *worker {
	n := len(workers)
	for i := 0; i < n; i++ {
		idx := (*cursor + i) % n
		w := workers[idx]
		select {
		case <-w.ready:
			*cursor = (idx + 1) % n
			w.idle.Reset()
			return w
		default:
		}
	}
	return nil
}

func (x *Pool) spawnEphemeral(token CompletionToken) {
	x.stats.ephemeral.Add(1)

	// rate limited per call site, if the logger has category rate limits
	x.logger.Warning().
		Limit().
		Int("background_workers", len(x.background)).
		Log("threadpool: background workers saturated, spawning ephemeral worker")

	go x.runEphemeral(token)
}

func (x *Pool) runEphemeral(token CompletionToken) {
	defer x.ephemeralDone()

	// never unlocked, the thread is discarded when the goroutine exits
	runtime.LockOSThread()

	x.lowerThreadPriority(-1, true)

	x.execute(token)
}

func (x *Pool) ephemeralDone() {
	x.mu.Lock()
	x.ephemeral--
	if x.ephemeral == 0 {
		x.ephemeralIdle.Set()
	}
	x.mu.Unlock()
}

// execute runs token on a worker goroutine, unless it has already been
// claimed by another goroutine.
func (x *Pool) execute(token CompletionToken) {
	if x.panicHandler != nil {
		defer x.recoverTask()
	}
	token.tryRun()
}

func (x *Pool) recoverTask() {
	if r := recover(); r != nil {
		x.logger.Err().
			Any("panic", r).
			Log("threadpool: task panicked on worker")
		x.panicHandler(r)
	}
}

// acquireSlotLocked returns an unarmed slot, reusing one from the free list
// when available.
//
// CALLER MUST HOLD Pool.mu.
func (x *Pool) acquireSlotLocked() *taskSlot {
	if n := len(x.free); n != 0 {
		slot := x.free[n-1]
		x.free[n-1] = nil
		x.free = x.free[:n-1]
		return slot
	}
	return &taskSlot{pool: x}
}

// releaseSlot completes the slot's current generation, then returns it to
// the free list. Must only be called by the claimant, after the task and
// payload have been cleared.
func (x *Pool) releaseSlot(slot *taskSlot) {
	slot.version.Advance()
	x.mu.Lock()
	if len(x.free) < x.slotCacheSize {
		x.free = append(x.free, slot)
	}
	x.mu.Unlock()
}

// DrainOne runs one queued foreground task on the calling goroutine,
// returning false if there was nothing left to run. Panics raised by the
// task propagate to the caller.
func (x *Pool) DrainOne() bool {
	for {
		x.mu.Lock()
		token, ok := x.queue.Pop()
		x.mu.Unlock()
		if !ok {
			return false
		}
		// tokens already stolen by a waiter are skipped
		if token.tryRun() {
			x.stats.drained.Add(1)
			return true
		}
	}
}

// WaitForAllForeground drains the queue on the calling goroutine, then
// blocks until every foreground worker is idle.
//
// Tasks submitted concurrently, from other goroutines, may or may not be
// waited for.
func (x *Pool) WaitForAllForeground() {
	for x.DrainOne() {
	}
	for _, w := range x.workers {
		w.idle.Wait()
	}
}

// WaitForAllBackground blocks until every background worker is idle, and
// every ephemeral worker has exited.
func (x *Pool) WaitForAllBackground() {
	for x.DrainOne() {
	}
	for _, w := range x.background {
		w.idle.Wait()
	}
	x.ephemeralIdle.Wait()
}

// Workers returns the number of foreground workers.
func (x *Pool) Workers() int {
	return len(x.workers)
}

// BackgroundWorkers returns the number of long-lived background workers.
func (x *Pool) BackgroundWorkers() int {
	return len(x.background)
}

// Stats returns a snapshot of the pool's counters.
func (x *Pool) Stats() Stats {
	return Stats{
		Submitted: x.stats.submitted.Load(),
		Inline:    x.stats.inline.Load(),
		HandedOff: x.stats.handedOff.Load(),
		Queued:    x.stats.queued.Load(),
		Stolen:    x.stats.stolen.Load(),
		Drained:   x.stats.drained.Load(),
		Ephemeral: x.stats.ephemeral.Load(),
	}
}

// Close stops the pool from accepting work, runs any queued tasks on the
// calling goroutine, then stops every worker, and waits for them (and any
// ephemeral workers) to exit. Close returns [ErrPoolClosed] if called more
// than once.
//
// Close must not be called from within a task.
func (x *Pool) Close() error {
	x.mu.Lock()
	if x.closed.Load() {
		x.mu.Unlock()
		return ErrPoolClosed
	}
	x.closed.Store(true)
	x.mu.Unlock()

	for x.DrainOne() {
	}

	// after closed, only Close consumes ready, and the queue is empty
	for _, w := range x.workers {
		<-w.ready
		close(w.start)
	}
	for _, w := range x.background {
		<-w.ready
		close(w.start)
	}

	x.wg.Wait()
	x.ephemeralIdle.Wait()

	x.logger.Debug().Log("threadpool: closed")

	return nil
}
