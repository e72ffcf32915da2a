package scheduler

import (
	"fmt"
	"sync/atomic"
	"time"
)

type (
	// bucket is the set of entries sharing one frequency and phase.
	//
	// The entries array is dense outside of passes. While passing is set,
	// the array is read concurrently by the pass, and removals only flag the
	// entry, to be swept by the compaction that ends the pass.
	bucket struct {
		entries []handle
		// next holds the result for each position of the active pass, one
		// writer per index
		next    []Frequency
		id      int
		phase   int
		freq    Frequency
		passing bool
	}

	// passContext is the timing shared by every entry in one pass.
	passContext struct {
		ticks uint64
		total time.Duration
		frame bool
	}

	// parallelPass is the lock-free parallel-for over one bucket's entries,
	// shared by the coordinator and its helpers on the pool.
	parallelPass struct {
		s      *Scheduler
		b      *bucket
		ctx    passContext
		n      int64
		cursor atomic.Int64
	}
)

// Perform implements threadpool.Task.
func (x *parallelPass) Perform(any) {
	x.run()
}

func (x *parallelPass) run() {
	for {
		i := x.cursor.Add(1) - 1
		if i >= x.n {
			return
		}
		x.s.updateAt(x.b, int(i), x.ctx)
	}
}

// runBucket performs one pass over b, then compacts it.
func (x *Scheduler) runBucket(b *bucket, ctx passContext) {
	x.mu.Lock()
	if b.passing {
		x.mu.Unlock()
		panic(errMutationDuringPass)
	}
	b.passing = true
	n := len(b.entries)
	if cap(b.next) < n {
		b.next = make([]Frequency, n)
	}
	b.next = b.next[:n]
	x.mu.Unlock()

	if n == 0 {
		x.mu.Lock()
		b.passing = false
		x.mu.Unlock()
		return
	}

	if helpers := x.helpersFor(b, n); helpers > 0 {
		x.runParallel(b, ctx, n, helpers)
	} else {
		for i := 0; i < n; i++ {
			x.updateAt(b, i, ctx)
		}
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	b.passing = false
	x.compactLocked(b, n, ctx)
}

func (x *Scheduler) helpersFor(b *bucket, n int) int {
	if !b.freq.Parallel() || x.pool == nil || n < 2 {
		return 0
	}
	return min(x.pool.Workers(), n-1)
}

func (x *Scheduler) runParallel(b *bucket, ctx passContext, n, helpers int) {
	pass := &x.pass
	pass.s, pass.b, pass.ctx, pass.n = x, b, ctx, int64(n)
	pass.cursor.Store(0)

	tokens := x.tokens[:0]
	for i := 0; i < helpers; i++ {
		tokens = append(tokens, x.pool.Submit(pass, nil))
	}

	pass.run()

	// steals any helper that never started
	for _, token := range tokens {
		token.Wait()
	}

	clear(tokens)
	x.tokens = tokens[:0]
	pass.b = nil
}

// updateAt calls the entry at position i of b, recording its result.
// Called concurrently for distinct i, during a parallel pass.
func (x *Scheduler) updateAt(b *bucket, i int, ctx passContext) {
	e := x.arena.get(b.entries[i])
	// an update that panics on a worker that recovers it keeps its frequency
	b.next[i] = b.freq
	if e == nil || e.removed.Load() {
		return
	}

	tick := Tick{
		Scheduler:    x,
		ElapsedTicks: ctx.ticks - e.lastTick,
		TotalTicks:   ctx.ticks,
	}
	if ctx.frame {
		tick.Elapsed = ctx.total - e.lastTotal
		tick.Total = ctx.total
	} else {
		tick.Elapsed = time.Duration(tick.ElapsedTicks) * TickDuration
		tick.Total = time.Duration(ctx.ticks) * TickDuration
	}

	b.next[i] = e.obj.Update(tick)
}

// compactLocked applies the results of a pass over the first n entries of
// b, in one sweep preserving relative order. Entries unregistered during
// the pass and terminated entries are freed, and entries that asked for a
// different frequency are moved to the migration list.
//
// CALLER MUST HOLD Scheduler.mu.
func (x *Scheduler) compactLocked(b *bucket, n int, ctx passContext) {
	w := 0
	for i := 0; i < n; i++ {
		h := b.entries[i]
		e := x.arena.get(h)
		if e == nil {
			continue
		}
		if e.removed.Load() {
			x.arena.release(h)
			continue
		}

		f := b.next[i]
		if !f.Valid() {
			panic(fmt.Errorf("%w: %d returned by %T", ErrInvalidFrequency, f, e.obj))
		}

		e.lastTick = ctx.ticks
		e.lastTotal = ctx.total

		switch f {
		case b.freq:
			b.entries[w] = h
			e.pos = w
			w++
		case Terminate:
			x.terminateLocked(h, e)
		default:
			e.bucket = noBucket
			e.pos = -1
			e.freq = f
			x.migrations = append(x.migrations, migration{h: h, freq: f})
		}
	}

	if len(b.entries) != n {
		panic(errMutationDuringPass)
	}

	clear(b.entries[w:])
	b.entries = b.entries[:w]
	clear(b.next)
}

// insertNowLocked appends the entry to b.
//
// CALLER MUST HOLD Scheduler.mu.
func (x *Scheduler) insertNowLocked(b *bucket, h handle, e *entry) {
	if b.passing {
		panic(errMutationDuringPass)
	}
	e.bucket = b.id
	e.pos = len(b.entries)
	e.freq = b.freq
	b.entries = append(b.entries, h)
}

// removeNowLocked removes the entry from b, preserving the order of the
// remaining entries.
//
// CALLER MUST HOLD Scheduler.mu.
func (x *Scheduler) removeNowLocked(b *bucket, e *entry) {
	if b.passing {
		panic(errMutationDuringPass)
	}
	pos := e.pos
	copy(b.entries[pos:], b.entries[pos+1:])
	b.entries[len(b.entries)-1] = handle{}
	b.entries = b.entries[:len(b.entries)-1]
	for i := pos; i < len(b.entries); i++ {
		if moved := x.arena.get(b.entries[i]); moved != nil {
			moved.pos = i
		}
	}
	e.bucket = noBucket
	e.pos = -1
}
