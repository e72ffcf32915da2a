package threadpool

import (
	"runtime"
	"time"
)

type (
	// Task is the unit of work accepted by a [Pool].
	//
	// Perform is invoked at most once per submission, with the payload that
	// was submitted alongside it.
	Task interface {
		Perform(payload any)
	}

	// TaskFunc implements [Task].
	TaskFunc func(payload any)

	// CompletionToken is returned for each submission, and may be used to
	// wait for (or steal) the task. It is an immutable value, safe to copy
	// and to share between goroutines.
	//
	// The zero value is an already-complete token.
	CompletionToken struct {
		slot    *taskSlot
		version uint64
	}

	// taskSlot is a recyclable record, binding one submitted task to the
	// tokens that observe it. Slots are owned by the pool while queued, and
	// the task is owned by whoever wins AtomicVersion.TryClaim.
	taskSlot struct {
		pool    *Pool
		task    Task
		payload any
		version AtomicVersion
	}
)

// Perform implements [Task].
func (x TaskFunc) Perform(payload any) {
	x(payload)
}

// Done reports whether the task has finished running, without blocking.
func (x CompletionToken) Done() bool {
	return x.slot == nil || x.slot.version.Completed(x.version)
}

// Wait blocks until the task has finished running.
//
// If no goroutine has started the task yet, it is run on the calling
// goroutine, and any panic it raises propagates to the caller. Otherwise,
// Wait drains other queued tasks while it waits, falling back to yielding,
// then to short sleeps, when there is nothing else to do.
//
// Wait may be called any number of times, from any number of goroutines.
func (x CompletionToken) Wait() {
	if x.Done() {
		return
	}

	if x.tryRun() {
		x.slot.pool.stats.stolen.Add(1)
		return
	}

	pool := x.slot.pool
	for spins := 0; !x.Done(); {
		if pool.DrainOne() {
			spins = 0
			continue
		}
		spins++
		backoff(spins)
	}
}

// tryRun claims and runs the task, returning false if it was already
// claimed (or completed) by someone else.
func (x CompletionToken) tryRun() bool {
	if x.slot == nil || !x.slot.version.TryClaim(x.version) {
		return false
	}
	x.slot.run()
	return true
}

// run must only be called by the claimant of the slot's current generation.
func (x *taskSlot) run() {
	task, payload := x.task, x.payload
	x.task, x.payload = nil, nil

	// released even if the task panics, so that waiters are never stranded
	defer x.pool.releaseSlot(x)

	task.Perform(payload)
}

const (
	backoffYieldSpins = 16
	backoffMaxSleep   = time.Millisecond
)

func backoff(spins int) {
	if spins <= backoffYieldSpins {
		runtime.Gosched()
		return
	}
	shift := min(spins-backoffYieldSpins, 10)
	time.Sleep(min(time.Microsecond<<shift, backoffMaxSleep))
}
