package scheduler

import (
	"time"
)

// Updatable is an object updated periodically by a [Scheduler].
//
// Update is called with the timing of the current tick, and returns the
// frequency it should next be updated at. Returning a different frequency
// moves the object after the current tick, and returning [Terminate]
// unregisters it.
//
// Implementations must be comparable, as they are used as map keys.
// Pointers are typical.
type Updatable interface {
	Update(tick Tick) Frequency
}

// UpdateFunc adapts a function to [Updatable]. As func values are not
// comparable, register a pointer, e.g. &fn.
type UpdateFunc func(tick Tick) Frequency

// Update implements [Updatable].
func (x *UpdateFunc) Update(tick Tick) Frequency {
	return (*x)(tick)
}

// Tick is the timing context passed to every update call.
//
// For the fixed-tick frequencies, time is simulated, i.e. a multiple of
// [TickDuration]. For the per-frame frequencies, time is the host's wall
// delta, multiplied by the speed scale.
type Tick struct {
	// Scheduler is the scheduler making the call, which may be used to
	// register or unregister objects.
	Scheduler *Scheduler

	// ElapsedTicks is the number of fixed ticks since the object was last
	// updated (or placed).
	ElapsedTicks uint64

	// TotalTicks is the number of fixed ticks the scheduler has executed.
	TotalTicks uint64

	// Elapsed is the time since the object was last updated (or placed).
	Elapsed time.Duration

	// Total is the scheduler's total simulated time.
	Total time.Duration

	// Priming is set for the initial call, made once after registration to
	// learn the object's first frequency. Elapsed values are zero.
	Priming bool
}

// ElapsedSeconds returns Elapsed in seconds.
func (x Tick) ElapsedSeconds() float64 {
	return x.Elapsed.Seconds()
}

// TotalSeconds returns Total in seconds.
func (x Tick) TotalSeconds() float64 {
	return x.Total.Seconds()
}
