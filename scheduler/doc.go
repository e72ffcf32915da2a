// Package scheduler implements a frequency-bucketed update scheduler,
// ticking large numbers of stateful objects at independently declared rates.
//
// # Timing
//
// The host calls [Scheduler.NotifyFrame] once per frame, with the wall time
// since the previous frame. Wall time (multiplied by the speed scale) is
// accumulated, and consumed in fixed ticks of [TickDuration], at
// [TicksPerSecond]. Every fixed tick covered by a frame is executed, so a slow
// frame runs several ticks back to back, and any remainder carries over.
// [EveryFrame] objects are updated once per frame, after the fixed ticks.
//
// # Buckets
//
// Each fixed frequency is backed by one bucket per phase, e.g. [Hz10]
// updates every 6 ticks, and has 6 buckets, one due on each tick modulo 6.
// Objects are spread across phases to even out the per-tick load.
//
// Every update returns the frequency the object wants next. Returning a
// different frequency migrates the object once the tick's buckets have all
// run, and returning [Terminate] removes it.
//
// # Parallel Passes
//
// Buckets of the Parallel frequencies are updated across a [Dispatcher],
// typically a [threadpool.Pool]. Positions are claimed from a shared atomic
// cursor by the calling goroutine and its helpers, so the order of updates
// within such a bucket is unspecified, and the objects must be independent.
//
// # Mutation
//
// Register and Unregister may be called from any goroutine, including from
// update callbacks. Registrations are deferred: new objects receive a single
// priming call (see [Tick.Priming]) after the current tick, then are placed.
// Objects unregistered during a pass that includes them are skipped if not
// yet updated, and the bucket is compacted once the pass completes.
package scheduler
