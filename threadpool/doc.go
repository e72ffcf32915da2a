// Package threadpool implements a fixed-size worker pool for CPU-bound,
// fire-and-forget tasks, with caller-side work stealing.
//
// # Architecture
//
// A [Pool] owns two sets of long-lived workers, each a goroutine locked to a
// dedicated OS thread:
//   - foreground workers, fed directly on [Pool.Submit] when one is ready,
//     otherwise via a shared FIFO queue
//   - background workers, fed on [Pool.SubmitBackground], which never queue:
//     when all are busy an ephemeral worker is spawned, runs exactly one task,
//     and exits (taking its OS thread with it)
//
// Every submission returns a [CompletionToken]. Waiting on a token that has
// not yet been picked up runs the task on the waiting goroutine, and waiting
// on one some other goroutine is running drains the FIFO queue in the
// meantime. This guarantees forward progress with zero free workers.
//
// # Exactly Once
//
// Each task slot carries an [AtomicVersion], a generation counter with an
// "armed" bit. Whoever wins the single compare-and-swap that clears the bit
// is the sole executor, whether that is a worker, a draining goroutine, or a
// waiter. Completion is signaled by advancing the generation, so a token
// remains valid (and reports completion) after its slot has been recycled.
//
// # Failure Semantics
//
// Panics raised by tasks are not recovered by default. They propagate on
// whichever goroutine ran the task. [WithPanicHandler] installs a top-level
// handler for worker goroutines, stolen and inline executions always
// propagate to the caller. Submitting to a closed pool panics with
// [ErrPoolClosed].
//
// # Usage
//
//	pool, err := threadpool.New(threadpool.WithWorkers(4))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer pool.Close()
//
//	token := pool.Submit(threadpool.TaskFunc(func(payload any) {
//	    fmt.Println("hello", payload)
//	}), "world")
//	token.Wait()
package threadpool
