package threadpool

import (
	"runtime"
)

// worker is a long-lived goroutine, locked to its own OS thread.
//
// Handoff protocol (all under Pool.mu, except the receive from start):
//
//	worker:    queue empty -> idle.Set(), ready <- {}, then block on start
//	submitter: <-ready (non-blocking), idle.Reset(), start <- token
//	Close:     <-ready (blocking), close(start)
//
// Because the ready announcement and the queue check share the pool's lock,
// a queued token is never stranded behind a parked worker.
type worker struct {
	pool  *Pool
	ready chan struct{}
	start chan CompletionToken
	idle  *signal
	id    int
	// background workers don't service the foreground queue
	background bool
}

func newWorker(pool *Pool, id int, background bool) *worker {
	return &worker{
		pool:       pool,
		ready:      make(chan struct{}, 1),
		start:      make(chan CompletionToken, 1),
		idle:       newSignal(),
		id:         id,
		background: background,
	}
}

func (w *worker) run() {
	defer w.pool.wg.Done()

	// never unlocked, the thread is discarded when the goroutine exits
	runtime.LockOSThread()

	if w.background {
		w.pool.lowerThreadPriority(w.id, false)
	}

	for {
		token, ok := w.next()
		if !ok {
			return
		}
		w.pool.execute(token)
	}
}

// next returns the next token to run, parking until one is handed off, and
// returning false once the worker has been stopped.
func (w *worker) next() (CompletionToken, bool) {
	p := w.pool

	p.mu.Lock()
	if !w.background {
		if token, ok := p.queue.Pop(); ok {
			p.mu.Unlock()
			return token, true
		}
	}
	w.idle.Set()
	// never blocks: w is the only sender, and a consumer takes the value
	// before it may send start
	w.ready <- struct{}{}
	p.mu.Unlock()

	token, ok := <-w.start
	return token, ok
}
