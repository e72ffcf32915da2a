package threadpool

import (
	"sync"
)

// signal is a manual-reset event: once set, every Wait returns until it is
// reset again.
type signal struct {
	ch  chan struct{}
	mu  sync.Mutex
	set bool
}

func newSignal() *signal {
	return &signal{ch: make(chan struct{})}
}

func (x *signal) Set() {
	x.mu.Lock()
	if !x.set {
		x.set = true
		close(x.ch)
	}
	x.mu.Unlock()
}

func (x *signal) Reset() {
	x.mu.Lock()
	if x.set {
		x.set = false
		x.ch = make(chan struct{})
	}
	x.mu.Unlock()
}

func (x *signal) Wait() {
	x.mu.Lock()
	ch := x.ch
	x.mu.Unlock()
	<-ch
}
