package threadpool

import (
	"sync/atomic"
)

// versionArmed is the low bit of AtomicVersion's state, set while a
// submission is waiting to be claimed.
const versionArmed = 1

// AtomicVersion is a monotonically increasing generation counter, packed
// with a single "armed" bit, used as the completion signal for task slots.
//
// State layout: generation<<1 | armed.
//
// The lifecycle of one generation is:
//
//	Arm()        -> armed, returns the generation snapshot
//	TryClaim(v)  -> exactly one caller observes true, clearing armed
//	Advance()    -> generation+1, every snapshot v is now Completed
//
// Because claims compare the full state, a stale snapshot can never claim a
// later generation of the same slot.
//
// The zero value is ready to use.
type AtomicVersion struct {
	state atomic.Uint64
}

// Load returns the current generation.
func (x *AtomicVersion) Load() uint64 {
	return x.state.Load() >> 1
}

// Arm marks the current generation as pending, and returns it.
//
// Only the exclusive owner of an unarmed slot may call Arm.
func (x *AtomicVersion) Arm() uint64 {
	v := x.state.Load() >> 1
	x.state.Store(v<<1 | versionArmed)
	return v
}

// TryClaim attempts to take ownership of generation v, returning true for
// exactly one caller, and only while v is armed.
func (x *AtomicVersion) TryClaim(v uint64) bool {
	return x.state.CompareAndSwap(v<<1|versionArmed, v<<1)
}

// Advance completes the current generation.
//
// Only the caller that won TryClaim may call Advance.
func (x *AtomicVersion) Advance() {
	x.state.Add(2)
}

// Completed reports whether generation v has been advanced past.
func (x *AtomicVersion) Completed(v uint64) bool {
	return x.state.Load()>>1 != v
}
