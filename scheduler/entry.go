package scheduler

import (
	"sync/atomic"
	"time"
)

type (
	// handle is a generation-checked reference to an entry in the arena.
	// The zero value never resolves.
	handle struct {
		idx uint32
		gen uint32
	}

	// entry is the arena record for one placed updatable.
	//
	// Entries are owned by exactly one of: a bucket (bucket >= 0), or the
	// coordinator's migration list (bucket == noBucket).
	entry struct {
		obj Updatable
		// lastTotal is the per-frame total at the last update or placement
		lastTotal time.Duration
		// lastTick is the tick count at the last update or placement
		lastTick uint64
		bucket   int
		pos      int
		freq     Frequency
		gen      uint32
		// removed is set by Unregister, possibly while a pass that includes
		// this entry is running
		removed atomic.Bool
	}

	// arena stores entries, recycling freed indexes. The generation of an
	// index is bumped on free, invalidating outstanding handles.
	//
	// Entries are allocated and freed only while no pass is reading them,
	// so the entries slice may grow without synchronization beyond
	// Scheduler.mu.
	arena struct {
		entries []*entry
		free    []uint32
		live    int
	}
)

const noBucket = -1

// alloc returns a handle to a fresh entry for obj.
func (x *arena) alloc(obj Updatable) handle {
	var idx uint32
	if n := len(x.free); n != 0 {
		idx = x.free[n-1]
		x.free = x.free[:n-1]
	} else {
		idx = uint32(len(x.entries))
		// generation 0 is reserved for the zero handle
		x.entries = append(x.entries, &entry{gen: 1})
	}
	e := x.entries[idx]
	e.obj = obj
	e.bucket = noBucket
	e.pos = -1
	e.removed.Store(false)
	x.live++
	return handle{idx: idx, gen: e.gen}
}

// get resolves h, returning nil if it is stale.
func (x *arena) get(h handle) *entry {
	if int(h.idx) >= len(x.entries) {
		return nil
	}
	e := x.entries[h.idx]
	if e.gen != h.gen {
		return nil
	}
	return e
}

// release frees the entry behind h, returning false if h was stale.
func (x *arena) release(h handle) bool {
	e := x.get(h)
	if e == nil {
		return false
	}
	e.obj = nil
	e.bucket = noBucket
	e.pos = -1
	e.gen++
	if e.gen == 0 {
		e.gen = 1
	}
	x.free = append(x.free, h.idx)
	x.live--
	return true
}
