package scheduler

import (
	"strconv"
	"time"
)

// TicksPerSecond is the fixed tick rate.
const TicksPerSecond = 60

// TickDuration is the simulated duration of one fixed tick.
const TickDuration = time.Second / TicksPerSecond

// Frequency is the rate an [Updatable] asks to be updated at, returned from
// every call to its Update method. The Parallel variants permit the
// scheduler to update objects sharing the bucket concurrently, across the
// pool.
type Frequency uint8

const (
	// Terminate unregisters the updatable.
	Terminate Frequency = iota
	// EveryFrame updates once per host frame, independent of fixed ticks.
	EveryFrame
	EveryFrameParallel
	Hz60
	Hz60Parallel
	Hz30
	Hz30Parallel
	Hz20
	Hz20Parallel
	Hz15
	Hz15Parallel
	Hz10
	Hz10Parallel
	Hz5
	Hz5Parallel
	Hz2
	Hz2Parallel
	Hz1
	Hz1Parallel

	numFrequencies
)

type frequencyInfo struct {
	name string
	// interval is the period in fixed ticks, 0 for per-frame (and Terminate)
	interval int
	parallel bool
}

var frequencyTable = [numFrequencies]frequencyInfo{
	Terminate:          {name: `Terminate`},
	EveryFrame:         {name: `EveryFrame`},
	EveryFrameParallel: {name: `EveryFrameParallel`, parallel: true},
	Hz60:               {name: `Hz60`, interval: 1},
	Hz60Parallel:       {name: `Hz60Parallel`, interval: 1, parallel: true},
	Hz30:               {name: `Hz30`, interval: 2},
	Hz30Parallel:       {name: `Hz30Parallel`, interval: 2, parallel: true},
	Hz20:               {name: `Hz20`, interval: 3},
	Hz20Parallel:       {name: `Hz20Parallel`, interval: 3, parallel: true},
	Hz15:               {name: `Hz15`, interval: 4},
	Hz15Parallel:       {name: `Hz15Parallel`, interval: 4, parallel: true},
	Hz10:               {name: `Hz10`, interval: 6},
	Hz10Parallel:       {name: `Hz10Parallel`, interval: 6, parallel: true},
	Hz5:                {name: `Hz5`, interval: 12},
	Hz5Parallel:        {name: `Hz5Parallel`, interval: 12, parallel: true},
	Hz2:                {name: `Hz2`, interval: 30},
	Hz2Parallel:        {name: `Hz2Parallel`, interval: 30, parallel: true},
	Hz1:                {name: `Hz1`, interval: 60},
	Hz1Parallel:        {name: `Hz1Parallel`, interval: 60, parallel: true},
}

// String implements fmt.Stringer.
func (f Frequency) String() string {
	if f < numFrequencies {
		return frequencyTable[f].name
	}
	return `Frequency(` + strconv.Itoa(int(f)) + `)`
}

// Valid reports whether f is a known value, including Terminate.
func (f Frequency) Valid() bool {
	return f < numFrequencies
}

// Interval returns the period of f in fixed ticks, or 0 for the per-frame
// frequencies and Terminate.
func (f Frequency) Interval() int {
	if f < numFrequencies {
		return frequencyTable[f].interval
	}
	return 0
}

// Parallel reports whether objects at f may be updated concurrently.
func (f Frequency) Parallel() bool {
	return f < numFrequencies && frequencyTable[f].parallel
}

// PerFrame reports whether f is updated once per host frame.
func (f Frequency) PerFrame() bool {
	return f == EveryFrame || f == EveryFrameParallel
}

// Period returns the simulated time between updates at f, or 0 for the
// per-frame frequencies and Terminate.
func (f Frequency) Period() time.Duration {
	return time.Duration(f.Interval()) * TickDuration
}

// phases returns the number of buckets backing f.
func (f Frequency) phases() int {
	switch {
	case f == Terminate || !f.Valid():
		return 0
	case f.PerFrame():
		return 1
	default:
		return f.Interval()
	}
}
