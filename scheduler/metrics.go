package scheduler

import (
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

type (
	// MetricsSnapshot is a point-in-time copy of a scheduler's metrics.
	MetricsSnapshot struct {
		// Latency is the distribution of NotifyFrame processing time.
		Latency LatencySnapshot
		// TPS is the rate of executed fixed ticks, over a rolling window.
		TPS float64
		// Frames counts NotifyFrame calls, including skipped ones.
		Frames uint64
		// SkippedFrames counts frames discarded while paused for inactivity.
		SkippedFrames uint64
		// Ticks is the total number of fixed ticks executed.
		Ticks uint64
		// MaxCatchUp is the largest number of fixed ticks run in one frame.
		MaxCatchUp int
	}

	// LatencySnapshot holds latency percentiles over the recent sample window.
	LatencySnapshot struct {
		P50     time.Duration
		P90     time.Duration
		P95     time.Duration
		P99     time.Duration
		Max     time.Duration
		Mean    time.Duration
		Samples int
	}

	// latencyMetrics tracks latency distribution, over a rolling window of
	// samples.
	latencyMetrics struct {
		samples     [sampleSize]time.Duration
		sum         time.Duration
		sampleIdx   int
		sampleCount int
		mu          sync.Mutex
	}

	// tpsCounter tracks events per second with a rolling window of
	// fixed-size buckets.
	//
	// Thread Safety: All methods are thread-safe.
	tpsCounter struct {
		lastRotation time.Time
		buckets      []int64
		bucketSize   time.Duration
		windowSize   time.Duration
		mu           sync.Mutex
	}

	// metrics is the scheduler's collector, nil when disabled.
	metrics struct {
		latency       latencyMetrics
		tps           *tpsCounter
		frames        atomic.Uint64
		skippedFrames atomic.Uint64
		maxCatchUp    atomic.Int64
	}
)

// sampleSize is the maximum number of latency samples to retain.
const sampleSize = 1000

// Record records a latency sample.
func (l *latencyMetrics) Record(duration time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.sampleCount >= sampleSize {
		l.sum -= l.samples[l.sampleIdx]
	}

	l.samples[l.sampleIdx] = duration
	l.sum += duration
	l.sampleIdx++
	if l.sampleIdx >= sampleSize {
		l.sampleIdx = 0
	}
	if l.sampleCount < sampleSize {
		l.sampleCount++
	}
}

// Snapshot computes percentiles from the retained samples.
func (l *latencyMetrics) Snapshot() LatencySnapshot {
	l.mu.Lock()
	count := l.sampleCount
	sorted := slices.Clone(l.samples[:count])
	sum := l.sum
	l.mu.Unlock()

	if count == 0 {
		return LatencySnapshot{}
	}

	slices.Sort(sorted)

	return LatencySnapshot{
		P50:     sorted[percentileIndex(count, 50)],
		P90:     sorted[percentileIndex(count, 90)],
		P95:     sorted[percentileIndex(count, 95)],
		P99:     sorted[percentileIndex(count, 99)],
		Max:     sorted[count-1],
		Mean:    sum / time.Duration(count),
		Samples: count,
	}
}

// percentileIndex computes the index for a given percentile (0-100).
func percentileIndex(n, p int) int {
	index := (p * n) / 100
	if index >= n {
		return n - 1
	}
	return index
}

// newTPSCounter creates a new TPS counter.
// windowSize is the time window for TPS calculation (e.g., 10*time.Second).
// bucketSize is the granularity of the rolling window (e.g., 100*time.Millisecond).
func newTPSCounter(windowSize, bucketSize time.Duration) *tpsCounter {
	bucketCount := int(windowSize / bucketSize)
	if bucketCount < 1 {
		bucketCount = 1
	}
	return &tpsCounter{
		lastRotation: time.Now(),
		buckets:      make([]int64, bucketCount),
		bucketSize:   bucketSize,
		windowSize:   windowSize,
	}
}

// Add records n events.
func (t *tpsCounter) Add(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rotateLocked(time.Now())
	t.buckets[len(t.buckets)-1] += int64(n)
}

// rotateLocked advances the window to now.
func (t *tpsCounter) rotateLocked(now time.Time) {
	bucketsToAdvance := int(now.Sub(t.lastRotation) / t.bucketSize)
	if bucketsToAdvance <= 0 {
		return
	}

	if bucketsToAdvance >= len(t.buckets) {
		clear(t.buckets)
		t.lastRotation = now
		return
	}

	copy(t.buckets, t.buckets[bucketsToAdvance:])
	clear(t.buckets[len(t.buckets)-bucketsToAdvance:])
	t.lastRotation = t.lastRotation.Add(time.Duration(bucketsToAdvance) * t.bucketSize)
}

// TPS returns the current events per second, averaged over the window.
func (t *tpsCounter) TPS() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rotateLocked(time.Now())

	var sum int64
	for _, count := range t.buckets {
		sum += count
	}
	if sum == 0 {
		return 0
	}
	return float64(sum) / t.windowSize.Seconds()
}

func newMetrics() *metrics {
	return &metrics{tps: newTPSCounter(10*time.Second, 100*time.Millisecond)}
}

func (x *metrics) recordFrame(latency time.Duration, ticks int) {
	x.frames.Add(1)
	x.latency.Record(latency)
	if ticks > 0 {
		x.tps.Add(ticks)
	}
	for {
		old := x.maxCatchUp.Load()
		if int64(ticks) <= old || x.maxCatchUp.CompareAndSwap(old, int64(ticks)) {
			break
		}
	}
}

func (x *metrics) recordSkipped() {
	x.frames.Add(1)
	x.skippedFrames.Add(1)
}
