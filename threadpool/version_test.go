package threadpool

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pending reports whether generation g is armed and not yet claimed.
func pending(v *AtomicVersion, g uint64) bool {
	return v.state.Load() == g<<1|versionArmed
}

func TestAtomicVersion_Lifecycle(t *testing.T) {
	var v AtomicVersion
	require.Equal(t, uint64(0), v.Load())

	g := v.Arm()
	assert.Equal(t, uint64(0), g)
	assert.True(t, pending(&v, g))
	assert.False(t, v.Completed(g))

	require.True(t, v.TryClaim(g))
	assert.False(t, pending(&v, g))
	assert.False(t, v.Completed(g), `claimed but not yet advanced`)
	assert.False(t, v.TryClaim(g), `second claim must fail`)

	v.Advance()
	assert.True(t, v.Completed(g))
	assert.Equal(t, uint64(1), v.Load())
	assert.False(t, v.TryClaim(g))
}

func TestAtomicVersion_StaleSnapshotCannotClaimLaterGeneration(t *testing.T) {
	var v AtomicVersion
	stale := v.Arm()
	require.True(t, v.TryClaim(stale))
	v.Advance()

	fresh := v.Arm()
	require.NotEqual(t, stale, fresh)
	assert.False(t, v.TryClaim(stale))
	assert.True(t, v.Completed(stale))
	assert.True(t, pending(&v, fresh))
	assert.True(t, v.TryClaim(fresh))
}

func TestAtomicVersion_ConcurrentClaimExactlyOnce(t *testing.T) {
	const (
		rounds     = 200
		contenders = 8
	)
	var v AtomicVersion
	for round := 0; round < rounds; round++ {
		g := v.Arm()
		var (
			wins  atomic.Int32
			wg    sync.WaitGroup
			start = make(chan struct{})
		)
		wg.Add(contenders)
		for i := 0; i < contenders; i++ {
			go func() {
				defer wg.Done()
				<-start
				if v.TryClaim(g) {
					wins.Add(1)
				}
			}()
		}
		close(start)
		wg.Wait()
		require.Equal(t, int32(1), wins.Load(), "round %d", round)
		v.Advance()
	}
}
