package threadpool

import (
	"bytes"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-test/deep"
	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

// syncBuffer is a goroutine-safe log sink.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (x *syncBuffer) Write(p []byte) (int, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.buf.Write(p)
}

func (x *syncBuffer) String() string {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.buf.String()
}

func newTestLogger(w *syncBuffer) *logiface.Logger[logiface.Event] {
	return stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithWriter(w), stumpy.WithTimeField(``)),
		stumpy.L.WithLevel(logiface.LevelDebug),
	).Logger()
}

func newTestPool(t *testing.T, opts ...Option) *Pool {
	t.Helper()
	pool, err := New(opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := pool.Close(); err != nil && !errors.Is(err, ErrPoolClosed) {
			t.Errorf("close: %v", err)
		}
	})
	return pool
}

// blockWorker occupies one worker, returning a func that releases it.
func blockWorker(t *testing.T, submit func(Task, any) CompletionToken) (CompletionToken, func()) {
	t.Helper()
	started := make(chan struct{})
	release := make(chan struct{})
	token := submit(TaskFunc(func(any) {
		close(started)
		<-release
	}), nil)
	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("blocking task never started")
	}
	var once sync.Once
	return token, func() { once.Do(func() { close(release) }) }
}

func TestNew_InvalidOptions(t *testing.T) {
	for _, tc := range [...]struct {
		name string
		opt  Option
	}{
		{`negative workers`, WithWorkers(-1)},
		{`negative background workers`, WithBackgroundWorkers(-1)},
		{`negative slot cache`, WithSlotCacheSize(-1)},
		{`nice too low`, WithBackgroundNice(-1)},
		{`nice too high`, WithBackgroundNice(20)},
	} {
		t.Run(tc.name, func(t *testing.T) {
			pool, err := New(tc.opt)
			assert.Nil(t, pool)
			assert.ErrorIs(t, err, ErrInvalidOption)
		})
	}
}

func TestNew_Defaults(t *testing.T) {
	pool := newTestPool(t, nil)
	procs := runtime.GOMAXPROCS(0)
	assert.Equal(t, max(procs-1, 0), pool.Workers())
	assert.Equal(t, max(1, procs/4), pool.BackgroundWorkers())
}

func TestPool_ExactlyOnce(t *testing.T) {
	const (
		tasks   = 2000
		waiters = 8
	)
	for _, workers := range [...]int{0, 1, 4} {
		t.Run(fmt.Sprintf(`workers=%d`, workers), func(t *testing.T) {
			pool := newTestPool(t, WithWorkers(workers), WithSlotCacheSize(16))

			counts := make([]atomic.Int32, tasks)
			task := TaskFunc(func(payload any) {
				counts[payload.(int)].Add(1)
			})

			tokens := make([]CompletionToken, tasks)
			for i := range tokens {
				tokens[i] = pool.Submit(task, i)
			}

			var g errgroup.Group
			for w := 0; w < waiters; w++ {
				g.Go(func() error {
					// each waiter walks the tokens from a different offset
					for i := range tokens {
						tokens[(i+w*tasks/waiters)%tasks].Wait()
					}
					return nil
				})
			}
			require.NoError(t, g.Wait())

			for i := range counts {
				require.Equal(t, int32(1), counts[i].Load(), "task %d", i)
			}
			for _, token := range tokens {
				require.True(t, token.Done())
			}

			stats := pool.Stats()
			assert.Equal(t, uint64(tasks), stats.Submitted)
			assert.Equal(t, uint64(tasks), stats.Inline+stats.HandedOff+stats.Queued)
		})
	}
}

func TestCompletionToken_Idempotent(t *testing.T) {
	pool := newTestPool(t, WithWorkers(2))

	var runs atomic.Int32
	token := pool.Submit(TaskFunc(func(any) { runs.Add(1) }), nil)
	token.Wait()
	token.Wait()
	assert.True(t, token.Done())

	// the slot is recycled, the stale token must stay complete
	for i := 0; i < 100; i++ {
		pool.Submit(TaskFunc(func(any) { runs.Add(1) }), nil).Wait()
		require.True(t, token.Done())
	}
	token.Wait()
	assert.Equal(t, int32(101), runs.Load())

	var zero CompletionToken
	assert.True(t, zero.Done())
	zero.Wait()
}

func TestPool_ZeroWorkersRunsInline(t *testing.T) {
	pool := newTestPool(t, WithWorkers(0), WithBackgroundWorkers(0))

	var ran bool
	token := pool.Submit(TaskFunc(func(payload any) {
		ran = payload.(bool)
	}), true)
	assert.True(t, ran)
	assert.True(t, token.Done())
	assert.Equal(t, CompletionToken{}, token)

	ran = false
	token = pool.SubmitBackground(TaskFunc(func(any) { ran = true }), nil)
	assert.True(t, ran)
	assert.True(t, token.Done())

	if diff := deep.Equal(pool.Stats(), Stats{Submitted: 2, Inline: 2}); diff != nil {
		t.Error(diff)
	}
}

func TestCompletionToken_WaitStealsUnstartedTask(t *testing.T) {
	pool := newTestPool(t, WithWorkers(1))

	_, release := blockWorker(t, pool.Submit)
	defer release()

	var ran atomic.Bool
	token := pool.Submit(TaskFunc(func(any) { ran.Store(true) }), nil)
	require.False(t, token.Done())

	token.Wait()
	assert.True(t, ran.Load())
	assert.Equal(t, uint64(1), pool.Stats().Stolen)

	release()
	pool.WaitForAllForeground()
}

func TestCompletionToken_WaitPropagatesPanic(t *testing.T) {
	pool := newTestPool(t, WithWorkers(1))

	_, release := blockWorker(t, pool.Submit)
	defer release()

	token := pool.Submit(TaskFunc(func(any) { panic(`boom`) }), nil)
	require.PanicsWithValue(t, `boom`, token.Wait)
	assert.True(t, token.Done(), `slot must be released when the task panics`)

	// the pool remains usable
	var ran atomic.Bool
	pool.Submit(TaskFunc(func(any) { ran.Store(true) }), nil).Wait()
	assert.True(t, ran.Load())
}

func TestPool_DrainOne(t *testing.T) {
	pool := newTestPool(t, WithWorkers(1))

	_, release := blockWorker(t, pool.Submit)
	defer release()

	var count atomic.Int32
	tokens := make([]CompletionToken, 5)
	for i := range tokens {
		tokens[i] = pool.Submit(TaskFunc(func(any) { count.Add(1) }), nil)
	}

	// stolen tokens are skipped by the drain
	tokens[0].Wait()

	for i := 1; i < len(tokens); i++ {
		require.True(t, pool.DrainOne())
	}
	assert.False(t, pool.DrainOne())
	assert.Equal(t, int32(len(tokens)), count.Load())
	assert.Equal(t, uint64(len(tokens)-1), pool.Stats().Drained)
}

func TestPool_WaitForAllForeground(t *testing.T) {
	pool := newTestPool(t, WithWorkers(3))

	const tasks = 200
	var count atomic.Int32
	for i := 0; i < tasks; i++ {
		pool.Submit(TaskFunc(func(any) {
			time.Sleep(10 * time.Microsecond)
			count.Add(1)
		}), nil)
	}
	pool.WaitForAllForeground()
	assert.Equal(t, int32(tasks), count.Load())
}

func TestPool_SubmitBackgroundSpawnsEphemeral(t *testing.T) {
	pool := newTestPool(t, WithWorkers(0), WithBackgroundWorkers(1))

	_, release := blockWorker(t, pool.SubmitBackground)

	var ran atomic.Bool
	done := make(chan struct{})
	pool.SubmitBackground(TaskFunc(func(any) {
		ran.Store(true)
		close(done)
	}), nil)

	// completes without the blocked worker, and without waiting on the token
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("background task was not run by an ephemeral worker")
	}
	assert.True(t, ran.Load())
	assert.GreaterOrEqual(t, pool.Stats().Ephemeral, uint64(1))

	release()
	pool.WaitForAllBackground()
}

func TestPool_BackgroundNeverQueues(t *testing.T) {
	pool := newTestPool(t, WithWorkers(1), WithBackgroundWorkers(1))

	const tasks = 50
	var count atomic.Int32
	for i := 0; i < tasks; i++ {
		pool.SubmitBackground(TaskFunc(func(any) { count.Add(1) }), nil)
	}
	pool.WaitForAllBackground()
	assert.Equal(t, int32(tasks), count.Load())
	assert.Zero(t, pool.Stats().Queued)
}

func TestPool_PanicHandler(t *testing.T) {
	handled := make(chan any, 1)
	pool := newTestPool(t,
		WithWorkers(1),
		WithBackgroundWorkers(0),
		WithPanicHandler(func(value any) { handled <- value }),
	)

	// not waited on, so that only the worker may run it
	pool.Submit(TaskFunc(func(any) { panic(`worker boom`) }), nil)

	select {
	case v := <-handled:
		assert.Equal(t, `worker boom`, v)
	case <-time.After(5 * time.Second):
		t.Fatal("panic handler was not called")
	}

	// the worker survives
	var ran atomic.Bool
	pool.Submit(TaskFunc(func(any) { ran.Store(true) }), nil)
	pool.WaitForAllForeground()
	assert.True(t, ran.Load())
}

func TestPool_Misuse(t *testing.T) {
	pool, err := New(WithWorkers(1), WithBackgroundWorkers(1))
	require.NoError(t, err)

	require.PanicsWithValue(t, ErrNilTask, func() { pool.Submit(nil, nil) })

	require.NoError(t, pool.Close())
	assert.ErrorIs(t, pool.Close(), ErrPoolClosed)

	noop := TaskFunc(func(any) {})
	require.PanicsWithValue(t, ErrPoolClosed, func() { pool.Submit(noop, nil) })
	require.PanicsWithValue(t, ErrPoolClosed, func() { pool.SubmitBackground(noop, nil) })

	inline, err := New(WithWorkers(0), WithBackgroundWorkers(0))
	require.NoError(t, err)
	require.NoError(t, inline.Close())
	require.PanicsWithValue(t, ErrPoolClosed, func() { inline.Submit(noop, nil) })
}

func TestPool_CloseRunsQueuedTasks(t *testing.T) {
	pool, err := New(WithWorkers(1))
	require.NoError(t, err)

	_, release := blockWorker(t, pool.Submit)

	var count atomic.Int32
	tokens := make([]CompletionToken, 10)
	for i := range tokens {
		tokens[i] = pool.Submit(TaskFunc(func(any) { count.Add(1) }), nil)
	}

	closed := make(chan error, 1)
	go func() { closed <- pool.Close() }()

	// close drains the queue, but cannot finish while the worker is busy
	for _, token := range tokens {
		token.Wait()
	}
	release()

	select {
	case err := <-closed:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Close did not return")
	}
	assert.Equal(t, int32(len(tokens)), count.Load())
}

func TestPool_CloseStopsGoroutines(t *testing.T) {
	before := runtime.NumGoroutine()

	pool, err := New(WithWorkers(4), WithBackgroundWorkers(2))
	require.NoError(t, err)
	for i := 0; i < 100; i++ {
		pool.Submit(TaskFunc(func(any) {}), nil)
		pool.SubmitBackground(TaskFunc(func(any) {}), nil)
	}
	require.NoError(t, pool.Close())

	// counted on this goroutine, Eventually runs its condition on another
	after := runtime.NumGoroutine()
	for deadline := time.Now().Add(5 * time.Second); after > before && time.Now().Before(deadline); after = runtime.NumGoroutine() {
		time.Sleep(10 * time.Millisecond)
	}
	assert.LessOrEqual(t, after, before)
}

func TestPool_Logging(t *testing.T) {
	var buf syncBuffer
	pool, err := New(
		WithWorkers(1),
		WithBackgroundWorkers(1),
		WithLogger(newTestLogger(&buf)),
	)
	require.NoError(t, err)

	_, release := blockWorker(t, pool.SubmitBackground)
	pool.SubmitBackground(TaskFunc(func(any) {}), nil)
	release()
	pool.WaitForAllBackground()

	require.NoError(t, pool.Close())

	out := buf.String()
	assert.Contains(t, out, `"msg":"threadpool: started"`)
	assert.Contains(t, out, `"background_workers":`)
	assert.Contains(t, out, `threadpool: background workers saturated`)
	assert.Contains(t, out, `"msg":"threadpool: closed"`)
}

func TestPool_LoggingRateLimited(t *testing.T) {
	var buf syncBuffer
	logger := stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithWriter(&buf), stumpy.WithTimeField(``)),
		stumpy.L.WithLevel(logiface.LevelDebug),
		stumpy.L.WithCategoryRateLimits(map[time.Duration]int{time.Minute: 1}),
	).Logger()
	pool := newTestPool(t, WithWorkers(1), WithBackgroundWorkers(1), WithLogger(logger))

	_, release := blockWorker(t, pool.SubmitBackground)
	for i := 0; i < 3; i++ {
		pool.SubmitBackground(TaskFunc(func(any) {}), nil)
	}
	release()
	pool.WaitForAllBackground()

	assert.Equal(t, uint64(3), pool.Stats().Ephemeral)
	assert.Equal(t, 1, strings.Count(buf.String(), `threadpool: background workers saturated`))
}
