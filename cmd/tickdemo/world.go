package main

import (
	"math/rand/v2"
	"sync/atomic"

	"github.com/joeycumines/go-tickwork/scheduler"
	"github.com/joeycumines/go-tickwork/threadpool"
)

var (
	serialFrequencies = [...]scheduler.Frequency{
		scheduler.EveryFrame,
		scheduler.Hz60,
		scheduler.Hz30,
		scheduler.Hz20,
		scheduler.Hz15,
		scheduler.Hz10,
		scheduler.Hz5,
		scheduler.Hz2,
		scheduler.Hz1,
	}
	parallelFrequencies = [...]scheduler.Frequency{
		scheduler.EveryFrameParallel,
		scheduler.Hz60Parallel,
		scheduler.Hz30Parallel,
		scheduler.Hz20Parallel,
		scheduler.Hz15Parallel,
		scheduler.Hz10Parallel,
		scheduler.Hz5Parallel,
		scheduler.Hz2Parallel,
		scheduler.Hz1Parallel,
	}
)

const (
	// retuneEvery is how many updates a particle keeps its frequency
	retuneEvery = 32
	// reportEvery is how many updates between background reports
	reportEvery = 128
)

type (
	// world tracks the simulated population, shared by every particle.
	world struct {
		pool    *threadpool.Pool
		cfg     *config
		updates atomic.Uint64
		spawned atomic.Uint64
		expired atomic.Uint64
		reports atomic.Uint64
	}

	// particle is a simulated object, updated by at most one goroutine at a
	// time.
	particle struct {
		world    *world
		rng      *rand.Rand
		freq     scheduler.Frequency
		parallel bool
		updates  int
		lifespan int
		position float64
		velocity float64
	}

	// report is the background task submitted by particles.
	report struct {
		world *world
	}
)

// Perform implements threadpool.Task.
func (x *report) Perform(payload any) {
	if _, ok := payload.(float64); ok {
		x.world.reports.Add(1)
	}
}

func (x *world) spawn(seed uint64) *particle {
	x.spawned.Add(1)
	rng := rand.New(rand.NewPCG(seed, seed>>1|1))
	p := &particle{
		world:    x,
		rng:      rng,
		parallel: rng.Float64() < x.cfg.parallel,
		velocity: rng.NormFloat64(),
	}
	if x.cfg.lifespan > 0 {
		p.lifespan = 1 + rng.IntN(2*x.cfg.lifespan)
	}
	p.retune()
	return p
}

func (x *particle) retune() {
	if x.parallel {
		x.freq = parallelFrequencies[x.rng.IntN(len(parallelFrequencies))]
	} else {
		x.freq = serialFrequencies[x.rng.IntN(len(serialFrequencies))]
	}
}

// Update implements scheduler.Updatable.
func (x *particle) Update(tick scheduler.Tick) scheduler.Frequency {
	if tick.Priming {
		return x.freq
	}

	x.world.updates.Add(1)
	x.updates++
	x.position += x.velocity * tick.ElapsedSeconds()

	if x.lifespan > 0 && x.updates >= x.lifespan {
		x.world.expired.Add(1)
		tick.Scheduler.Register(x.world.spawn(x.rng.Uint64()), false)
		return scheduler.Terminate
	}

	if x.updates%reportEvery == 0 {
		x.world.pool.SubmitBackground(&report{world: x.world}, x.position)
	}

	if x.updates%retuneEvery == 0 {
		x.retune()
	}

	return x.freq
}
