// Command tickdemo simulates a host frame loop driving a scheduler backed by
// a thread pool, with a population of objects that change frequency, expire,
// and spawn replacements mid-pass.
package main

import (
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"time"

	"github.com/joeycumines/go-tickwork/scheduler"
	"github.com/joeycumines/go-tickwork/threadpool"
	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
	flag "github.com/spf13/pflag"
	"go.uber.org/automaxprocs/maxprocs"
)

var errInvalidFlag = errors.New("invalid flag")

type config struct {
	objects        int
	frames         int
	frameRate      float64
	jitter         float64
	speed          float64
	minSpeed       float64
	workers        int
	background     int
	parallel       float64
	lifespan       int
	inactiveEvery  int
	seed           uint64
	logLevel       string
	realtime       bool
	pauseInactive  bool
	metricsEnabled bool
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	cfg, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		_, _ = fmt.Fprintln(stderr, "error:", err)
		return 2
	}

	level, ok := parseLevel(cfg.logLevel)
	if !ok {
		_, _ = fmt.Fprintf(stderr, "error: %v: unknown log level %q\n", errInvalidFlag, cfg.logLevel)
		return 2
	}

	logger := stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithWriter(stderr)),
		stumpy.L.WithLevel(level),
		stumpy.L.WithCategoryRateLimits(map[time.Duration]int{
			time.Second: 1,
			time.Minute: 10,
		}),
	).Logger()

	undo, err := maxprocs.Set(maxprocs.Logger(func(format string, args ...any) {
		logger.Debug().Logf(format, args...)
	}))
	defer undo()
	if err != nil {
		logger.Warning().Err(err).Log("tickdemo: failed to set GOMAXPROCS")
	}

	if err := simulate(cfg, logger, stdout); err != nil {
		logger.Err().Err(err).Log("tickdemo: simulation failed")
		return 1
	}
	return 0
}

func parseFlags(args []string, stderr io.Writer) (*config, error) {
	var cfg config

	flagSet := flag.NewFlagSet("tickdemo", flag.ContinueOnError)
	flagSet.SetOutput(stderr)

	flagSet.IntVarP(&cfg.objects, "objects", "n", 1000, "Number of objects registered at startup")
	flagSet.IntVarP(&cfg.frames, "frames", "f", 600, "Number of host frames to simulate")
	flagSet.Float64Var(&cfg.frameRate, "frame-rate", 60, "Nominal host frame rate (Hz)")
	flagSet.Float64Var(&cfg.jitter, "jitter", 0.25, "Random frame time jitter, as a fraction of the nominal frame time")
	flagSet.Float64Var(&cfg.speed, "speed", 1, "Update speed scale")
	flagSet.Float64Var(&cfg.minSpeed, "min-speed", 0, "Clamp positive speed scales up to this minimum")
	flagSet.IntVarP(&cfg.workers, "workers", "w", -1, "Foreground pool workers (-1 for GOMAXPROCS-1)")
	flagSet.IntVar(&cfg.background, "background-workers", -1, "Background pool workers (-1 for the default)")
	flagSet.Float64Var(&cfg.parallel, "parallel", 0.5, "Fraction of objects using the parallel frequencies")
	flagSet.IntVar(&cfg.lifespan, "lifespan", 300, "Mean object lifespan in updates, after which it respawns (0 disables)")
	flagSet.IntVar(&cfg.inactiveEvery, "inactive-every", 0, "Report every Nth frame as inactive (0 disables)")
	flagSet.BoolVar(&cfg.pauseInactive, "pause-inactive", false, "Pause while the host is inactive")
	flagSet.BoolVar(&cfg.realtime, "realtime", false, "Sleep between frames, rather than simulating wall time")
	flagSet.BoolVar(&cfg.metricsEnabled, "metrics", true, "Collect frame latency and tick rate metrics")
	flagSet.Uint64Var(&cfg.seed, "seed", 1, "Random seed")
	flagSet.StringVar(&cfg.logLevel, "log-level", "info", "Log level (err, warning, info, debug, ...)")

	if err := flagSet.Parse(args); err != nil {
		return nil, err
	}
	if rest := flagSet.Args(); len(rest) != 0 {
		return nil, fmt.Errorf("%w: unexpected arguments %q", errInvalidFlag, rest)
	}

	switch {
	case cfg.objects < 0:
		return nil, fmt.Errorf("%w: --objects must not be negative", errInvalidFlag)
	case cfg.frames < 0:
		return nil, fmt.Errorf("%w: --frames must not be negative", errInvalidFlag)
	case cfg.frameRate <= 0:
		return nil, fmt.Errorf("%w: --frame-rate must be positive", errInvalidFlag)
	case cfg.jitter < 0 || cfg.jitter >= 1:
		return nil, fmt.Errorf("%w: --jitter must be in [0, 1)", errInvalidFlag)
	case cfg.parallel < 0 || cfg.parallel > 1:
		return nil, fmt.Errorf("%w: --parallel must be in [0, 1]", errInvalidFlag)
	case cfg.lifespan < 0:
		return nil, fmt.Errorf("%w: --lifespan must not be negative", errInvalidFlag)
	case cfg.inactiveEvery < 0:
		return nil, fmt.Errorf("%w: --inactive-every must not be negative", errInvalidFlag)
	}

	return &cfg, nil
}

func parseLevel(s string) (logiface.Level, bool) {
	for level := logiface.LevelDisabled; level <= logiface.LevelTrace; level++ {
		if level.String() == s {
			return level, true
		}
	}
	return 0, false
}

func simulate(cfg *config, logger *logiface.Logger[logiface.Event], stdout io.Writer) error {
	poolOpts := []threadpool.Option{threadpool.WithLogger(logger)}
	if cfg.workers >= 0 {
		poolOpts = append(poolOpts, threadpool.WithWorkers(cfg.workers))
	}
	if cfg.background >= 0 {
		poolOpts = append(poolOpts, threadpool.WithBackgroundWorkers(cfg.background))
	}
	pool, err := threadpool.New(poolOpts...)
	if err != nil {
		return err
	}
	defer pool.Close()

	sched, err := scheduler.New(
		scheduler.WithPool(pool),
		scheduler.WithLogger(logger),
		scheduler.WithSpeedScale(cfg.speed),
		scheduler.WithMinSpeedScale(cfg.minSpeed),
		scheduler.WithPauseWhenInactive(cfg.pauseInactive),
		scheduler.WithMetrics(cfg.metricsEnabled),
	)
	if err != nil {
		return err
	}
	defer sched.Close()

	rng := rand.New(rand.NewPCG(cfg.seed, cfg.seed^0x9e3779b97f4a7c15))
	world := &world{pool: pool, cfg: cfg}
	for i := 0; i < cfg.objects; i++ {
		sched.Register(world.spawn(rng.Uint64()), i%2 == 0)
	}

	logger.Info().
		Int("objects", cfg.objects).
		Int("frames", cfg.frames).
		Int("workers", pool.Workers()).
		Int("background_workers", pool.BackgroundWorkers()).
		Log("tickdemo: starting")

	nominal := time.Duration(float64(time.Second) / cfg.frameRate)
	last := time.Now()
	for frame := 1; frame <= cfg.frames; frame++ {
		delta := nominal
		if cfg.jitter > 0 {
			delta += time.Duration((rng.Float64()*2 - 1) * cfg.jitter * float64(nominal))
		}
		if cfg.realtime {
			time.Sleep(delta)
			now := time.Now()
			delta, last = now.Sub(last), now
		}
		active := cfg.inactiveEvery == 0 || frame%cfg.inactiveEvery != 0
		sched.NotifyFrame(delta, active)
	}

	// background work (reports) must land before the summary
	pool.WaitForAllBackground()

	metrics := sched.Metrics()
	stats := pool.Stats()

	logger.Info().
		Uint64("ticks", metrics.Ticks).
		Uint64("frames", metrics.Frames).
		Uint64("skipped_frames", metrics.SkippedFrames).
		Int("max_catch_up", metrics.MaxCatchUp).
		Dur("latency_p50", metrics.Latency.P50).
		Dur("latency_p99", metrics.Latency.P99).
		Int("registered", sched.Len()).
		Log("tickdemo: finished")

	_, err = fmt.Fprintf(stdout,
		"ticks=%d frames=%d skipped=%d registered=%d updates=%d spawned=%d expired=%d reports=%d\n"+
			"latency p50=%v p90=%v p99=%v max=%v mean=%v tps=%.1f max_catch_up=%d\n"+
			"pool submitted=%d handed_off=%d queued=%d stolen=%d drained=%d inline=%d ephemeral=%d\n",
		metrics.Ticks, metrics.Frames, metrics.SkippedFrames, sched.Len(),
		world.updates.Load(), world.spawned.Load(), world.expired.Load(), world.reports.Load(),
		metrics.Latency.P50, metrics.Latency.P90, metrics.Latency.P99, metrics.Latency.Max, metrics.Latency.Mean,
		metrics.TPS, metrics.MaxCatchUp,
		stats.Submitted, stats.HandedOff, stats.Queued, stats.Stolen, stats.Drained, stats.Inline, stats.Ephemeral,
	)
	return err
}
