// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package scheduler

import (
	"fmt"
	"math"

	"github.com/joeycumines/go-tickwork/threadpool"
	"github.com/joeycumines/logiface"
)

// Dispatcher runs the helpers of parallel passes. [threadpool.Pool]
// implements it.
type Dispatcher interface {
	Submit(task threadpool.Task, payload any) threadpool.CompletionToken
	Workers() int
}

// DefaultCatchUpWarnThreshold is the default number of fixed ticks in one
// frame, above which the scheduler warns that it is falling behind.
const DefaultCatchUpWarnThreshold = 10

// schedulerOptions holds configuration options for Scheduler creation.
type schedulerOptions struct {
	pool              Dispatcher
	logger            *logiface.Logger[logiface.Event]
	speedScale        float64
	minSpeedScale     float64
	catchUpWarn       int
	pauseWhenInactive bool
	metricsEnabled    bool
}

// Option configures a Scheduler instance.
type Option interface {
	applyScheduler(*schedulerOptions) error
}

// optionImpl implements Option.
type optionImpl struct {
	applySchedulerFunc func(*schedulerOptions) error
}

func (o *optionImpl) applyScheduler(opts *schedulerOptions) error {
	return o.applySchedulerFunc(opts)
}

// WithPool sets the dispatcher used by the parallel frequencies. Without
// one, every bucket is updated serially.
//
// An update that panics on the calling goroutine propagates out of
// NotifyFrame, and breaks the scheduler. One that panics on a dispatcher
// worker is subject to the dispatcher's handling: if the worker recovers it
// (see [threadpool.WithPanicHandler]), the object keeps its current
// frequency, and the rest of the pass still runs.
func WithPool(pool Dispatcher) Option {
	return &optionImpl{func(opts *schedulerOptions) error {
		opts.pool = pool
		return nil
	}}
}

// WithLogger sets the structured logger. A nil logger disables logging.
// Repetitive warnings are rate limited per call site, when the logger is
// configured with category rate limits ([logiface.LoggerFactory.WithCategoryRateLimits]).
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return &optionImpl{func(opts *schedulerOptions) error {
		opts.logger = logger
		return nil
	}}
}

// WithSpeedScale sets the initial update speed scale, see
// [Scheduler.SetUpdateSpeedScale]. Defaults to 1.
func WithSpeedScale(scale float64) Option {
	return &optionImpl{func(opts *schedulerOptions) error {
		if !validSpeedScale(scale) {
			return fmt.Errorf("%w: %v", ErrInvalidSpeedScale, scale)
		}
		opts.speedScale = scale
		return nil
	}}
}

// WithMinSpeedScale clamps positive speed scales below min up to min, so
// that very slow scales still tick at a bounded interval. A scale of
// exactly zero still pauses. Defaults to 0 (no clamp).
func WithMinSpeedScale(min float64) Option {
	return &optionImpl{func(opts *schedulerOptions) error {
		if !validSpeedScale(min) {
			return fmt.Errorf("%w: min %v", ErrInvalidSpeedScale, min)
		}
		opts.minSpeedScale = min
		return nil
	}}
}

// WithPauseWhenInactive sets the initial pause-when-inactive policy, see
// [Scheduler.SetPauseWhenInactive]. Defaults to false.
func WithPauseWhenInactive(enabled bool) Option {
	return &optionImpl{func(opts *schedulerOptions) error {
		opts.pauseWhenInactive = enabled
		return nil
	}}
}

// WithMetrics enables frame latency and tick rate metrics, accessed via
// [Scheduler.Metrics].
func WithMetrics(enabled bool) Option {
	return &optionImpl{func(opts *schedulerOptions) error {
		opts.metricsEnabled = enabled
		return nil
	}}
}

// WithCatchUpWarnThreshold sets the number of fixed ticks in one frame above
// which a warning is logged. Zero disables the warning.
func WithCatchUpWarnThreshold(ticks int) Option {
	return &optionImpl{func(opts *schedulerOptions) error {
		if ticks < 0 {
			return fmt.Errorf("%w: negative catch-up warn threshold %d", ErrInvalidOption, ticks)
		}
		opts.catchUpWarn = ticks
		return nil
	}}
}

// resolveOptions applies Option instances to schedulerOptions.
func resolveOptions(opts []Option) (*schedulerOptions, error) {
	cfg := &schedulerOptions{
		speedScale:  1,
		catchUpWarn: DefaultCatchUpWarnThreshold,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyScheduler(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func validSpeedScale(scale float64) bool {
	return scale >= 0 && !math.IsInf(scale, 0) && !math.IsNaN(scale)
}
