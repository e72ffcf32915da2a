// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package threadpool

import (
	"fmt"
	"runtime"

	"github.com/joeycumines/logiface"
)

const (
	// DefaultSlotCacheSize is the default maximum number of recycled task
	// slots retained by a pool.
	DefaultSlotCacheSize = 256

	// DefaultBackgroundNice is the default nice value applied to background
	// worker threads, on platforms that support it.
	DefaultBackgroundNice = 10
)

// poolOptions holds configuration options for Pool creation.
type poolOptions struct {
	logger            *logiface.Logger[logiface.Event]
	panicHandler      func(value any)
	workers           int
	backgroundWorkers int
	slotCacheSize     int
	backgroundNice    int
}

// Option configures a Pool instance.
type Option interface {
	applyPool(*poolOptions) error
}

// optionImpl implements Option.
type optionImpl struct {
	applyPoolFunc func(*poolOptions) error
}

func (o *optionImpl) applyPool(opts *poolOptions) error {
	return o.applyPoolFunc(opts)
}

// WithWorkers sets the number of foreground workers.
// Zero is valid, and causes Submit to run every task inline.
// Defaults to GOMAXPROCS-1, as the submitting goroutine typically
// participates, e.g. by waiting on tokens.
func WithWorkers(n int) Option {
	return &optionImpl{func(opts *poolOptions) error {
		if n < 0 {
			return fmt.Errorf("%w: negative worker count %d", ErrInvalidOption, n)
		}
		opts.workers = n
		return nil
	}}
}

// WithBackgroundWorkers sets the number of long-lived background workers.
// Zero is valid, and causes SubmitBackground to run every task inline.
// Defaults to max(1, GOMAXPROCS/4).
func WithBackgroundWorkers(n int) Option {
	return &optionImpl{func(opts *poolOptions) error {
		if n < 0 {
			return fmt.Errorf("%w: negative background worker count %d", ErrInvalidOption, n)
		}
		opts.backgroundWorkers = n
		return nil
	}}
}

// WithSlotCacheSize bounds the free list of recyclable task slots.
// Slots released while the cache is full are left to the garbage collector.
func WithSlotCacheSize(n int) Option {
	return &optionImpl{func(opts *poolOptions) error {
		if n < 0 {
			return fmt.Errorf("%w: negative slot cache size %d", ErrInvalidOption, n)
		}
		opts.slotCacheSize = n
		return nil
	}}
}

// WithBackgroundNice sets the nice value (0-19) for background and
// ephemeral worker threads. Zero leaves the priority unchanged. Only
// effective on Linux.
func WithBackgroundNice(nice int) Option {
	return &optionImpl{func(opts *poolOptions) error {
		if nice < 0 || nice > 19 {
			return fmt.Errorf("%w: background nice %d not in [0, 19]", ErrInvalidOption, nice)
		}
		opts.backgroundNice = nice
		return nil
	}}
}

// WithPanicHandler installs a top-level handler for panics raised by tasks
// running on worker goroutines, including ephemeral workers.
// Tasks run by waiters, DrainOne, or inline always propagate panics to the
// calling goroutine. Without a handler, a panic on a worker terminates the
// program.
func WithPanicHandler(fn func(value any)) Option {
	return &optionImpl{func(opts *poolOptions) error {
		opts.panicHandler = fn
		return nil
	}}
}

// WithLogger sets the structured logger. A nil logger disables logging.
// Repetitive warnings are rate limited per call site, when the logger is
// configured with category rate limits ([logiface.LoggerFactory.WithCategoryRateLimits]).
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return &optionImpl{func(opts *poolOptions) error {
		opts.logger = logger
		return nil
	}}
}

// resolveOptions applies Option instances to poolOptions.
func resolveOptions(opts []Option) (*poolOptions, error) {
	procs := runtime.GOMAXPROCS(0)
	cfg := &poolOptions{
		workers:           max(procs-1, 0),
		backgroundWorkers: max(1, procs/4),
		slotCacheSize:     DefaultSlotCacheSize,
		backgroundNice:    DefaultBackgroundNice,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyPool(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
