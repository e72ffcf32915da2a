package scheduler

import (
	"errors"
)

// Standard errors.
var (
	// ErrSchedulerClosed is returned by Close on a scheduler that has already
	// been closed, and is the panic value when using a closed scheduler.
	ErrSchedulerClosed = errors.New("scheduler: scheduler has been closed")

	// ErrReentrantNotify is the panic value when NotifyFrame is called while
	// another NotifyFrame call is in progress, e.g. from an update callback.
	ErrReentrantNotify = errors.New("scheduler: reentrant NotifyFrame")

	// ErrSchedulerBroken is the panic value when NotifyFrame is called after
	// a previous frame was abandoned by a panic.
	ErrSchedulerBroken = errors.New("scheduler: a previous frame panicked")

	// ErrAlreadyRegistered is the panic value when registering an updatable
	// that is already registered.
	ErrAlreadyRegistered = errors.New("scheduler: updatable already registered")

	// ErrInvalidSpeedScale is returned for negative, NaN, or infinite speed
	// scales.
	ErrInvalidSpeedScale = errors.New("scheduler: invalid speed scale")

	// ErrInvalidFrequency is the panic value when an update callback returns
	// a value that is not a known Frequency.
	ErrInvalidFrequency = errors.New("scheduler: invalid frequency")

	// ErrNilUpdatable is the panic value when registering a nil Updatable.
	ErrNilUpdatable = errors.New("scheduler: nil updatable")

	// ErrInvalidOption is wrapped by option validation errors returned by New.
	ErrInvalidOption = errors.New("scheduler: invalid option")

	// errMutationDuringPass indicates a bug, a bucket was structurally
	// modified while its pass was active.
	errMutationDuringPass = errors.New("scheduler: bucket mutated during pass")
)
