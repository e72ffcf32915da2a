package threadpool

import (
	"errors"
)

// Standard errors.
var (
	// ErrPoolClosed is returned by Close on a pool that has already been
	// closed, and is the panic value when submitting to a closed pool.
	ErrPoolClosed = errors.New("threadpool: pool has been closed")

	// ErrNilTask is the panic value when submitting a nil task.
	ErrNilTask = errors.New("threadpool: nil task")

	// ErrInvalidOption is wrapped by option validation errors returned by New.
	ErrInvalidOption = errors.New("threadpool: invalid option")
)
