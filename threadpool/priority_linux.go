//go:build linux

package threadpool

import (
	"golang.org/x/sys/unix"
)

// lowerThreadPriority applies the configured background nice value to the
// calling OS thread, which must be locked to the calling goroutine.
//
// On Linux, PRIO_PROCESS with a thread id targets only that thread.
func (x *Pool) lowerThreadPriority(id int, ephemeral bool) {
	if x.backgroundNice == 0 {
		return
	}
	if err := unix.Setpriority(unix.PRIO_PROCESS, unix.Gettid(), x.backgroundNice); err != nil {
		x.logger.Debug().
			Err(err).
			Int("worker", id).
			Bool("ephemeral", ephemeral).
			Int("nice", x.backgroundNice).
			Log("threadpool: failed to lower thread priority")
	}
}
