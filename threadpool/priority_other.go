//go:build !linux

package threadpool

// lowerThreadPriority is a no-op on platforms without per-thread nice values.
func (x *Pool) lowerThreadPriority(id int, ephemeral bool) {}
