package sixlock

import "github.com/petermattis/goid"

// noOwner is the owner value of a lock with no intent holder. Goroutine ids
// returned by goid.Get are always positive, so zero is free to reuse.
const noOwner int64 = 0

// currentGoroutine returns an identity for the calling goroutine, standing
// in for the kernel's task_struct pointer: intent ownership, recursion
// checks, and the optimistic spinner's "is the owner still running" test
// all key off this value instead of a task handle.
func currentGoroutine() int64 {
	return goid.Get()
}
