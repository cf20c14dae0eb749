package sixlock

import (
	"time"

	"github.com/sixlockdb/sixlock/internal/opt"
)

// ShouldSleepFunc is consulted on every wake-up of a blocked acquire. A
// nonzero return cancels the wait and the acquire returns a non-nil
// error whose message carries that value; the int itself is not returned
// and no typed error exposes it (spec.md §6/§7). It is the
// caller's escape hatch for deadlock avoidance the lock itself does not
// implement.
type ShouldSleepFunc func(l *Lock, arg any) int

// Waiter is one blocked caller's queue entry. Callers allocate it
// themselves — typically a local variable on the blocked goroutine's own
// stack frame — so the contended path never allocates (spec.md §9
// "Waiter storage").
type Waiter struct {
	_ noCopy

	// lockWant is the mode this waiter is after.
	lockWant Mode

	// startTime orders the FIFO strictly, even across two waiters that
	// enqueue inside the same clock tick (spec.md §3 "Waiter record").
	startTime int64

	// acquired is set by the releaser, under waitLock, immediately before
	// waking this waiter: direct handoff, never a re-race (spec.md §4.4).
	acquired bool

	// goroutine identifies the blocked goroutine, for intent-mode owner
	// attribution when the handoff completes on its behalf.
	goroutine int64

	sema opt.Sema

	prev, next *Waiter
}

// enqueue appends w to the tail of the lock's wait list. Must be called
// with l.waitLock held. Mirrors __six_lock_type_slowpath's start_time
// computation in six.c: the timestamp is bumped past the last entry's when
// ties would otherwise break FIFO ordering.
func (l *Lock) enqueue(w *Waiter) {
	w.startTime = time.Now().UnixNano()
	if l.waitTail != nil && w.startTime <= l.waitTail.startTime {
		w.startTime = l.waitTail.startTime + 1
	}
	w.prev = l.waitTail
	w.next = nil
	if l.waitTail != nil {
		l.waitTail.next = w
	} else {
		l.waitHead = w
	}
	l.waitTail = w
}

// unlink removes w from the wait list. Must be called with l.waitLock
// held. Safe to call on a waiter that has already been unlinked by a
// waker (it is then a no-op): callers test linkage via l.waitHead/prev,
// not via a separate "in list" flag, exactly as six.c's list_empty checks
// guard list_del.
func (l *Lock) unlink(w *Waiter) {
	if w.prev == nil && w.next == nil && l.waitHead != w {
		// Already unlinked (w was never the sole element either).
		return
	}
	if w.prev != nil {
		w.prev.next = w.next
	} else if l.waitHead == w {
		l.waitHead = w.next
	}
	if w.next != nil {
		w.next.prev = w.prev
	} else if l.waitTail == w {
		l.waitTail = w.prev
	}
	w.prev, w.next = nil, nil
}
