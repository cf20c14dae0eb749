package sixlock

import (
	"context"
	"sync/atomic"

	"github.com/cockroachdb/errors"
)

// Lock is a three-mode sequenced lock. The zero value is not usable; build
// one with New.
//
// The wait-list fields (waitHead, waitTail) are protected by waitLock, not
// by the state word itself — the wait list is a separate, short-held spin lock exactly as
// six.c keeps six_lock.wait_lock distinct from the atomic state (spec.md
// §3 "Wait-list lock").
type Lock struct {
	_ noCopy

	state atomic.Uint64

	// owner is the goroutine id holding intent, or noOwner. Only intent
	// has a unique owner; read is shared and write is reached only via an
	// intent holder upgrading in place, so it never needs one of its own.
	owner atomic.Int64

	// intentRecurse counts nested Increment(ModeIntent) calls by the
	// current intent owner (spec.md §4.5 "recursive intent").
	intentRecurse atomic.Int32

	// readers is nil unless ShardAlloc was called; see shard.go.
	readers *shard

	waitLock         TicketLock
	waitHead, waitTail *Waiter
}

// New returns a ready-to-use Lock. opts configures optional behavior such
// as a per-CPU reader shard; see options.go.
func New(opts ...Option) *Lock {
	l := &Lock{}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// do_six_trylock_type: attempt exactly the operation lockVals describes,
// without touching the wait list. Reports whether the acquire succeeded.
func (l *Lock) tryLockType(mode Mode) bool {
	if mode == ModeRead && l.readers != nil {
		return l.tryLockReadShard()
	}
	if mode == ModeWrite && l.readers != nil && l.readers.sum() != 0 {
		// Shard readers aren't reflected in the counted field's
		// lockFailMask; check them directly, mirroring six.c's
		// pcpu_read_count(lock) test in the percpu-reader branch of
		// __do_six_trylock_type.
		return false
	}

	v := modeVals[mode]
	for {
		old := l.state.Load()
		if old&v.lockFailMask != 0 {
			return false
		}
		ebugOn(mode == ModeRead && uint64(readCountOf(old)) == maxReadCount, "sixlock: read count overflow")
		if mode == ModeIntent && intentHeld(old) {
			return false
		}
		next := old + v.lockVal
		if mode == ModeWrite {
			// Caller must already hold intent; write just flips the seq
			// parity and clears write_locking.
			next &^= writeLockingMask
		}
		if l.state.CompareAndSwap(old, next) {
			return true
		}
	}
}

// tryLockTypeFor is tryLockType plus owner attribution to goroutine — the
// two must go together for intent, but who "goroutine" is differs by
// caller: the acquirer itself on the trylock/wait paths, or the waiter
// being granted on its behalf on the wakeup handoff path (spec.md §4.4
// "direct handoff" — the releaser acquires for the waiter, then wakes
// it, so ownership must already read correctly before the wake-up).
func (l *Lock) tryLockTypeFor(mode Mode, goroutine int64) bool {
	if !l.tryLockType(mode) {
		return false
	}
	if mode == ModeIntent {
		l.owner.Store(goroutine)
	}
	return true
}

// tryLockReadShard is the percpu branch of __do_six_trylock_type: signal
// ownership first, fence, then check — no CAS and no fallback to the
// counted path. If a writer is announced we back out the increment and
// simply fail, exactly as __do_six_trylock_type does (the failing reader
// does not retry via the atomic field; it falls through to the normal
// enqueue-and-wait slow path like any other trylock failure).
func (l *Lock) tryLockReadShard() bool {
	pid := l.readers.tryInc()
	cur := l.state.Load()
	ok := cur&modeVals[ModeRead].lockFailMask == 0
	if !ok {
		l.readers.decPinned(pid)
		if writeLockingSet(cur) {
			// Our now-retracted speculative increment may have made a
			// concurrent write trylock observe a transient nonzero
			// shard sum and fail spuriously; nudge the write waiters to
			// retry rather than leave them with no guaranteed wakeup
			// (six.c: ret = -1 - SIX_LOCK_write, consumed directly by
			// __six_lock_wakeup — bypassing the read-count gate, since
			// this is a deliberate retry kick, not a real unlock). The
			// nudge runs on its own goroutine because this trylock is
			// also called with waitLock already held (the retry in
			// LockWaiter, wakeType, WakeupAll), and wakeType takes it.
			go l.wakeType(ModeWrite)
		}
	} else {
		unpin()
	}
	return ok
}

// TryLock attempts to acquire mode without blocking. ModeWrite requires
// the caller already hold ModeIntent (spec.md §4.1 "write is reached only
// through intent"); calling it otherwise is a contract violation.
func (l *Lock) TryLock(mode Mode) bool {
	if mode == ModeWrite {
		ebugOn(l.owner.Load() != currentGoroutine(), "sixlock: TryLock(write) without held intent")
	}
	return l.tryLockTypeFor(mode, currentGoroutine())
}

// announceWriteLocking sets write_locking so new readers fail their
// trylock (and retract on the shard fast path). It returns at once; the
// wait for already-counted readers to drain is LockWaiter's normal
// trylock-then-enqueue path. Mirrors six.c's two-phase write acquire:
// announce, then wait.
func (l *Lock) announceWriteLocking() {
	for {
		old := l.state.Load()
		if writeLockingSet(old) {
			return
		}
		if l.state.CompareAndSwap(old, old|writeLockingMask) {
			return
		}
	}
}

func (l *Lock) liveReaders() uint32 {
	n := readCountOf(l.state.Load())
	if l.readers != nil {
		n += l.readers.sum()
	}
	return n
}

// Lock blocks until mode is acquired, ctx is done, or shouldSleep returns
// nonzero. A nonzero shouldSleep result or context cancellation is
// returned as an error; a successful acquire returns nil.
func (l *Lock) Lock(ctx context.Context, mode Mode, shouldSleep ShouldSleepFunc, arg any) error {
	var w Waiter
	return l.LockWaiter(ctx, mode, &w, shouldSleep, arg)
}

// LockWaiter is Lock with caller-supplied Waiter storage, letting a
// caller that blocks repeatedly on the same stack frame reuse one
// allocation (spec.md §9 "Waiter storage"). Write is reached only through
// an already-held intent and, like read and intent, joins the same FIFO
// wait list rather than spin-polling for readers to drain — it is woken
// exactly like any other waiter, by the read unlock that finally brings
// the live reader count to zero (spec.md §4.1, six.c's unified slowpath).
func (l *Lock) LockWaiter(ctx context.Context, mode Mode, w *Waiter, shouldSleep ShouldSleepFunc, arg any) error {
	if mode == ModeWrite {
		ebugOn(l.owner.Load() != currentGoroutine(), "sixlock: Lock(write) without held intent")
		ebugOn(writeLockingSet(l.state.Load()), "sixlock: duplicate write_locking announce")
		l.announceWriteLocking()
	}

	goroutine := currentGoroutine()

	if l.tryLockTypeFor(mode, goroutine) {
		return nil
	}

	*w = Waiter{lockWant: mode, goroutine: goroutine}

	l.waitLock.Lock()
	l.setWaiterBit(mode)
	// Retry under waitLock: if we raced a concurrent Unlock between the
	// trylock above and taking waitLock, this catches it before we
	// enqueue — otherwise that Unlock's wakeup scan would run before we
	// are in the list and we would sleep forever (spec.md §4.4 "never a
	// lost wakeup").
	if l.tryLockTypeFor(mode, goroutine) {
		l.clearWaiterBitIfEmptyLocked(mode)
		l.waitLock.Unlock()
		return nil
	}
	l.enqueue(w)
	l.waitLock.Unlock()

	acquireErr := l.waitForGrant(ctx, mode, w, shouldSleep, arg)

	if acquireErr != nil && mode == ModeWrite && writeLockingSet(l.state.Load()) {
		// Never acquired write; retract the announcement and let any
		// reader blocked behind write_locking proceed again.
		l.retractWriteLocking()
	}
	return acquireErr
}

func (l *Lock) retractWriteLocking() {
	for {
		old := l.state.Load()
		if !writeLockingSet(old) {
			return
		}
		if l.state.CompareAndSwap(old, old&^writeLockingMask) {
			l.wakeType(ModeRead)
			return
		}
	}
}

func (l *Lock) waitForGrant(ctx context.Context, mode Mode, w *Waiter, shouldSleep ShouldSleepFunc, arg any) error {
	for {
		if l.optimisticSpin(w) {
			l.waitLock.Lock()
			l.unlink(w)
			l.clearWaiterBitIfEmptyLocked(mode)
			l.waitLock.Unlock()
			return nil
		}

		if shouldSleep != nil {
			if rc := shouldSleep(l, arg); rc != 0 {
				l.waitLock.Lock()
				acquired := w.acquired
				l.unlink(w)
				l.clearWaiterBitIfEmptyLocked(mode)
				l.waitLock.Unlock()
				if acquired {
					// Handoff raced with the cancellation: we were
					// already granted the lock, but the caller asked to
					// stop waiting, so give it straight back up rather
					// than leave state attributed to a caller that is
					// about to treat this as a failed acquire.
					l.Unlock(mode)
				}
				return errors.Newf("sixlock: should-sleep canceled with code %d", rc)
			}
		}

		if err := l.waitOnSema(ctx, w); err != nil {
			l.waitLock.Lock()
			acquired := w.acquired
			l.unlink(w)
			l.clearWaiterBitIfEmptyLocked(mode)
			l.waitLock.Unlock()
			if acquired {
				l.Unlock(mode)
			}
			return err
		}

		if w.acquired {
			return nil
		}
	}
}

// waitOnSema blocks on w.sema until woken by a releaser's handoff or ctx
// is canceled. The semaphore is released by wakeType/WakeupAll below.
// Without a cancelable ctx it blocks on the semaphore directly; otherwise
// a helper goroutine acquires the semaphore and a select races it against
// ctx.Done().
func (l *Lock) waitOnSema(ctx context.Context, w *Waiter) error {
	if ctx == nil || ctx.Done() == nil {
		w.sema.Acquire()
		return nil
	}

	done := make(chan struct{})
	go func() {
		w.sema.Acquire()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		// The semaphore may still be released concurrently by a waker
		// that already decided to hand the lock to w. Release it once
		// ourselves so the background goroutine above always returns
		// instead of leaking, and wait for it; the caller then learns
		// which happened via w.acquired (set by the waker under waitLock).
		w.sema.Release()
		<-done
		return wrapContextErr(ctx, w.lockWant)
	}
}

func (l *Lock) setWaiterBit(mode Mode) {
	for {
		old := l.state.Load()
		next := old | waiterBit(mode)
		if next == old || l.state.CompareAndSwap(old, next) {
			return
		}
	}
}

// Relock attempts to reacquire mode, succeeding only if the state word's
// sequence counter still equals seq — i.e. nothing has written in the
// interim (spec.md §6 "optimistic relock"). On success the caller holds
// mode exactly as if TryLock had been called fresh.
func (l *Lock) Relock(mode Mode, seq uint32) bool {
	old := l.state.Load()
	if seqOf(old) != seq {
		return false
	}
	if !l.tryLockTypeFor(mode, currentGoroutine()) {
		return false
	}
	if seqOf(l.state.Load()) != seq {
		l.Unlock(mode)
		return false
	}
	return true
}

// Seq returns the current sequence counter, to be passed to a later
// Relock call.
func (l *Lock) Seq() uint32 {
	return seqOf(l.state.Load())
}

// Unlock releases mode. Unlocking a mode not held by the caller is a
// contract violation caught in debug builds only, matching six.c's
// EBUG_ON(!(lock->state.v & l[type].held_mask)).
func (l *Lock) Unlock(mode Mode) {
	if mode == ModeRead && l.readers != nil && l.tryUnlockReadShard() {
		l.wakeAfterUnlock(mode)
		return
	}

	v := modeVals[mode]
	ebugOn(l.state.Load()&v.heldMask == 0, "sixlock: Unlock(%s) without held lock", mode)

	if mode == ModeIntent {
		ebugOn(l.owner.Load() != currentGoroutine(), "sixlock: Unlock(intent) by non-owner")
		if l.intentRecurse.Load() > 0 {
			l.intentRecurse.Add(-1)
			return
		}
		l.owner.Store(noOwner)
	}

	for {
		old := l.state.Load()
		next := old + v.unlockVal
		if l.state.CompareAndSwap(old, next) {
			break
		}
	}
	l.wakeAfterUnlock(mode)
}

// tryUnlockReadShard drops a read held via the per-CPU shard. Every read
// acquired while the shard is active went through the shard (there is no
// counted fallback — see tryLockReadShard), so release is unconditional
// here too, exactly matching do_six_unlock_type's percpu branch: no
// write_locking check, just a fenced decrement before the wakeup scan.
func (l *Lock) tryUnlockReadShard() bool {
	l.readers.dec()
	return true
}

// wakeAfterUnlock is six_lock_wakeup: the mode that was just released
// feeds exactly one other mode's waiters (modeVals[...].unlockWakeup), and
// a read release does not wake write waiters while a counted reader is
// still present — mirrors six.c's early-out in six_lock_wakeup before it
// even takes the wait-list lock.
func (l *Lock) wakeAfterUnlock(unlockedMode Mode) {
	wakeType := modeVals[unlockedMode].unlockWakeup
	if wakeType == ModeWrite && readCountOf(l.state.Load()) != 0 {
		return
	}
	l.wakeType(wakeType)
}

// wakeType is __six_lock_wakeup: grant lockType to every waiter of that
// exact mode that can currently be satisfied, in FIFO order, stopping at
// the first waiter that cannot yet be granted. Read hands off to every
// eligible waiter in a row since reads compose; intent and write are
// exclusive, so at most one waiter of those modes is ever granted per
// call (spec.md §4.4 "direct handoff").
func (l *Lock) wakeType(lockType Mode) {
	l.waitLock.Lock()
	var woken []*Waiter
	sawOne := false
	stillWaiting := false
	for w := l.waitHead; w != nil; {
		next := w.next
		if w.lockWant != lockType {
			w = next
			continue
		}
		if sawOne && lockType != ModeRead {
			stillWaiting = true
			break
		}
		sawOne = true
		if !l.tryLockTypeFor(lockType, w.goroutine) {
			stillWaiting = true
			break
		}
		l.unlink(w)
		w.acquired = true
		woken = append(woken, w)
		w = next
	}
	if !stillWaiting {
		l.clearWaiterBitIfEmptyLocked(lockType)
	}
	l.waitLock.Unlock()

	for _, w := range woken {
		w.sema.Release()
	}
}

// grantLocked tries to acquire w.lockWant on w's behalf. Must be called
// with waitLock held. On success w is unlinked and w.acquired is set;
// the caller still owes w a sema.Release to actually wake it. Used by
// WakeupAll, which — unlike a normal unlock — has no single vacated mode
// to key off and so must try every waiter regardless of mode.
func (l *Lock) grantLocked(w *Waiter) bool {
	if !l.tryLockTypeFor(w.lockWant, w.goroutine) {
		return false
	}
	l.unlink(w)
	w.acquired = true
	l.clearWaiterBitIfEmptyLocked(w.lockWant)
	return true
}

func (l *Lock) clearWaiterBitIfEmptyLocked(mode Mode) {
	for w := l.waitHead; w != nil; w = w.next {
		if w.lockWant == mode {
			return
		}
	}
	for {
		old := l.state.Load()
		next := old &^ waiterBit(mode)
		if next == old || l.state.CompareAndSwap(old, next) {
			return
		}
	}
}

// WakeupAll grants every waiter that can currently be granted, in FIFO
// order, without requiring a fresh Unlock to trigger the scan. Useful
// after an external condition the lock itself cannot observe changes
// (spec.md §6 "WakeupAll").
func (l *Lock) WakeupAll() {
	l.waitLock.Lock()
	var woken []*Waiter
	for w := l.waitHead; w != nil; {
		next := w.next
		if l.grantLocked(w) {
			woken = append(woken, w)
		}
		w = next
	}
	l.waitLock.Unlock()

	for _, w := range woken {
		w.sema.Release()
	}
}

// Counts reports the current outstanding holders of each mode: index 0
// is live readers (shard-folded), index 1 is the intent count (1 while
// intent is held, plus one per recursive Increment(ModeIntent)), index 2
// is 1 iff write is held. Intended for metrics.go's Collector and for
// tests asserting on lock state.
func (l *Lock) Counts() [numModes]uint32 {
	v := l.state.Load()
	var c [numModes]uint32
	c[ModeRead] = l.liveReaders()
	if intentHeld(v) {
		c[ModeIntent] = 1
	}
	c[ModeIntent] += uint32(l.intentRecurse.Load())
	if writeHeld(v) {
		c[ModeWrite] = 1
	}
	return c
}
