package sixlock

import (
	"runtime"
	"sync/atomic"
	_ "unsafe" // for go:linkname

	"github.com/sixlockdb/sixlock/internal/opt"
)

// shard is the optional per-CPU reader count of spec.md §4.2. When
// present, read acquire/release becomes a locally-pinned counter bump
// instead of a CAS against the shared state word; the writer pays for
// this by summing every slot while write_locking is set.
//
// One slot per GOMAXPROCS(0) observed at allocation time, each an
// internal/opt.CounterStripe_ (the same striped counter the teacher
// library uses for its map size counters). Where that type is padded to a
// cache line, readers pinned to different Ps never bounce a cache line
// between cores; by default it is unpadded on amd64 and 32-bit targets
// (see internal/opt/padding_off.go), so adjacent slots share lines there.
type shard struct {
	slots []opt.CounterStripe_
}

func newShard() *shard {
	return &shard{slots: make([]opt.CounterStripe_, runtime.GOMAXPROCS(0))}
}

// pin disables preemption of the calling goroutine and returns the
// current P's id, exactly the mechanism sync.Pool uses internally to get
// a race-free per-P slot. It is this module's rendering of six.c's
// preempt_disable(): while pinned, the goroutine cannot be rescheduled to
// a different P, so no other goroutine can be concurrently touching the
// same slot.
//
//go:linkname pin sync.runtime_procPin
func pin() int

//go:linkname unpin sync.runtime_procUnpin
func unpin()

func (s *shard) slot(pid int) *opt.CounterStripe_ {
	return &s.slots[pid%len(s.slots)]
}

// tryInc bumps the local slot and leaves the goroutine pinned, returning
// the P id the caller must later pass to decPinned (on failure) or unpin
// directly (on success). Pairing these around a recheck is this module's
// rendering of six.c bracketing this_cpu_inc/this_cpu_sub inside a single
// preempt_disable/enable in __do_six_trylock_type — both halves must hit
// the exact same per-P slot, which only holds if nothing preempts the
// goroutine to a different P in between. sync/atomic stands in for the
// plain non-atomic increment six.c uses under preempt_disable(), since Go
// exposes no separate non-atomic store plus explicit fence primitive.
func (s *shard) tryInc() int {
	pid := pin()
	atomic.AddUintptr(&s.slot(pid).C, 1)
	return pid
}

// inc is the unconditional, self-contained bump six_lock_increment uses
// for SIX_LOCK_read: no recheck follows, so pin and unpin bracket only
// the add itself.
func (s *shard) inc() {
	pid := pin()
	atomic.AddUintptr(&s.slot(pid).C, 1)
	unpin()
}

func (s *shard) decPinned(pid int) {
	atomic.AddUintptr(&s.slot(pid).C, ^uintptr(0))
	unpin()
}

func (s *shard) dec() {
	pid := pin()
	atomic.AddUintptr(&s.slot(pid).C, ^uintptr(0))
	unpin()
}

// ShardAlloc switches a Lock over to per-CPU reader accounting. Like
// six_lock_pcpu_alloc, this is a lifecycle operation the caller must only
// invoke while no read is held by any mode — there is no live migration
// of in-flight counted readers into the shard.
func (l *Lock) ShardAlloc() {
	ebugOn(readCountOf(l.state.Load()) != 0, "sixlock: ShardAlloc with counted readers still live")
	if l.readers == nil {
		l.readers = newShard()
	}
}

// ShardFree tears down the per-CPU reader shard. Mirrors
// six_lock_pcpu_free's BUG_ON(lock->readers && pcpu_read_count(lock)):
// the caller must only invoke this once every shard reader has released.
func (l *Lock) ShardFree() {
	if l.readers == nil {
		return
	}
	ebugOn(l.readers.sum() != 0, "sixlock: ShardFree with shard readers still live")
	l.readers = nil
}

// sum adds every slot. Only meaningful while write_locking is set: no new
// reader can join during the scan (each will observe write_locking after
// its own fence and retract), so the sum is a safe upper bound on live
// readers at the instant the scan finishes (spec.md §4.2).
func (s *shard) sum() uint32 {
	var total uintptr
	for i := range s.slots {
		total += atomic.LoadUintptr(&s.slots[i].C)
	}
	return uint32(total)
}
