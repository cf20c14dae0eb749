package sixlock

// Downgrade converts a held intent lock into a read lock without ever
// dropping to zero holders in between: acquire read, then release
// intent (spec.md §4.5 "downgrade never drains"). Mirrors six.c's
// six_lock_downgrade, which is itself just Increment(read)+unlock(intent).
func (l *Lock) Downgrade() {
	ebugOn(l.owner.Load() != currentGoroutine(), "sixlock: Downgrade without held intent")
	l.Increment(ModeRead)
	l.Unlock(ModeIntent)
}

// TryUpgrade converts a held read lock into intent, succeeding only if
// intent is not already held by someone else. On success the caller's
// one read reference is consumed by the conversion; on failure the read
// lock is left untouched and the caller still holds it.
func (l *Lock) TryUpgrade() bool {
	if l.readers != nil {
		return l.tryUpgradeShard()
	}

	for {
		old := l.state.Load()
		if intentHeld(old) {
			return false
		}
		ebugOn(readCountOf(old) == 0, "sixlock: TryUpgrade without held read")
		next := (old - readUnit) | intentMask
		if l.state.CompareAndSwap(old, next) {
			l.owner.Store(currentGoroutine())
			return true
		}
	}
}

func (l *Lock) tryUpgradeShard() bool {
	for {
		old := l.state.Load()
		if intentHeld(old) {
			return false
		}
		if l.state.CompareAndSwap(old, old|intentMask) {
			l.readers.dec()
			l.owner.Store(currentGoroutine())
			return true
		}
	}
}

// TryConvert converts a held lock from one mode to another without an
// intervening release. from/to must each be ModeRead or ModeIntent;
// write participates in neither direction (spec.md §4.5 "write excluded
// from convert" — a write holder already holds intent underneath it and
// converts that instead).
func (l *Lock) TryConvert(from, to Mode) bool {
	ebugOn(from == ModeWrite || to == ModeWrite, "sixlock: TryConvert does not accept write")
	if to == from {
		return true
	}
	if to == ModeRead {
		l.Downgrade()
		return true
	}
	return l.TryUpgrade()
}

// Increment adds one more reference to a mode the caller already holds,
// without re-running the acquire path. For read this is a second
// concurrent read reference (folded into the shard or the counted field
// exactly like a fresh acquire); for intent it is recursive acquisition
// by the same goroutine, unwound one level per matching Unlock(ModeIntent)
// (spec.md §4.5 "recursive intent").
func (l *Lock) Increment(mode Mode) {
	switch mode {
	case ModeRead:
		l.incrementRead()
	case ModeIntent:
		ebugOn(!intentHeld(l.state.Load()), "sixlock: Increment(intent) without held intent")
		l.intentRecurse.Add(1)
	case ModeWrite:
		panic("sixlock: Increment does not support write")
	}
}

func (l *Lock) incrementRead() {
	if l.readers != nil {
		l.readers.inc()
		return
	}
	ebugOn(readCountOf(l.state.Load()) == 0 && !intentHeld(l.state.Load()),
		"sixlock: Increment(read) without held read or intent")
	for {
		old := l.state.Load()
		if l.state.CompareAndSwap(old, old+readUnit) {
			return
		}
	}
}
