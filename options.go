package sixlock

// Option configures a Lock at construction time.
type Option func(*Lock)

// WithReaderShard enables the per-CPU reader shard described in spec.md
// §4.2: read acquire/release becomes a pinned local counter bump instead
// of a CAS against the shared state word, at the cost of a full scan
// over every shard slot whenever a writer announces itself.
//
// Omit this option for locks expected to see little read concurrency;
// the shard's per-writer scan cost is not worth paying for a lock that
// is read-acquired from only one or two goroutines at a time.
func WithReaderShard() Option {
	return func(l *Lock) {
		l.readers = newShard()
	}
}
