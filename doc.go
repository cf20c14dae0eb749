// Package sixlock implements a three-mode sequenced lock: read (shared),
// intent (exclusive-but-reader-compatible reservation), and write (fully
// exclusive, requires intent).
//
// It targets filesystem- and B-tree-style workloads where a mutator wants
// to reserve an object for a future mutation while still letting lookups
// proceed, then perform the mutation later without holding a plain writer
// lock across arbitrary work. A monotonic sequence counter lets a caller
// that previously observed the lock attempt an optimistic relock that
// succeeds only if nothing has been written in the interim. An optional
// per-CPU reader shard removes the read fast path from a shared cache line
// entirely.
//
// The three modes are named read / intent / write after the classic
// "S/I/X" (Shared, Intent, eXclusive) lock-mode hierarchy from the database
// concurrency-control literature; intent is unique among non-read holders
// but coexists with any number of readers, and write is an upgrade of
// intent rather than an independently acquirable mode.
package sixlock
