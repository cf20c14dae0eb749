package sixlock

import (
	"context"
	"testing"

	"golang.org/x/sync/errgroup"
)

func TestShardReadFastPathExcludesWriter(t *testing.T) {
	l := New(WithReaderShard())

	if !l.TryLock(ModeRead) {
		t.Fatal("shard read should acquire")
	}
	if !l.TryLock(ModeIntent) {
		t.Fatal("intent should coexist with a shard reader")
	}
	if l.TryLock(ModeWrite) {
		t.Fatal("write must not acquire while the shard reports a live reader")
	}
	l.Unlock(ModeIntent)
	l.Unlock(ModeRead)
}

func TestShardAllocRoutesNewReadsThroughShard(t *testing.T) {
	l := New()
	l.ShardAlloc()

	if !l.TryLock(ModeRead) {
		t.Fatal("read should still acquire right after ShardAlloc")
	}
	if got := l.readers.sum(); got != 1 {
		t.Fatalf("read acquired after ShardAlloc should land in the shard, sum = %d", got)
	}
	if got := l.Counts()[ModeRead]; got != 1 {
		t.Fatalf("Counts should report the shard reader, got %d", got)
	}

	l.Unlock(ModeRead)
	if got := l.readers.sum(); got != 0 {
		t.Fatalf("unlock should have drained the shard slot, sum = %d", got)
	}
}

func TestShardFreeAfterDrainReturnsToCountedPath(t *testing.T) {
	l := New(WithReaderShard())
	l.TryLock(ModeRead)
	l.Unlock(ModeRead)

	l.ShardFree()
	if l.readers != nil {
		t.Fatal("ShardFree should clear the shard once every reader has drained")
	}
	if !l.TryLock(ModeRead) {
		t.Fatal("lock should still be usable via the counted path after ShardFree")
	}
	l.Unlock(ModeRead)
}

// TestShardManyReadersOneWriter drives a wide fan of readers against a
// shard-backed lock while a single writer repeatedly tries to drain them,
// checking the writer never observes a nonzero reader count once granted.
func TestShardManyReadersOneWriter(t *testing.T) {
	const readers = 64
	const rounds = 500

	l := New(WithReaderShard())

	var g errgroup.Group
	for i := 0; i < readers; i++ {
		g.Go(func() error {
			for r := 0; r < rounds; r++ {
				if err := l.Lock(context.Background(), ModeRead, nil, nil); err != nil {
					return err
				}
				l.Unlock(ModeRead)
			}
			return nil
		})
	}

	g.Go(func() error {
		for r := 0; r < rounds/10; r++ {
			if err := l.Lock(context.Background(), ModeIntent, nil, nil); err != nil {
				return err
			}
			if err := l.Lock(context.Background(), ModeWrite, nil, nil); err != nil {
				l.Unlock(ModeIntent)
				return err
			}
			if n := l.liveReaders(); n != 0 {
				l.Unlock(ModeWrite)
				l.Unlock(ModeIntent)
				t.Errorf("writer granted with %d live readers outstanding", n)
				return nil
			}
			l.Unlock(ModeWrite)
			l.Unlock(ModeIntent)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
}
