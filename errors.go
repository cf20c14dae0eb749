package sixlock

import (
	"context"

	"github.com/cockroachdb/errors"
)

// ErrCanceled is returned by a blocking acquire when the caller's context
// is done before the lock was granted. It is distinct from a should-sleep
// cancellation, which returns an unmarked error whose message carries the
// predicate's nonzero value.
var ErrCanceled = errors.New("sixlock: acquire canceled")

// wrapContextErr wraps ctx.Err() with the lock's own sentinel so callers
// can errors.Is against a stable value regardless of which context
// implementation canceled the wait.
func wrapContextErr(ctx context.Context, mode Mode) error {
	return errors.Mark(errors.Wrapf(ctx.Err(), "sixlock: waiting for %s", mode), ErrCanceled)
}
