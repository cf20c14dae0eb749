//go:build sixlock_debug

package sixlock

import "github.com/cockroachdb/errors"

// debugBuild mirrors the original's #ifdef DEBUG: contract violations are
// fatal when this build tag is set (go build -tags=sixlock_debug) and
// compiled out entirely otherwise, see debug_off.go.
const debugBuild = true

// ebugOn panics with a structured assertion error when cond is true. It is
// this module's rendering of six.c's EBUG_ON: a same-process sanity check
// for invariants the type system cannot express, never a substitute for
// the cross-lock validation spec.md explicitly excludes.
func ebugOn(cond bool, format string, args ...any) {
	if cond {
		panic(errors.AssertionFailedWithDepthf(1, format, args...))
	}
}
