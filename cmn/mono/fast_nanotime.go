//go:build mono

// Package mono provides a low-level monotonic clock reading, used by
// timers and the poll-iteration time cache.
package mono

import (
	_ "unsafe" // for go:linkname
)

// NanoTime returns a monotonic nanosecond counter, reusing the
// runtime's own clock rather than paying for a time.Now() allocation
// and wall-clock/monotonic split on every call.
//
//go:linkname NanoTime runtime.nanotime
func NanoTime() int64
