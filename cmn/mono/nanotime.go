//go:build !mono

// Package mono provides a low-level monotonic clock reading, used by
// timers and the poll-iteration time cache.
package mono

import "time"

var epoch = time.Now()

// NanoTime returns a monotonic nanosecond counter relative to package
// init. Portable fallback for builds without the `mono` tag (which
// requires linkname access to the runtime's internal clock).
func NanoTime() int64 { return time.Since(epoch).Nanoseconds() }
