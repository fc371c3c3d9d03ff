package threadctx

// ExceptionChannel is the per-worker exception arena from spec §3/§6:
// a current-exception slot and a block counter that suppresses writes
// while held open (used around sections that must not let an error
// callback re-enter with a stale exception in flight). Causes chain
// through errors.Is/errors.As-compatible wrapping done by the errs
// package; this type only owns the "current" slot and the latch.
type ExceptionChannel struct {
	current error
	block   int
}

// Push installs err as current, replacing any prior current error;
// the prior one is not chained in as err's cause. A no-op while
// blocked or when err is nil.
func (ec *ExceptionChannel) Push(err error) {
	if ec.block > 0 || err == nil {
		return
	}
	ec.current = err
}

func (ec *ExceptionChannel) Current() error { return ec.current }

func (ec *ExceptionChannel) Clear() { ec.current = nil }

// Block/Unblock nest; writes are suppressed while the counter is > 0.
func (ec *ExceptionChannel) Block()   { ec.block++ }
func (ec *ExceptionChannel) Unblock() { ec.block-- }

func (ec *ExceptionChannel) Blocked() bool { return ec.block > 0 }
