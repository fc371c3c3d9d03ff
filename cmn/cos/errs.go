// Package cos provides small cross-cutting utilities shared by every
// other package in this module: a bounded/deduplicated error
// collector and short opaque-ID generation.
package cos

import "sync"

const maxErrs = 4

// Errs collects up to maxErrs distinct (by message) errors under a
// mutex; duplicate messages are coalesced rather than re-appended.
// Used where a single logical operation (e.g. draining a PollGroup's
// per-iteration deletion queue) can fail several independent ways and
// the caller wants all of them, not just the first.
type Errs struct {
	mu   sync.Mutex
	errs []error
}

func (e *Errs) Add(err error) {
	if err == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, added := range e.errs {
		if added.Error() == err.Error() {
			return
		}
	}
	if len(e.errs) < maxErrs {
		e.errs = append(e.errs, err)
	}
}

func (e *Errs) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.errs)
}

func (e *Errs) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.errs) == 0 {
		return nil
	}
	return e.errs[0]
}

func (e *Errs) All() []error {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]error, len(e.errs))
	copy(out, e.errs)
	return out
}
