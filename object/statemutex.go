package object

import (
	"sync"

	"github.com/dshatrov/gomary/threadctx"
)

// StateMutex guards an object's mutable state the way spec §4.1/§5
// describes: ordinary mutual exclusion, plus bookkeeping so that any
// destructor triggered while this mutex is held gets deferred to the
// calling goroutine's thread-local deletion queue instead of running
// reentrantly on top of a lock the destructor's own cleanup might need.
//
// Lock/Unlock must always be paired on the same goroutine with the
// same *threadctx.Local; StateMutex itself does not require one (a nil
// lc just means "never defer, always destroy inline").
type StateMutex struct {
	mu sync.Mutex
}

func (m *StateMutex) Lock(lc *threadctx.Local) {
	m.mu.Lock()
	if lc != nil {
		lc.EnterStateMutex()
	}
}

// Unlock releases the underlying mutex before telling lc the depth has
// decreased, so that any drain of the deletion queue lc triggers (once
// depth reaches zero) runs with this mutex already free. Getting this
// order backwards would let a destructor queued while m was held run
// while m is still locked, defeating the whole point of deferring it.
func (m *StateMutex) Unlock(lc *threadctx.Local) {
	m.mu.Unlock()
	if lc != nil {
		lc.LeaveStateMutex()
	}
}

// TryLock mirrors sync.Mutex.TryLock; does not touch lc's depth unless
// it actually acquires the lock.
func (m *StateMutex) TryLock(lc *threadctx.Local) bool {
	if !m.mu.TryLock() {
		return false
	}
	if lc != nil {
		lc.EnterStateMutex()
	}
	return true
}
