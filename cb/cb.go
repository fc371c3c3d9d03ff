// Package cb implements the callback holder from spec §4.2: a
// function pointer bundled with an opaque data value and a weak
// reference to a "guard" object, invoked by promoting the guard to a
// strong reference for the duration of the call. Go cannot
// parameterize a single generic type over an arbitrary function
// arity, so gomary follows the teacher's own pattern for its several
// concrete callback types (transport.ObjSentCB and friends): one
// concrete struct per call signature, each embedding the shared
// cbCore machinery.
package cb

import (
	"sync"

	"github.com/dshatrov/gomary/object"
	"github.com/dshatrov/gomary/threadctx"
)

// Scheduler defers a call to the next poll-iteration boundary rather
// than invoking it inline. deferred.Processor satisfies this with its
// Schedule method; kept as a narrow interface here so that cb does not
// import the deferred package.
type Scheduler interface {
	Schedule(task func())
}

// cbCore is embedded by every concrete Cb* type.
type cbCore struct {
	guard    object.Weak
	data     any
	extraRef object.HasCore // optional; kept alive for as long as the holder exists
}

func newCore(guard object.HasCore, data any, extraRef object.HasCore) cbCore {
	return cbCore{guard: object.NewWeak(guard), data: data, extraRef: extraRef}
}

// Release drops the extra reference this holder has been keeping
// alive. Safe to call more than once; a no-op after the first call or
// when no extraRef was supplied. Callers that constructed a Cb* with a
// non-nil extraRef must call Release exactly once when the holder
// itself goes out of use.
func (c *cbCore) Release(lc *threadctx.Local) {
	if c.extraRef != nil {
		c.extraRef.ObjCore().Unref(lc)
		c.extraRef = nil
	}
}

func (c *cbCore) Data() any { return c.data }

// invokeGuarded implements the promote/invoke/restore/drop sequence
// common to Call, CallRet and CallMutex (spec §4.2 steps 2-6). Returns
// false without calling fn if a guard was set but could not be
// promoted.
func (c *cbCore) invokeGuarded(lc *threadctx.Local, fn func()) bool {
	zero := object.Weak{}
	if c.guard == zero {
		fn()
		return true
	}

	identity := c.guard.Identity()
	if lc != nil && lc.LastGuard == identity {
		// already secured further up this call chain
		fn()
		return true
	}

	owner, ok := c.guard.Upgrade()
	if !ok {
		return false
	}

	var prev any
	if lc != nil {
		prev = lc.LastGuard
		lc.LastGuard = identity
	}

	fn()

	if lc != nil {
		lc.LastGuard = prev
	}
	owner.ObjCore().Unref(lc)
	return true
}

// CbVoid is a Cb<F> whose F returns nothing.
type CbVoid struct {
	cbCore
	fn func(data any)
}

// NewCbVoid builds a callback holder. guard and extraRef may both be
// nil: a nil guard means "always callable" (no weak reference), a nil
// extraRef means there is no auxiliary data to keep alive. extraRef,
// if given, has its ownership transferred to the holder — the caller
// must already hold the one strong reference it is handing over, and
// must not also Unref it itself; call Release to give it back.
func NewCbVoid(fn func(data any), data any, guard object.HasCore, extraRef object.HasCore) *CbVoid {
	return &CbVoid{cbCore: newCore(guard, data, extraRef), fn: fn}
}

// Call invokes the held function, returning false ("not called") if
// the function pointer is nil or the guard could not be promoted.
func (c *CbVoid) Call(lc *threadctx.Local) bool {
	if c.fn == nil {
		return false
	}
	return c.invokeGuarded(lc, func() { c.fn(c.data) })
}

// CallMutex releases mu before invoking the function and re-acquires
// it afterward. mu must guard the only access to this holder's own
// fields; none of them are touched while it is released.
func (c *CbVoid) CallMutex(lc *threadctx.Local, mu sync.Locker) bool {
	if c.fn == nil {
		return false
	}
	fn, data, core := c.fn, c.data, c.cbCore
	mu.Unlock()
	ok := core.invokeGuarded(lc, func() { fn(data) })
	mu.Lock()
	return ok
}

// CallDeferred schedules the call to run at the next poll-iteration
// boundary instead of inline (spec §4.2 "deferred variant").
func (c *CbVoid) CallDeferred(sched Scheduler, lc *threadctx.Local) {
	sched.Schedule(func() { c.Call(lc) })
}
