// Package threadctx provides the explicit "thread-local" handle that
// every worker goroutine in this module owns and passes down through
// calls that the original spec describes as consulting per-thread
// state: the object deletion queue, the StateMutex recursion counter,
// the last-promoted-guard elision slot, the per-iteration time cache,
// and the exception arena.
//
// Go has no notion of a pinned OS thread for an ordinary goroutine, so
// rather than emulate TLS, gomary threads one *Local per worker
// explicitly — the same discipline context.Context uses for
// request-scoped state, applied here to worker-scoped state. A
// *Local must never be shared between two goroutines running
// concurrently; each worker's server.Context (the PollGroup+Timers+
// DeferredProcessor+DeferredQueue bundle; it cannot live in this leaf
// package without an import cycle) owns exactly one, created once for
// the worker's lifetime.
package threadctx

import "time"

// Deletable is implemented by anything that can be queued for
// deferred destruction: object.Object is the only real implementer,
// but keeping the interface here (rather than importing object, which
// would create an import cycle) lets threadctx stay a leaf package.
type Deletable interface {
	// setNextDeletion/nextDeletion thread the object through the
	// thread-local deletion queue's intrusive singly-linked list,
	// through a link field the object carries (delNext, in
	// object.Object's case) rather than a separately allocated queue
	// node.
	setNextDeletion(Deletable)
	nextDeletion() Deletable
	// runDeletion runs the object's destructor. Called with no state
	// mutex held. Deletion subscriptions are not run here: object.Object
	// delivers them before it queues itself, so they can run while a
	// state mutex is held.
	runDeletion()
}

// TimeCache holds the per-iteration cached time, refreshed once per
// poll.PollGroup iteration via one cmn/mono.NanoTime() read (spec §6).
type TimeCache struct {
	MonoNanos int64
	Unix      time.Time
}

// Local is the per-worker "thread-local" handle.
type Local struct {
	// stateMutexDepth counts currently-held StateMutex locks on this
	// goroutine's call stack; >0 means destructors must be deferred.
	stateMutexDepth int
	// draining guards against reentrant drains: draining the deletion
	// queue can itself (transitively, through a destructor that drops
	// the last ref to another object) enqueue more work; the outer
	// call keeps draining rather than recursing.
	draining bool
	delHead  Deletable

	// LastGuard elides redundant weak-upgrade/downgrade churn when a
	// chain of callbacks shares the same guard object (cb.Cb's
	// promotion protocol, spec §4.2).
	LastGuard any

	Time TimeCache

	Exc ExceptionChannel

	// Name identifies the owning worker for log lines.
	Name string
}

func New(name string) *Local { return &Local{Name: name} }

// EnterStateMutex / LeaveStateMutex are called by object.StateMutex's
// Lock/Unlock; LeaveStateMutex drains the deletion queue exactly when
// the recursive depth returns to zero.
func (lc *Local) EnterStateMutex() { lc.stateMutexDepth++ }

func (lc *Local) LeaveStateMutex() {
	lc.stateMutexDepth--
	if lc.stateMutexDepth == 0 {
		lc.DrainDeletions()
	}
}

func (lc *Local) StateMutexDepth() int { return lc.stateMutexDepth }

// EnqueueDeletion pushes d onto this goroutine's deletion queue. No
// locking: a *Local is never touched by more than one goroutine.
func (lc *Local) EnqueueDeletion(d Deletable) {
	d.setNextDeletion(lc.delHead)
	lc.delHead = d
}

// DrainDeletions runs every queued destructor. Safe to call with no
// state mutex held (the only time it legitimately runs to completion);
// called automatically when the StateMutex depth returns to zero, and
// may also be invoked explicitly (e.g. at a poll iteration boundary)
// as a backstop.
func (lc *Local) DrainDeletions() {
	if lc.draining {
		return
	}
	lc.draining = true
	defer func() { lc.draining = false }()
	for lc.delHead != nil {
		d := lc.delHead
		lc.delHead = d.nextDeletion()
		d.setNextDeletion(nil)
		d.runDeletion()
	}
}

// RefreshTime re-reads the monotonic clock once; called at the top of
// every poll iteration (spec §6).
func (lc *Local) RefreshTime(monoNanos int64) {
	lc.Time.MonoNanos = monoNanos
	lc.Time.Unix = time.Now()
}
