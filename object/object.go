// Package object implements reference-counted, weakly-observable
// objects: the foundation spec §3/§4.1 describes as "Object". Rather
// than a shared base class (the original's deep `Object` inheritance
// tree, spec §9 "Deep inheritance"), gomary follows the design note's
// prescribed strategy: concrete types compose an Object value and
// implement HasCore so that weak references and deletion subscriptions
// can be taken against them generically.
package object

import (
	"github.com/dshatrov/gomary/cmn/atomic"
	"github.com/dshatrov/gomary/cmn/cos"
	"github.com/dshatrov/gomary/cmn/debug"
	"github.com/dshatrov/gomary/threadctx"
)

// HasCore is implemented by every type that composes an Object,
// typically via:
//
//	func (s *Sender) ObjCore() *Object { return &s.Object }
//
// which Go promotes automatically for an embedded Object field named
// Object, so most composing types need not write this method at all.
type HasCore interface {
	ObjCore() *Object
}

// Object is the embeddable refcount core. Zero value is not usable —
// callers must call Init before taking any reference to the owner
// (spec §9's open question: gomary requires heap allocation via the
// owner's own constructor calling Init, there is no well-defined
// static/zero-value Object).
type Object struct {
	strong atomic.Int64
	sh     atomic.Pointer[shadow]

	owner any // the concrete *T that embeds this Object
	name  string
	dtor  func()

	delNext threadctx.Deletable // deletion-queue intrusive link
}

// Init must be called exactly once, immediately after the owning
// value is heap-allocated, before any reference to it escapes.
// dtor (may be nil) runs exactly once, when the last strong reference
// drops and no StateMutex is held (directly, or via the thread-local
// deletion queue once one is).
func (o *Object) Init(owner HasCore, name string, dtor func()) {
	o.owner = owner
	o.name = name
	o.dtor = dtor
	o.strong.Store(1)
}

func (o *Object) ObjCore() *Object { return o }

func (o *Object) Name() string { return o.name }

// RefCount reports the current strong count; for tests and logging
// only, never for control flow (it is stale the instant it's read).
func (o *Object) RefCount() int64 { return o.strong.Load() }

// Ref takes one additional strong reference. The caller must already
// hold a valid strong reference (this is Arc::clone, not a weak
// upgrade — use WeakRef.Upgrade for that).
func (o *Object) Ref() int64 {
	debug.Assert(o.strong.Load() > 0, "Ref on an object with no strong references", o.name)
	return o.strong.Add(1)
}

// Unref drops one strong reference. If it was the last one, the
// object is destroyed immediately, or deferred to lc's deletion queue
// if lc currently has any StateMutex held on its call stack (spec
// §4.1 "Deferred destruction").
func (o *Object) Unref(lc *threadctx.Local) {
	if o.strong.Add(-1) == 0 {
		o.lastUnref(lc)
	}
}

// getShadow returns the shared shadow record, lazily installing one
// via CAS on first use. Losers of the race discard their attempt.
func (o *Object) getShadow() *shadow {
	if sh := o.sh.Load(); sh != nil {
		return sh
	}
	nsh := &shadow{obj: o, owner: o.owner, lastrefCnt: 1}
	if !o.sh.CAS(nil, nsh) {
		return o.sh.Load()
	}
	return nsh
}

// lastUnref is the two-phase destruction protocol from spec §4.1.
func (o *Object) lastUnref(lc *threadctx.Local) {
	sh := o.sh.Load()
	if sh == nil {
		// Nobody ever took a weak reference or subscription: install an
		// already-frozen shadow with no owner, so that any taken from now
		// on sees the object as gone instead of creating a live one.
		if o.sh.CAS(nil, &shadow{obj: o, frozen: true}) {
			o.destroyOrDefer(lc)
			return
		}
		sh = o.sh.Load()
	}

	sh.mu.Lock()
	if o.strong.Load() > 0 {
		// revived between the Unref that triggered us and our
		// acquiring the shadow mutex; a later lastUnref (triggered by
		// that revival's own eventual unref-to-zero) will finish this.
		sh.mu.Unlock()
		return
	}

	if !sh.frozen {
		sh.frozen = true
		sh.owner = nil // nulling the back-pointer freezes the sub list
		for _, s := range sh.subs {
			if s.guardSh != nil {
				s.secured, s.securedOK = s.guardSh.upgradeLocked()
			}
		}
	}

	sh.lastrefCnt--
	if sh.lastrefCnt > 0 {
		// another racing upgrade won; its own eventual drop to zero
		// will re-enter lastUnref and finish the job.
		sh.mu.Unlock()
		return
	}
	subs := sh.subs
	sh.subs = nil
	sh.mu.Unlock()

	o.deliverDeletions(lc, subs)
	o.destroyOrDefer(lc)
}

func (o *Object) deliverDeletions(lc *threadctx.Local, subs []*delSub) {
	for _, s := range subs {
		if s.guardCore != nil && s.mirrorKey != "" {
			s.guardCore.RemoveDeletionCallback(s.mirrorKey)
		}
		s.cb(s.secured)
		if s.guardCore != nil && s.securedOK {
			s.guardCore.Unref(lc)
		}
	}
}

func (o *Object) destroyOrDefer(lc *threadctx.Local) {
	if lc != nil && lc.StateMutexDepth() > 0 {
		lc.EnqueueDeletion(o)
		return
	}
	o.runDeletion()
}

// runDeletion implements threadctx.Deletable: invoked either inline
// from lastUnref, or later by threadctx.Local.DrainDeletions.
func (o *Object) runDeletion() {
	if o.dtor != nil {
		o.dtor()
	}
}

func (o *Object) setNextDeletion(d threadctx.Deletable) { o.delNext = d }
func (o *Object) nextDeletion() threadctx.Deletable     { return o.delNext }

// AddDeletionCallback registers cb to run when o is destroyed. If
// guard is non-nil and distinct from o, the subscription is mutually
// linked (spec §4.1 "Mutual subscriptions"): guard's own destruction
// cancels this subscription before it can fire, and removing this
// subscription (by key) removes guard's mirror registration too.
//
// cb receives the guard's secured strong reference (or nil if there
// was no distinct guard) and must not itself call back into o or
// guard's public API re-entrantly while holding any lock — by the
// time cb runs, no shadow mutex is held (spec §5).
func (o *Object) AddDeletionCallback(cb func(guard any), guard HasCore) string {
	sh := o.getShadow()
	sh.mu.Lock()
	if sh.owner == nil {
		sh.mu.Unlock()
		cb(nil) // already dying: fire immediately, nothing to subscribe to
		return ""
	}
	key := cos.GenID()
	s := &delSub{key: key, cb: cb, owner: o}
	if guard != nil {
		gcore := guard.ObjCore()
		if gcore != o {
			s.guardCore = gcore
			s.guardSh = gcore.getShadow()
		}
	}
	sh.subs = append(sh.subs, s)
	sh.mu.Unlock()

	if s.guardCore != nil {
		s.mirrorKey = s.guardCore.AddDeletionCallback(func(any) {
			o.RemoveDeletionCallback(key)
		}, nil)
	}
	return key
}

// RemoveDeletionCallback cancels a subscription previously returned
// by AddDeletionCallback. No-op for an empty key (AddDeletionCallback
// returns "" when it fired the callback immediately instead of
// registering). Removing one side of a mutual subscription removes
// the mirror on the other side.
func (o *Object) RemoveDeletionCallback(key string) {
	if key == "" {
		return
	}
	sh := o.sh.Load()
	if sh == nil {
		return
	}
	sh.mu.Lock()
	var removed *delSub
	for i, s := range sh.subs {
		if s.key == key {
			removed = s
			sh.subs = append(sh.subs[:i:i], sh.subs[i+1:]...)
			break
		}
	}
	sh.mu.Unlock()
	if removed != nil && removed.guardCore != nil && removed.mirrorKey != "" {
		removed.guardCore.RemoveDeletionCallback(removed.mirrorKey)
	}
}
