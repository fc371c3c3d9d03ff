// Package informer implements the multi-subscriber event fan-out from
// spec §3: safe iteration under concurrent registration/removal, with
// no subscriber callback ever invoked while the informer's own state
// mutex is held. Modeled on the registry half of the teacher's own
// multi-subscriber pattern (transport/bundle.Streams implementing
// meta.Slistener, registered and unregistered against a shared
// listener registry via Reg/Unreg), generalized to an arbitrary
// subscriber type via a type parameter since gomary has no single
// concrete listener interface to fan out to.
package informer

import (
	"github.com/dshatrov/gomary/cmn/cos"
	"github.com/dshatrov/gomary/object"
	"github.com/dshatrov/gomary/threadctx"
)

type entry[S any] struct {
	key     string
	sub     S
	deleted bool
}

// Informer fans out to every registered subscriber of type S. The
// zero value is not usable; construct with New.
type Informer[S any] struct {
	mu    object.StateMutex
	subs  []*entry[S]
	depth int // active Notify traversals; Unreg only compacts at depth 0
}

func New[S any]() *Informer[S] { return &Informer[S]{} }

// Reg registers sub and returns a key for later Unreg. Safe to call
// from inside a Notify callback (the new subscriber joins the next
// traversal, not the one in progress).
func (inf *Informer[S]) Reg(lc *threadctx.Local, sub S) string {
	inf.mu.Lock(lc)
	key := cos.GenID()
	inf.subs = append(inf.subs, &entry[S]{key: key, sub: sub})
	inf.mu.Unlock(lc)
	return key
}

// Unreg cancels a subscription by key. If a Notify traversal is
// currently in progress the entry is only tombstoned; it is spliced
// out once the last concurrent traversal finishes, per spec's
// "deferred removals accumulate in a side list" discipline.
func (inf *Informer[S]) Unreg(lc *threadctx.Local, key string) {
	inf.mu.Lock(lc)
	for _, e := range inf.subs {
		if e.key == key {
			e.deleted = true
			break
		}
	}
	if inf.depth == 0 {
		inf.compactLocked()
	}
	inf.mu.Unlock(lc)
}

func (inf *Informer[S]) compactLocked() {
	live := inf.subs[:0]
	for _, e := range inf.subs {
		if !e.deleted {
			live = append(live, e)
		}
	}
	inf.subs = live
}

// Len reports the current (possibly stale the instant it's read)
// subscriber count, tombstoned entries included.
func (inf *Informer[S]) Len(lc *threadctx.Local) int {
	inf.mu.Lock(lc)
	n := len(inf.subs)
	inf.mu.Unlock(lc)
	return n
}

// Notify invokes fn once per currently-registered, not-yet-removed
// subscriber. The informer's mutex is released for the duration of
// each individual invocation and re-acquired before moving to the
// next, so fn is free to Reg, Unreg (including unregistering itself),
// or otherwise re-enter the informer.
func (inf *Informer[S]) Notify(lc *threadctx.Local, fn func(sub S)) {
	inf.mu.Lock(lc)
	inf.depth++
	snapshot := make([]*entry[S], len(inf.subs))
	copy(snapshot, inf.subs)
	inf.mu.Unlock(lc)

	for _, e := range snapshot {
		inf.mu.Lock(lc)
		deleted := e.deleted
		inf.mu.Unlock(lc)
		if deleted {
			continue
		}
		fn(e.sub)
	}

	inf.mu.Lock(lc)
	inf.depth--
	if inf.depth == 0 {
		inf.compactLocked()
	}
	inf.mu.Unlock(lc)
}
