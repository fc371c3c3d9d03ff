package object

import "sync"

// shadow is the record shared by every weak reference to one Object
// and by every deletion subscription registered against it: a mutex,
// a back-pointer to the owning value (nulled on final destruction),
// and a revival counter that lets a racing weak-upgrade tell an
// in-flight lastUnref that it must not be the one to destroy (spec
// §4.1).
//
// lastrefCnt is seeded to 1 once, at shadow creation, representing
// the main strong count's own eventual drop to zero; upgradeLocked
// increments it again only on a genuine 0->1 revival, never on every
// Unref. Exactly mirrors the original's last_coderef_count, seeded to
// 1 in object.h and incremented only in _GetRef's revival branch.
//
// Lazily created on first use (first WeakRef or first
// AddDeletionCallback) via a compare-and-swap race on Object.sh;
// the loser of that race simply discards its allocation — Go's GC
// reclaims it, so the shadow carries no refcount of its own.
type shadow struct {
	mu         sync.Mutex
	obj        *Object
	owner      any // nulled when the object enters destruction
	frozen     bool
	lastrefCnt int
	subs       []*delSub
}

// upgradeLocked must be called with sh.mu held. It implements the
// weak-upgrade protocol from spec §4.1: fetch_add the strong count,
// and if it was previously zero, record that a revival raced with an
// in-flight lastUnref so that lastUnref knows to defer the actual
// destroy to this revival's own eventual last unref.
func (sh *shadow) upgradeLocked() (any, bool) {
	if sh.owner == nil {
		return nil, false
	}
	prev := sh.obj.strong.Add(1) - 1
	if prev == 0 {
		sh.lastrefCnt++
	}
	return sh.owner, true
}

// delSub is one entry in a shadow's deletion-subscription list.
type delSub struct {
	key   string
	cb    func(guard any)
	owner *Object // the object this subscription was registered on

	// guard fields, nil unless this subscription was registered with a
	// distinct guard object (spec §4.1 "mutual subscriptions").
	guardCore *Object
	guardSh   *shadow
	mirrorKey string // key of the mirror sub living on guardCore, if any

	// populated under sh.mu during the one-time freeze pass in
	// lastUnref, before any user callback runs.
	secured   any
	securedOK bool
}
