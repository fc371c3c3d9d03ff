package object

// Weak is the untyped weak-reference primitive: a handle to one
// object's shadow record without committing to the target's concrete
// type. WeakRef[T] (below) is the typed convenience wrapper
// application code should reach for; Weak itself exists so that
// library-internal holders — notably cb.cbCore's guard slot, which
// cannot name a type parameter per call site — can hold a weak
// reference to an arbitrary HasCore without needing one.
type Weak struct {
	sh *shadow
}

// NewWeak takes a weak reference to guard. The zero Weak is valid and
// always fails to upgrade, matching "no guard".
func NewWeak(guard HasCore) Weak {
	if guard == nil {
		return Weak{}
	}
	return Weak{sh: guard.ObjCore().getShadow()}
}

// Upgrade attempts to promote to a strong reference, returned as the
// HasCore the weak reference was taken against. Callers that know the
// concrete type back at the call site should prefer WeakRef[T].
func (w Weak) Upgrade() (HasCore, bool) {
	if w.sh == nil {
		return nil, false
	}
	w.sh.mu.Lock()
	owner, ok := w.sh.upgradeLocked()
	w.sh.mu.Unlock()
	if !ok {
		return nil, false
	}
	return owner.(HasCore), true
}

// Same reports whether w and other were both taken against the same
// target object (both invalid/zero counts as equal to itself, but not
// to a different zero Weak taken against nothing in particular is
// indistinguishable — callers needing that distinction should compare
// the underlying HasCore directly).
func (w Weak) Same(other Weak) bool { return w.sh == other.sh }

// Identity returns an opaque, comparable value that is equal for any
// two Weak taken against the same target and distinct otherwise
// (including against the zero Weak). Used by cb's guard-elision check
// to compare "is this the thread-local last promoted guard" without
// needing to know the target's concrete type.
func (w Weak) Identity() any { return w.sh }

func (w Weak) IsValid() bool {
	if w.sh == nil {
		return false
	}
	w.sh.mu.Lock()
	alive := w.sh.owner != nil
	w.sh.mu.Unlock()
	return alive
}

// WeakRef is a non-owning handle to a T (any type composing Object and
// implementing HasCore) that never itself keeps the target alive and
// never dangles: Upgrade either hands back a live strong reference or
// reports that the target is gone (spec §4.1 "Weak references").
type WeakRef[T HasCore] struct {
	w Weak
}

// NewWeakRef takes a weak reference to target. Safe to call any
// number of times against the same target; each call shares the same
// underlying shadow record.
func NewWeakRef[T HasCore](target T) WeakRef[T] {
	return WeakRef[T]{w: NewWeak(target)}
}

// Upgrade attempts to promote the weak reference to a strong one. On
// success the caller owns one new strong reference on the returned
// value and must eventually Unref it; ok is false if the target has
// already been (or is concurrently being) destroyed.
func (r WeakRef[T]) Upgrade() (value T, ok bool) {
	hc, ok := r.w.Upgrade()
	if !ok {
		return value, false
	}
	return hc.(T), true
}

// IsValid reports whether the target is (at this instant) still alive.
// Racy by nature — only useful as a hint, never as a substitute for
// Upgrade before actually touching the target.
func (r WeakRef[T]) IsValid() bool { return r.w.IsValid() }
