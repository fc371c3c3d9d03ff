// Package timers implements spec §4.6: interval-keyed timer chains
// indexed two ways — by interval, to find or create the chain a new
// timer joins, and by each chain's earliest due time, to answer
// "when's the next timer" in O(log n) without scanning every chain.
// The teacher has no AVL tree of its own to ground this on; rather
// than hand-roll one, gomary uses github.com/tidwall/btree's BTreeG,
// already present in the teacher's own dependency graph (transitively,
// via buntdb) and a direct fit for "two ordered indexes over the same
// value type".
package timers

import (
	"container/list"
	"sync"
	"time"

	"github.com/tidwall/btree"

	"github.com/dshatrov/gomary/cmn/cos"
	"github.com/dshatrov/gomary/cmn/mono"
)

// Timer is an opaque handle returned by AddTimer; callers only ever
// pass it back to RestartTimer/DeleteTimer.
type Timer struct {
	key      string
	chain    *chain
	dueTime  int64 // monotonic nanoseconds
	periodic bool
	interval time.Duration
	cb       func()

	elem *list.Element // this timer's node within chain.timers
}

// chain groups every timer sharing one interval; within a chain, due
// times are non-decreasing front-to-back (new entries only ever join
// the tail, whether from AddTimer or Process's periodic re-insertion).
type chain struct {
	interval time.Duration
	timers   *list.List // *Timer elements
}

func (c *chain) head() *Timer {
	if front := c.timers.Front(); front != nil {
		return front.Value.(*Timer)
	}
	return nil
}

// Metrics receives one notification per individual timer callback
// fired by Process; satisfied by *stats.WorkerMetrics. Kept narrow,
// like poll.Metrics, so this package does not need to import
// Prometheus.
type Metrics interface {
	ObserveTimerFired()
}

// Timers owns the two AVL-like indexes from spec §4.6. The zero value
// is not usable; construct with New.
type Timers struct {
	mu sync.Mutex

	byInterval *btree.BTreeG[*chain] // ordered by interval
	byDue      *btree.BTreeG[*chain] // ordered by (head due time, interval)

	now func() int64 // injected for tests; defaults to mono.NanoTime

	// onFirstTimerAdded is spec §4.6's "observer callback": invoked
	// whenever a newly created chain becomes the new global earliest,
	// so the owning PollGroup can recompute its sleep time immediately
	// rather than waiting out a stale, now-too-long timeout.
	onFirstTimerAdded func()

	metrics Metrics
}

// SetMetrics arranges for m to be notified once per timer callback
// Process fires. Pass nil to disable.
func (t *Timers) SetMetrics(m Metrics) {
	t.mu.Lock()
	t.metrics = m
	t.mu.Unlock()
}

// New builds a Timers instance. onFirstTimerAdded may be nil.
func New(onFirstTimerAdded func()) *Timers {
	return NewWithClock(onFirstTimerAdded, func() int64 { return mono.NanoTime() })
}

// NewWithClock is New with an injectable clock, for tests that need
// deterministic control over "now" rather than real elapsed time.
func NewWithClock(onFirstTimerAdded func(), now func() int64) *Timers {
	t := &Timers{
		now:               now,
		onFirstTimerAdded: onFirstTimerAdded,
	}
	t.byInterval = btree.NewBTreeG[*chain](func(a, b *chain) bool {
		return a.interval < b.interval
	})
	t.byDue = btree.NewBTreeG[*chain](func(a, b *chain) bool {
		ah, bh := a.head(), b.head()
		if ah == nil || bh == nil {
			return a.interval < b.interval
		}
		if ah.dueTime != bh.dueTime {
			return ah.dueTime < bh.dueTime
		}
		return a.interval < b.interval
	})
	return t
}

// AddTimer schedules cb to run once interval has elapsed (and, if
// periodic, every interval thereafter) and returns a key for
// RestartTimer/DeleteTimer.
func (t *Timers) AddTimer(cb func(), interval time.Duration, periodic bool) string {
	t.mu.Lock()
	defer t.mu.Unlock()

	c, isNew := t.getOrCreateChainLocked(interval)
	timer := &Timer{
		key:      cos.GenID(),
		chain:    c,
		dueTime:  t.now() + interval.Nanoseconds(),
		periodic: periodic,
		interval: interval,
		cb:       cb,
	}
	timer.elem = c.timers.PushBack(timer)

	if isNew {
		t.byDue.Set(c)
		if min, ok := t.byDue.Min(); ok && min == c && t.onFirstTimerAdded != nil {
			t.onFirstTimerAdded()
		}
	}
	return timer.key
}

func (t *Timers) getOrCreateChainLocked(interval time.Duration) (c *chain, isNew bool) {
	probe := &chain{interval: interval}
	if found, ok := t.byInterval.Get(probe); ok {
		return found, false
	}
	probe.timers = list.New()
	t.byInterval.Set(probe)
	return probe, true
}

// RestartTimer resets key's due time to now+interval, as if it had
// just been re-added to the tail of its chain.
func (t *Timers) RestartTimer(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	timer := t.findLocked(key)
	if timer == nil {
		return
	}
	cb, interval, periodic := timer.cb, timer.interval, timer.periodic
	t.removeLocked(timer)

	c, isNew := t.getOrCreateChainLocked(interval)
	nt := &Timer{key: key, chain: c, dueTime: t.now() + interval.Nanoseconds(), periodic: periodic, interval: interval, cb: cb}
	nt.elem = c.timers.PushBack(nt)
	if isNew {
		// isNew guarantees nt is the only (hence head) entry; any other
		// case finds an existing, non-empty chain whose head — and thus
		// its byDue key — is unaffected by appending nt to the tail.
		t.byDue.Set(c)
	}
}

// DeleteTimer cancels key; a no-op if it already fired (one-shot) or
// was never registered.
func (t *Timers) DeleteTimer(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	timer := t.findLocked(key)
	if timer == nil {
		return
	}
	t.removeLocked(timer)
}

// findLocked is a linear scan over every chain's list; timer counts
// per gomary server are small enough (housekeeping-style intervals,
// not per-message timers) that this is not worth a second key->*Timer
// index.
func (t *Timers) findLocked(key string) *Timer {
	var found *Timer
	t.byInterval.Scan(func(c *chain) bool {
		for e := c.timers.Front(); e != nil; e = e.Next() {
			if tm := e.Value.(*Timer); tm.key == key {
				found = tm
				return false
			}
		}
		return true
	})
	return found
}

// removeLocked splices timer out of its chain and fixes up both
// indexes. byDue orders chains by their current head's due time, a
// value that changes out from under the tree the moment the head
// timer is spliced out — so the stale entry must come out of byDue
// while that old key still matches where the tree actually stored it,
// strictly before the list mutation, never after.
func (t *Timers) removeLocked(timer *Timer) {
	c := timer.chain
	wasHead := c.timers.Front() == timer.elem
	if wasHead {
		t.byDue.Delete(c)
	}
	c.timers.Remove(timer.elem)

	if c.timers.Len() == 0 {
		t.byInterval.Delete(c)
		return
	}
	if wasHead {
		t.byDue.Set(c) // re-key on the new head, now that it's current
	}
}

// GetSleepTimeMicroseconds reports how long the event loop may safely
// sleep before the next timer becomes due: 0 if one is already due or
// overdue, -1 if there are no timers at all.
func (t *Timers) GetSleepTimeMicroseconds() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	c, ok := t.byDue.Min()
	if !ok {
		return -1
	}
	remaining := c.head().dueTime - t.now()
	if remaining < 0 {
		remaining = 0
	}
	return remaining / int64(time.Microsecond)
}

// Process fires every timer whose due time has passed, re-inserting
// periodic ones at their chain's tail with a fresh now+interval due
// time. Using "now" rather than "previous due time + interval" is a
// deliberate choice to avoid a catch-up storm firing a backlog of
// missed ticks in one burst after the process was descheduled for a
// long pause; see DESIGN.md. Returns whether anything fired.
func (t *Timers) Process() (firedAny bool) {
	now := t.now()
	t.mu.Lock()
	metrics := t.metrics
	t.mu.Unlock()
	for {
		t.mu.Lock()
		c, ok := t.byDue.Min()
		if !ok {
			t.mu.Unlock()
			break
		}
		head := c.head()
		if head == nil || head.dueTime > now {
			t.mu.Unlock()
			break
		}
		// byDue's key for c is derived from its current head: pull c out
		// while head is still that value, strictly before splicing it
		// out of the list (see removeLocked for why the order matters).
		t.byDue.Delete(c)
		c.timers.Remove(head.elem)
		t.mu.Unlock()

		firedAny = true
		head.cb()
		if metrics != nil {
			metrics.ObserveTimerFired()
		}

		t.mu.Lock()
		if head.periodic {
			head.dueTime = t.now() + head.interval.Nanoseconds()
			head.elem = c.timers.PushBack(head)
		}
		if c.timers.Len() > 0 {
			t.byDue.Set(c)
		} else {
			t.byInterval.Delete(c)
		}
		t.mu.Unlock()
	}
	return firedAny
}
