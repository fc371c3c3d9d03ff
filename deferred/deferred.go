// Package deferred implements spec §4.7's two-tier cooperative task
// processor: one-shot tasks that run at most once per schedule, and
// permanent tasks that are reposted every iteration until explicitly
// revoked. Both cb.Scheduler and poll.DeferredRunner were deliberately
// kept as narrow interfaces (see their doc comments) so this package
// could sit on top of poll without poll needing to import it back —
// the same "depend on the interface you need, not the concrete type"
// discipline the teacher applies to its own collector/heap split in
// transport/collect.go.
package deferred

import (
	"container/list"
	"sync"

	"github.com/dshatrov/gomary/cmn/atomic"
	"github.com/dshatrov/gomary/threadctx"
)

// Trigger wakes whatever goroutine is blocked waiting for work —
// poll.PollGroup satisfies this with its self-pipe Trigger method.
// Scheduling a task from a goroutine other than the one running the
// poll loop is the whole reason the processor needs a trigger at all;
// from the loop's own goroutine the next iteration picks the task up
// without any wakeup being necessary.
type Trigger interface {
	Trigger(lc *threadctx.Local)
}

// Task is one scheduled unit of work. The zero value is never used
// directly; obtain one from Registration.ScheduleOneShot or
// SchedulePermanent. Tasks are revoked, not removed, mirroring the
// spec's revokeTask: a Task already snapshotted into a processing
// pass by the time Revoke runs is allowed to fire one last time, but
// never again afterward.
type Task struct {
	reg       *Registration
	fn        func() bool
	permanent bool
	revoked   atomic.Bool
	elem      *list.Element
}

// Revoke cancels t. Safe to call from any goroutine, at any time,
// including from inside the task's own callback.
func (t *Task) Revoke() { t.revoked.Store(true) }

// Registration groups every task belonging to one owner (spec §4.7:
// "A Registration groups tasks of one owner"), letting that owner
// tear down all of its outstanding deferred work in one call without
// tracking individual Task handles.
type Registration struct {
	proc *Processor

	mu    sync.Mutex
	tasks []*Task
}

// ScheduleOneShot arranges for fn to run at the next Process() call.
// If fn returns true, it is rescheduled for the iteration after that
// one rather than dropped — the one-shot task's own re-arm mechanism
// from spec §4.7.
func (r *Registration) ScheduleOneShot(fn func() bool) *Task {
	t := &Task{reg: r, fn: fn}
	r.track(t)
	r.proc.enqueue(t, false)
	return t
}

// SchedulePermanent arranges for fn to run every Process() call until
// its Task is revoked; permanent tasks always force another iteration
// (spec §4.7), since the caller scheduled it expecting a steady tick.
func (r *Registration) SchedulePermanent(fn func()) *Task {
	t := &Task{reg: r, fn: func() bool { fn(); return true }, permanent: true}
	r.track(t)
	r.proc.enqueue(t, true)
	return t
}

func (r *Registration) track(t *Task) {
	r.mu.Lock()
	r.tasks = append(r.tasks, t)
	r.mu.Unlock()
}

// RevokeAll cancels every task ever scheduled through r, one-shot and
// permanent alike. Intended for an owner's teardown path (e.g. a
// connection closing) rather than steady-state use.
func (r *Registration) RevokeAll() {
	r.mu.Lock()
	tasks := r.tasks
	r.mu.Unlock()
	for _, t := range tasks {
		t.Revoke()
	}
}

// Processor is the DeferredProcessor of spec §4.7. The zero value is
// not usable; construct with New, passing the PollGroup (or any other
// Trigger) it should wake when work is scheduled off its own thread.
type Processor struct {
	trigger Trigger

	mu        sync.Mutex
	oneShot   *list.List // *Task, FIFO
	permanent *list.List // *Task, FIFO

	// selfReg backs Schedule, satisfying cb.Scheduler without forcing
	// every caller to mint its own Registration first.
	selfReg *Registration
}

// New builds a Processor that wakes trigger every time a task is
// scheduled (trigger may be nil in tests that drive Process() directly
// without a poll loop).
func New(trigger Trigger) *Processor {
	p := &Processor{
		trigger:   trigger,
		oneShot:   list.New(),
		permanent: list.New(),
	}
	p.selfReg = p.NewRegistration()
	return p
}

// NewRegistration allocates a Registration bound to p.
func (p *Processor) NewRegistration() *Registration {
	return &Registration{proc: p}
}

func (p *Processor) enqueue(t *Task, permanent bool) {
	p.mu.Lock()
	if permanent {
		t.elem = p.permanent.PushBack(t)
	} else {
		t.elem = p.oneShot.PushBack(t)
	}
	p.mu.Unlock()

	if p.trigger != nil {
		p.trigger.Trigger(nil)
	}
}

// Schedule satisfies cb.Scheduler: task runs once, at the next
// Process() call, with no re-arm.
func (p *Processor) Schedule(task func()) {
	p.selfReg.ScheduleOneShot(func() bool {
		task()
		return false
	})
}

// Process satisfies poll.DeferredRunner. It snapshots both the
// one-shot and permanent lists, clears them, and invokes every
// non-revoked task's callback outside of p's own lock — the same
// snapshot-then-drop-lock discipline informer.Informer.Notify uses to
// let a callback schedule more work without deadlocking against the
// list it's being driven from. Returns whether another iteration is
// needed immediately: true if any one-shot task asked to be rescheduled,
// or if any permanent task ran at all.
func (p *Processor) Process() (moreWork bool) {
	p.mu.Lock()
	oneShot := p.oneShot
	permanent := p.permanent
	p.oneShot = list.New()
	p.permanent = list.New()
	p.mu.Unlock()

	for e := oneShot.Front(); e != nil; e = e.Next() {
		t := e.Value.(*Task)
		if t.revoked.Load() {
			continue
		}
		if t.fn() {
			p.mu.Lock()
			t.elem = p.oneShot.PushBack(t)
			p.mu.Unlock()
			moreWork = true
		}
	}

	for e := permanent.Front(); e != nil; e = e.Next() {
		t := e.Value.(*Task)
		if t.revoked.Load() {
			continue
		}
		t.fn()
		p.mu.Lock()
		t.elem = p.permanent.PushBack(t)
		p.mu.Unlock()
		moreWork = true
	}

	return moreWork
}
