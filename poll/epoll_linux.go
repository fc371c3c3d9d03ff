//go:build linux

package poll

import (
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/dshatrov/gomary/cmn/cos"
	"github.com/dshatrov/gomary/cmn/debug"
	"github.com/dshatrov/gomary/cmn/nlog"
	"github.com/dshatrov/gomary/object"
	"github.com/dshatrov/gomary/threadctx"
)

// Frontend receives the begin/end hooks around each poll iteration
// (spec §4.3 steps 3 and 6); PollIterationEnd reports whether another
// iteration is needed right away regardless of timeout.
type Frontend interface {
	PollIterationBegin()
	PollIterationEnd() (extraIterationNeeded bool)
}

// DeferredRunner is satisfied by deferred.Processor; kept as a narrow
// interface here (like cb.Scheduler) so poll does not need to import
// the deferred package, which itself needs a PollGroup to trigger.
type DeferredRunner interface {
	Process() (moreWork bool)
}

// Metrics receives one observation per completed Poll iteration;
// satisfied by *stats.WorkerMetrics. Kept as a narrow interface, like
// DeferredRunner above, so poll does not need to import Prometheus.
type Metrics interface {
	ObservePollIteration(d time.Duration)
}

type pollable struct {
	key      string
	fd       int
	onEvents func(Events, *Feedback)
	input    bool
	output   bool
	active   bool
	removed  bool
}

// PollGroup is the Linux epoll backend of spec §4.3's event loop.
// Composes object.Object so it can be weakly referenced and torn down
// through the same deletion-subscription machinery as any other CORE
// type.
type PollGroup struct {
	object.Object

	epfd int

	pipeR, pipeW int
	triggered    bool // coalesces writes to the self-trigger pipe

	mu         sync.Mutex
	subs       map[string]*pollable
	delQueue   []*pollable
	events     []unix.EpollEvent
	boundLocal *threadctx.Local
	metrics    Metrics

	lastHadDeferred bool
}

// SetMetrics arranges for m to receive a per-iteration latency
// observation from every subsequent Poll call. Pass nil to disable.
func (pg *PollGroup) SetMetrics(m Metrics) {
	pg.mu.Lock()
	pg.metrics = m
	pg.mu.Unlock()
}

// New creates a PollGroup backed by a fresh epoll instance and
// self-trigger pipe.
func New() (*PollGroup, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		unix.Close(epfd)
		return nil, err
	}

	pg := &PollGroup{
		epfd:   epfd,
		pipeR:  fds[0],
		pipeW:  fds[1],
		subs:   make(map[string]*pollable),
		events: make([]unix.EpollEvent, 256),
	}
	pg.Init(pg, "PollGroup", pg.teardown)

	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, pg.pipeR, &unix.EpollEvent{
		Events: unix.EPOLLIN,
		Fd:     int32(pg.pipeR),
	}); err != nil {
		unix.Close(pg.pipeR)
		unix.Close(pg.pipeW)
		unix.Close(epfd)
		return nil, err
	}
	return pg, nil
}

func (pg *PollGroup) teardown() {
	unix.Close(pg.pipeR)
	unix.Close(pg.pipeW)
	unix.Close(pg.epfd)
}

// Bind records that lc's goroutine is the one that will call Poll, so
// that Feedback calls made inline during dispatch (always the case:
// OnEvents only ever runs from inside Poll) can skip writing the
// self-trigger pipe (spec §4.3 "Thread affinity").
func (pg *PollGroup) Bind(lc *threadctx.Local) {
	pg.mu.Lock()
	pg.boundLocal = lc
	pg.mu.Unlock()
}

// AddPollable registers desc's fd. If activate is false the pollable
// is held inactive (no epoll registration) until ActivatePollable.
func (pg *PollGroup) AddPollable(desc Desc, activate bool) (string, error) {
	key := cos.GenID()
	p := &pollable{key: key, fd: desc.Fd, onEvents: desc.OnEvents, input: desc.Input}

	pg.mu.Lock()
	pg.subs[key] = p
	pg.mu.Unlock()

	if activate {
		if err := pg.ActivatePollable(key); err != nil {
			pg.mu.Lock()
			delete(pg.subs, key)
			pg.mu.Unlock()
			return "", err
		}
	}
	return key, nil
}

func (pg *PollGroup) ActivatePollable(key string) error {
	pg.mu.Lock()
	p, ok := pg.subs[key]
	if !ok || p.active {
		pg.mu.Unlock()
		return nil
	}
	p.active = true
	ev := epollEventFor(p)
	pg.mu.Unlock()

	return unix.EpollCtl(pg.epfd, unix.EPOLL_CTL_ADD, p.fd, &ev)
}

// RemovePollable logically invalidates key; the epoll_ctl DEL and map
// deletion are deferred to the end of the current iteration (spec
// §4.3: "physical release is deferred until the current iteration
// completes").
func (pg *PollGroup) RemovePollable(key string) {
	pg.mu.Lock()
	p, ok := pg.subs[key]
	if !ok || p.removed {
		pg.mu.Unlock()
		return
	}
	p.removed = true
	pg.delQueue = append(pg.delQueue, p)
	pg.mu.Unlock()
}

// setInterest is called by Feedback, always from inside Poll's
// dispatch loop on pg's bound goroutine.
func (pg *PollGroup) setInterest(key string, wantInput, wantOutput bool) {
	pg.mu.Lock()
	p, ok := pg.subs[key]
	if !ok || p.removed || !p.active {
		pg.mu.Unlock()
		return
	}
	if wantInput {
		p.input = true
	}
	if wantOutput {
		p.output = true
	}
	ev := epollEventFor(p)
	pg.mu.Unlock()

	if err := unix.EpollCtl(pg.epfd, unix.EPOLL_CTL_MOD, p.fd, &ev); err != nil {
		nlog.Errorf("poll: epoll_ctl(MOD) fd=%d: %v", p.fd, err)
	}
}

func epollEventFor(p *pollable) unix.EpollEvent {
	var mask uint32 = unix.EPOLLET | unix.EPOLLRDHUP
	if p.input {
		mask |= unix.EPOLLIN
	}
	if p.output {
		mask |= unix.EPOLLOUT
	}
	return unix.EpollEvent{Events: mask, Fd: int32(p.fd)}
}

// Trigger wakes a blocked Poll call from any goroutine. A no-op if
// called from the bound goroutine (spec §4.3 "Thread affinity": the
// caller is already on the loop, no wakeup syscall is needed).
func (pg *PollGroup) Trigger(lc *threadctx.Local) {
	pg.mu.Lock()
	if lc != nil && lc == pg.boundLocal {
		pg.mu.Unlock()
		return
	}
	if pg.triggered {
		pg.mu.Unlock()
		return
	}
	pg.triggered = true
	pg.mu.Unlock()

	var b [1]byte
	for {
		_, err := unix.Write(pg.pipeW, b[:])
		if err == unix.EINTR {
			continue
		}
		return
	}
}

func (pg *PollGroup) drainTrigger() {
	pg.mu.Lock()
	pg.triggered = false
	pg.mu.Unlock()

	var buf [128]byte
	for {
		_, err := unix.Read(pg.pipeR, buf[:])
		if err != nil {
			return
		}
	}
}

// Poll runs exactly one bounded iteration (spec §4.3). timeout is the
// caller-computed min(user_timeout, sleep_until_next_timer); Poll
// itself forces it to zero when the previous iteration left deferred
// work pending. Returns whether another immediate iteration is wanted
// (extra_iteration_needed from front, unioned with the deferred
// processor's own "more work" flag).
func (pg *PollGroup) Poll(lc *threadctx.Local, timeout time.Duration, front Frontend, dp DeferredRunner) (gotDeferredTasks bool, err error) {
	debug.Assert(lc != nil, "poll.Poll requires a thread-local handle")

	if pg.lastHadDeferred {
		timeout = 0
	}

	timeoutMS := int(timeout / time.Millisecond)
	if timeout > 0 && timeoutMS == 0 {
		timeoutMS = 1
	}
	if timeout < 0 {
		timeoutMS = -1
	}

	start := time.Now()

	pg.mu.Lock()
	events := pg.events
	pg.mu.Unlock()

	var n int
	for {
		n, err = unix.EpollWait(pg.epfd, events, timeoutMS)
		if err == unix.EINTR {
			continue
		}
		break
	}
	if err != nil {
		return false, err
	}

	front.PollIterationBegin()

	for i := 0; i < n; i++ {
		fd := int(events[i].Fd)
		if fd == pg.pipeR {
			pg.drainTrigger()
			continue
		}
		pg.dispatch(fd, events[i].Events)
	}

	pg.processDeleteQueue()

	extra := front.PollIterationEnd()

	moreWork := dp.Process()
	gotDeferredTasks = extra || moreWork
	pg.lastHadDeferred = gotDeferredTasks

	pg.mu.Lock()
	m := pg.metrics
	pg.mu.Unlock()
	if m != nil {
		m.ObservePollIteration(time.Since(start))
	}

	return gotDeferredTasks, nil
}

func (pg *PollGroup) dispatch(fd int, raw uint32) {
	pg.mu.Lock()
	var target *pollable
	for _, p := range pg.subs {
		if p.fd == fd && p.active && !p.removed {
			target = p
			break
		}
	}
	pg.mu.Unlock()
	if target == nil {
		return
	}

	var ev Events
	if raw&unix.EPOLLIN != 0 {
		ev |= Input
	}
	if raw&unix.EPOLLOUT != 0 {
		ev |= Output
	}
	if raw&unix.EPOLLERR != 0 {
		ev |= Error
	}
	if raw&(unix.EPOLLHUP|unix.EPOLLRDHUP) != 0 {
		ev |= Hup
	}
	if ev == 0 || target.onEvents == nil {
		return
	}
	target.onEvents(ev, &Feedback{pg: pg, key: target.key})
}

func (pg *PollGroup) processDeleteQueue() {
	pg.mu.Lock()
	queue := pg.delQueue
	pg.delQueue = nil
	pg.mu.Unlock()

	for _, p := range queue {
		if p.active {
			unix.EpollCtl(pg.epfd, unix.EPOLL_CTL_DEL, p.fd, nil)
		}
		pg.mu.Lock()
		delete(pg.subs, p.key)
		pg.mu.Unlock()
	}
}
