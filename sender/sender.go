// Package sender implements spec §4.4's sender core: an unbounded
// logical stream of MessageEntrys turned into a bounded sequence of
// scatter-gather writes, with a flow-control state machine and a
// processing-barrier protocol against one client's callback starving
// the rest of a deferred sender queue's clients. Grounded on the
// teacher's transport/sendmsg.go (MsgStream.Read/send/inSend state
// machine over a msgoff cursor) generalized from "exactly one header
// plus body" framing to an arbitrary queue of header+paged-body
// MessageEntrys, and transport/collect.go's collector.do() drain loop
// for the deferred sender queue's "snapshot, process, re-enqueue or
// rest" shape.
package sender

import (
	"container/list"

	"github.com/dshatrov/gomary/deferred"
	"github.com/dshatrov/gomary/informer"
	"github.com/dshatrov/gomary/object"
	"github.com/dshatrov/gomary/pagepool"
	"github.com/dshatrov/gomary/threadctx"
)

// SendState is the sender's flow-control state (spec §4.4's table).
type SendState int

const (
	ConnectionReady SendState = iota
	ConnectionOverloaded
	QueueSoftLimit
	QueueHardLimit
)

func (s SendState) String() string {
	switch s {
	case ConnectionOverloaded:
		return "ConnectionOverloaded"
	case QueueSoftLimit:
		return "QueueSoftLimit"
	case QueueHardLimit:
		return "QueueHardLimit"
	default:
		return "ConnectionReady"
	}
}

// Writer is the non-blocking scatter-gather write collaborator;
// tcpconn.Conn satisfies it.
type Writer interface {
	Writev(bufs [][]byte) (int, error)
}

// MessageEntry is one queued message: an optional header plus a
// paged body. headerSent and body.Offset track how much of each has
// already gone out over a (possibly multi-pass) writev sequence.
type MessageEntry struct {
	header     []byte
	headerSent int
	body       pagepool.PageListHead // Offset doubles as the body's sent-cursor

	elem *list.Element
}

// NewMessage builds a MessageEntry from a header and a page-pool body
// chain. Either may be empty.
func NewMessage(header []byte, body pagepool.PageListHead) *MessageEntry {
	return &MessageEntry{header: header, body: body}
}

func (m *MessageEntry) headerRemaining() []byte { return m.header[m.headerSent:] }

func (m *MessageEntry) fullyConsumed() bool {
	return m.headerSent >= len(m.header) && m.body.Head == nil
}

// Sub is what Informer subscribers and the Frontend callback receive
// on a state transition.
type Sub = func(state SendState)

// Frontend receives the sender's own notifications, and the deferred
// "closed" event once the connection is torn down.
type Frontend interface {
	SendStateChanged(state SendState)
	Closed()
}

// Sender is the CORE sender object: refcounted via object.Object like
// every other CORE type, so it can be weakly referenced from timers,
// callbacks, and the deferred sender queue.
type Sender struct {
	object.Object

	mu object.StateMutex

	pp   *pagepool.PagePool
	conn Writer
	reg  *deferred.Registration

	queue     *list.List // *MessageEntry, FIFO
	numMsgs   int
	softLimit int
	hardLimit int

	state     SendState
	connReady bool

	barrierElem *list.Element // tail at the time a barrier was marked; nil if none pending
	inDeferredQ bool

	closed          bool
	closeAfterFlush bool
	closeScheduled  bool

	informer *informer.Informer[Sub]
	front    Frontend
}

// New builds a Sender writing to conn, notifying front and reg's
// owning deferred.Processor of state changes and the close event.
func New(conn Writer, pp *pagepool.PagePool, reg *deferred.Registration, front Frontend, softLimit, hardLimit int) *Sender {
	s := &Sender{
		conn:      conn,
		pp:        pp,
		reg:       reg,
		queue:     list.New(),
		softLimit: softLimit,
		hardLimit: hardLimit,
		connReady: true,
		informer:  informer.New[Sub](),
		front:     front,
	}
	s.Init(s, "Sender", s.teardown)
	return s
}

func (s *Sender) teardown() {
	for e := s.queue.Front(); e != nil; e = e.Next() {
		m := e.Value.(*MessageEntry)
		s.pp.MsgUnref(m.body)
	}
}

// Subscribe registers sub for every future state transition, mirroring
// the per-sender Informer path spec §4.4 names alongside the frontend
// callback.
func (s *Sender) Subscribe(lc *threadctx.Local, sub Sub) string {
	return s.informer.Reg(lc, sub)
}

func (s *Sender) Unsubscribe(lc *threadctx.Local, key string) {
	s.informer.Unreg(lc, key)
}

// State reports the sender's current flow-control state.
func (s *Sender) State() SendState {
	s.mu.Lock(nil)
	defer s.mu.Unlock(nil)
	return s.state
}

// evaluateStateLocked re-derives the state-machine's target state
// from the current queue depth and connReady, per spec §4.4's
// transition table: the queue limits take priority over connection
// readiness in both directions, so draining back below the soft limit
// from either limit state falls through to ConnectionOverloaded or
// ConnectionReady depending on the connection's own status, not
// straight to ConnectionReady. Schedules a notification if the
// state actually changed. Called with mu held.
func (s *Sender) evaluateStateLocked(lc *threadctx.Local, connReady bool) {
	s.connReady = connReady

	next := s.state
	switch {
	case s.numMsgs >= s.hardLimit:
		next = QueueHardLimit
	case s.numMsgs >= s.softLimit:
		next = QueueSoftLimit
	case !connReady:
		next = ConnectionOverloaded
	default:
		next = ConnectionReady
	}
	if next == s.state {
		return
	}
	s.state = next
	s.scheduleNotifyLocked(lc, next)
}

// scheduleNotifyLocked defers both notification paths to the next
// poll-iteration boundary (spec §4.4: "both scheduled through the
// deferred processor so observers see them outside Sender's mutex").
func (s *Sender) scheduleNotifyLocked(lc *threadctx.Local, state SendState) {
	s.reg.ScheduleOneShot(func() bool {
		s.informer.Notify(lc, func(sub Sub) { sub(state) })
		if s.front != nil {
			s.front.SendStateChanged(state)
		}
		return false
	})
}

// PostMessage enqueues a new message and re-evaluates the
// flow-control state. The caller is responsible for enqueuing s onto
// a DeferredQueue so a writev pass actually picks the message up.
func (s *Sender) PostMessage(lc *threadctx.Local, m *MessageEntry) {
	s.mu.Lock(lc)
	m.elem = s.queue.PushBack(m)
	s.numMsgs++
	s.evaluateStateLocked(lc, s.connReady)
	s.mu.Unlock(lc)
}

// MarkBarrier marks the current queue tail as a processing barrier
// (spec §4.4): a writev pass started now will not walk past it, and
// anything posted afterward waits for the following iteration. A
// no-op if a barrier is already pending.
func (s *Sender) MarkBarrier(lc *threadctx.Local) {
	s.mu.Lock(lc)
	if s.barrierElem == nil {
		s.barrierElem = s.queue.Back()
	}
	s.mu.Unlock(lc)
}

// Close schedules a deferred "closed" event (spec §4.4); idempotent.
func (s *Sender) Close(lc *threadctx.Local) {
	s.mu.Lock(lc)
	already := s.closed
	s.closed = true
	s.mu.Unlock(lc)
	if !already {
		s.scheduleClose(lc)
	}
}

// CloseAfterFlush defers Close until the queue next fully drains.
func (s *Sender) CloseAfterFlush(lc *threadctx.Local) {
	s.mu.Lock(lc)
	s.closeAfterFlush = true
	empty := s.queue.Len() == 0
	s.mu.Unlock(lc)
	if empty {
		s.Close(lc)
	}
}

func (s *Sender) scheduleClose(lc *threadctx.Local) {
	s.mu.Lock(lc)
	if s.closeScheduled {
		s.mu.Unlock(lc)
		return
	}
	s.closeScheduled = true
	s.mu.Unlock(lc)

	s.reg.ScheduleOneShot(func() bool {
		if s.front != nil {
			s.front.Closed()
		}
		return false
	})
}
