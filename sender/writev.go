package sender

import (
	"github.com/dshatrov/gomary/threadctx"
)

// WriteStatus reports what a single WritePending pass accomplished.
type WriteStatus int

const (
	// Idle means the queue was empty; nothing was written.
	Idle WriteStatus = iota
	// Drained means every pending message (up to any barrier) went out.
	Drained
	// Partial means queued bytes remain after this pass: the write hit
	// EAGAIN (possibly with nothing written, spec §4.4's EAGAIN case),
	// was short, or stopped at the IO-vector cap.
	Partial
	// BarrierHit means a processing barrier stopped the fill phase
	// before the whole queue was walked, by design (spec §4.4's
	// "one iteration must not starve other connections" rule).
	BarrierHit
	// WriteError means the underlying Writer returned a non-EAGAIN
	// error; the caller should tear the connection down.
	WriteError
)

const maxIOVecs = 1024

// fill is the writev producer phase: it walks the queue from the
// front, gathering header-then-body byte slices into bufs, and
// returns the ordered MessageEntrys those slices belong to (with
// duplicates when a message contributes more than one slice) so
// react can re-walk the same ground after the write completes.
// Stops at the barrier (if one is set), the IO-vector cap, or the end
// of the queue — never assembles a message's bytes out of order.
func (s *Sender) fill() (bufs [][]byte, order []*MessageEntry, barrierHit bool) {
	e := s.queue.Front()
	for e != nil && len(bufs) < maxIOVecs {
		m := e.Value.(*MessageEntry)

		if h := m.headerRemaining(); len(h) > 0 {
			bufs = append(bufs, h)
			order = append(order, m)
		}
		for p := m.body.Head; p != nil; p = p.Next() {
			off := 0
			if p == m.body.Head {
				off = m.body.Offset
			}
			if off < len(p.Data()) {
				bufs = append(bufs, p.Data()[off:])
				order = append(order, m)
			}
			if len(bufs) >= maxIOVecs {
				break
			}
		}

		if e == s.barrierElem {
			// only a barrier with messages queued behind it held anything back
			barrierHit = e.Next() != nil
			break
		}
		e = e.Next()
	}
	return bufs, order, barrierHit
}

// react is the writev consumer phase: given that n bytes of the bufs
// fill produced were actually written, advance each touched message's
// header/body cursor, fully unlink and unref any message n pushed
// past entirely, and leave a partially-consumed head message's cursor
// exactly where the write stopped.
func (s *Sender) react(n int, order []*MessageEntry) {
	seen := map[*MessageEntry]bool{}
	for _, m := range order {
		if n <= 0 {
			return
		}

		if rem := len(m.header) - m.headerSent; rem > 0 {
			take := min(rem, n)
			m.headerSent += take
			n -= take
		}
		for n > 0 && m.body.Head != nil {
			p := m.body.Head
			avail := len(p.Data()) - m.body.Offset
			take := min(avail, n)
			m.body.Offset += take
			n -= take
			if m.body.Offset >= len(p.Data()) {
				m.body.Head = p.Next()
				m.body.Offset = 0
				if m.body.Head == nil {
					m.body.Tail = nil
				}
				s.pp.PageUnref(p)
			}
		}

		if m.fullyConsumed() && !seen[m] {
			seen[m] = true
			if m.elem == s.barrierElem {
				s.barrierElem = nil
			}
			s.queue.Remove(m.elem)
			s.numMsgs--
		}
	}
}

// WritePending runs one fill/write/react cycle against the
// connection. Intended to be called by the deferred output queue
// whenever this sender has something to send and the connection has
// signaled it is writable.
func (s *Sender) WritePending(lc *threadctx.Local) (WriteStatus, error) {
	s.mu.Lock(lc)
	bufs, order, barrierHit := s.fill()
	s.mu.Unlock(lc)

	if len(bufs) == 0 {
		if barrierHit {
			return BarrierHit, nil
		}
		return Idle, nil
	}

	n, err := s.conn.Writev(bufs)
	if err != nil {
		if isAgain(err) {
			s.mu.Lock(lc)
			s.evaluateStateLocked(lc, false)
			s.mu.Unlock(lc)
			return Partial, nil
		}
		return WriteError, err
	}

	s.mu.Lock(lc)
	s.react(n, order)
	drained := s.queue.Len() == 0
	s.evaluateStateLocked(lc, true)
	flushClose := drained && s.closeAfterFlush && !s.closed
	s.mu.Unlock(lc)

	if flushClose {
		s.Close(lc)
	}

	switch {
	case barrierHit:
		return BarrierHit, nil
	case drained:
		return Drained, nil
	default:
		return Partial, nil
	}
}
