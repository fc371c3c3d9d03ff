// Package receiver implements spec §4.5's read loop: a fixed-size
// receive buffer with a sliding accepted-to cursor, offering each
// freshly-read chunk to a frontend that reports back how much of it
// it could consume. Cursor math (recv_accepted_pos / recv_buf_pos)
// is the same roff/woff discipline the teacher's transport/pdu.go
// uses for its own rpdu read cursor, generalized here from "exactly
// one PDU" framing to an open-ended byte stream the frontend frames
// however it likes.
package receiver

import (
	"github.com/dshatrov/gomary/errs"
)

// Policy is the frontend's per-offer verdict.
type Policy int

const (
	Normal Policy = iota
	Again
	Error
	InputBlocked
)

// Frontend consumes bytes the Receiver has read off the wire.
type Frontend interface {
	// ProcessInput offers mem (recv_buf[acceptedPos:bufPos]) and gets
	// back how many leading bytes were consumed, plus a Policy.
	ProcessInput(mem []byte) (accepted int, policy Policy)
	ProcessEof()
	ProcessError(err error)
}

// Source is the non-blocking read side of the TCP collaborator
// contract (spec §6); tcpconn.Conn satisfies it.
type Source interface {
	Read(b []byte) (int, error)
}

// Status reports why Pump stopped reading for this call.
type Status int

const (
	// WaitingForInput means the socket returned EAGAIN/EWOULDBLOCK;
	// the caller should wait for the next readiness event.
	WaitingForInput Status = iota
	// Blocked means the frontend returned InputBlocked; the caller
	// must not re-poll for input until told otherwise (backpressure).
	Blocked
	// BufferFull means the receive buffer is completely full and the
	// frontend accepted none of it on the last offer — spec §8's
	// "otherwise loop exits with buffer-full condition".
	BufferFull
	// Eof means the connection hit end-of-stream; ProcessEof() has
	// already been called.
	Eof
	// ErrorReported means an error (from the socket or synthesized
	// from the frontend's Error policy) was delivered via
	// ProcessError exactly once; see the error_reported latch in
	// spec §6.
	ErrorReported
)

// Receiver owns one fixed-size receive buffer per connection. The
// zero value is not usable; construct with New.
type Receiver struct {
	buf           []byte
	acceptedPos   int
	bufPos        int
	errorReported bool
}

// New allocates a Receiver with the given buffer size.
func New(bufSize int) *Receiver {
	return &Receiver{buf: make([]byte, bufSize)}
}

func (r *Receiver) compact() {
	if r.acceptedPos == 0 {
		return
	}
	copy(r.buf, r.buf[r.acceptedPos:r.bufPos])
	r.bufPos -= r.acceptedPos
	r.acceptedPos = 0
}

func (r *Receiver) reportError(err error, front Frontend) {
	if r.errorReported {
		return
	}
	r.errorReported = true
	front.ProcessError(err)
}

// Pump reads from src until the socket would block, the frontend
// applies backpressure, the buffer fills with nothing accepted, an
// error is reported, or EOF is reached. Call it once per Input
// readiness event.
func (r *Receiver) Pump(src Source, front Frontend) Status {
	for {
		if r.bufPos == len(r.buf) {
			if r.acceptedPos == 0 {
				return BufferFull
			}
			r.compact()
		}

		n, err := src.Read(r.buf[r.bufPos:])
		if err != nil {
			if isAgain(err) {
				return WaitingForInput
			}
			r.reportError(errs.WrapInternalError(err, errs.BackendError, "receiver: read failed"), front)
			return ErrorReported
		}
		if n == 0 {
			front.ProcessEof()
			return Eof
		}
		r.bufPos += n

		mem := r.buf[r.acceptedPos:r.bufPos]
		accepted, policy := front.ProcessInput(mem)

		switch policy {
		case Normal:
			r.acceptedPos += accepted
			if accepted == len(mem) {
				r.acceptedPos, r.bufPos = 0, 0
			}

		case Again:
			r.acceptedPos += accepted
			if accepted == 0 && r.bufPos == len(r.buf) {
				r.reportError(errs.NewInternalError(errs.ProtocolError,
					"receiver: frontend returned Again with a full, fully-unaccepted buffer"), front)
				return ErrorReported
			}
			if r.acceptedPos > len(r.buf)/2 {
				r.compact()
			}

		case Error:
			r.reportError(errs.NewInternalError(errs.FrontendError, "receiver: frontend reported an error"), front)
			return ErrorReported

		case InputBlocked:
			r.acceptedPos += accepted
			return Blocked
		}
	}
}
