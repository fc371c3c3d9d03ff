// Package errs implements the error-kind taxonomy from the runtime's
// error handling design: typed, causally-chained errors distinguishing
// POSIX/syscall failures, I/O failures, internal "should never happen"
// conditions, and numeric-conversion failures. Causes chain via
// github.com/pkg/errors, exactly as the teacher repo's own dsort
// package wraps errors for a %v-formatted cause trail.
package errs

import (
	"fmt"
	"syscall"

	"github.com/pkg/errors"
)

// InternalKind enumerates InternalError sub-kinds (spec §7).
type InternalKind int

const (
	UnknownError InternalKind = iota
	IncorrectUsage
	BadInput
	FrontendError
	BackendError
	BackendMalfunction
	ProtocolError
	NotImplemented
)

func (k InternalKind) String() string {
	switch k {
	case IncorrectUsage:
		return "IncorrectUsage"
	case BadInput:
		return "BadInput"
	case FrontendError:
		return "FrontendError"
	case BackendError:
		return "BackendError"
	case BackendMalfunction:
		return "BackendMalfunction"
	case ProtocolError:
		return "ProtocolError"
	case NotImplemented:
		return "NotImplemented"
	default:
		return "UnknownError"
	}
}

// NumericKind enumerates NumericConversionError sub-kinds.
type NumericKind int

const (
	EmptyString NumericKind = iota
	NonNumericChars
	Overflow
)

func (k NumericKind) String() string {
	switch k {
	case NonNumericChars:
		return "NonNumericChars"
	case Overflow:
		return "Overflow"
	default:
		return "EmptyString"
	}
}

// PosixError wraps an errno.
type PosixError struct {
	Errno syscall.Errno
}

func (e *PosixError) Error() string { return fmt.Sprintf("posix error: %s", e.Errno.Error()) }

func NewPosixError(errno syscall.Errno) *PosixError { return &PosixError{Errno: errno} }

// IoError is a generic I/O failure wrapping a cause.
type IoError struct {
	msg   string
	cause error
}

func (e *IoError) Error() string { return "io error: " + e.msg }
func (e *IoError) Cause() error  { return e.cause }
func (e *IoError) Unwrap() error { return e.cause }

func NewIoError(msg string, cause error) *IoError {
	return &IoError{msg: msg, cause: cause}
}

// InternalError signals a classified internal condition; BackendMalfunction
// in particular is the spec's "should never happen" signal — logged and
// fatal for the affected operation, but not a process abort.
type InternalError struct {
	Kind  InternalKind
	msg   string
	cause error
}

func (e *InternalError) Error() string {
	if e.msg == "" {
		return "internal error: " + e.Kind.String()
	}
	return fmt.Sprintf("internal error (%s): %s", e.Kind, e.msg)
}
func (e *InternalError) Cause() error { return e.cause }
func (e *InternalError) Unwrap() error { return e.cause }

func NewInternalError(kind InternalKind, format string, args ...any) *InternalError {
	return &InternalError{Kind: kind, msg: fmt.Sprintf(format, args...)}
}

// WrapInternalError attaches a cause while preserving it in the chain,
// via pkg/errors so %+v printing still yields the full trail.
func WrapInternalError(cause error, kind InternalKind, format string, args ...any) *InternalError {
	return &InternalError{Kind: kind, msg: fmt.Sprintf(format, args...), cause: errors.WithStack(cause)}
}

// NumericConversionError signals a failed string-to-number conversion.
type NumericConversionError struct {
	Kind  NumericKind
	Input string
}

func (e *NumericConversionError) Error() string {
	return fmt.Sprintf("numeric conversion error (%s): %q", e.Kind, e.Input)
}

func NewNumericConversionError(kind NumericKind, input string) *NumericConversionError {
	return &NumericConversionError{Kind: kind, Input: input}
}

// Cause returns the innermost wrapped error in an errs cause chain, or
// err itself if it carries no cause (mirrors pkg/errors.Cause, extended
// to this package's Cause()-bearing types).
func Cause(err error) error {
	type causer interface{ Cause() error }
	for err != nil {
		c, ok := err.(causer)
		if !ok {
			return err
		}
		cause := c.Cause()
		if cause == nil {
			return err
		}
		err = cause
	}
	return err
}

// FromErrno classifies a raw syscall error into the spec's propagation
// policy: EINTR is handled by the caller's retry loop and never reaches
// here; EAGAIN/EWOULDBLOCK are the caller's responsibility to translate
// to "Again" before calling FromErrno at all. Anything else becomes a
// PosixError wrapped in an IoError.
func FromErrno(op string, errno syscall.Errno) error {
	return NewIoError(op, NewPosixError(errno))
}
