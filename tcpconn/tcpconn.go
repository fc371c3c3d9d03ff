//go:build linux

// Package tcpconn implements the non-blocking TCP collaborator
// contract spec §6 describes for the sender/receiver pair: read,
// write, writev, connect, accept over raw non-blocking sockets,
// exposing a pollable fd for registration with poll.PollGroup. This
// mirrors original_source/libmary/tcp_connection.linux.cpp's
// TcpConnection (non-blocking fd, connect-in-progress tracked via a
// getsockopt(SO_ERROR) check on the first writable event) translated
// from its Pollable-vtable style into a concrete Go type exposing the
// same operations directly.
package tcpconn

import (
	"golang.org/x/sys/unix"

	"github.com/dshatrov/gomary/errs"
)

// Conn wraps one non-blocking TCP socket.
type Conn struct {
	fd        int
	connected bool // set once the first writable event confirms connect()
}

// posixErr wraps a syscall failure as errs.PosixError when the
// underlying error is an errno (always true for x/sys/unix socket
// calls), falling back to a generic I/O error otherwise.
func posixErr(err error) error {
	if errno, ok := err.(unix.Errno); ok {
		return errs.NewPosixError(errno)
	}
	return errs.NewIoError(err.Error(), err)
}

// Fd returns the raw file descriptor for poll.PollGroup registration.
func (c *Conn) Fd() int { return c.fd }

// NewFromFd wraps an already-connected or already-accepted
// non-blocking fd (e.g. one returned by Accept).
func NewFromFd(fd int, connected bool) *Conn {
	return &Conn{fd: fd, connected: connected}
}

// Dial creates a non-blocking socket and issues connect(); the caller
// must poll for Output and call ConfirmConnected once writable, per
// TcpConnection::processEvents's "first Output event" check.
func Dial(addr unix.Sockaddr) (*Conn, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, posixErr(err)
	}
	if err := unix.Connect(fd, addr); err != nil && err != unix.EINPROGRESS {
		unix.Close(fd)
		return nil, posixErr(err)
	}
	return &Conn{fd: fd}, nil
}

// Listen creates a non-blocking listening socket bound to addr.
func Listen(addr unix.Sockaddr, backlog int) (*Conn, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, posixErr(err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return nil, posixErr(err)
	}
	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		return nil, posixErr(err)
	}
	if err := unix.Listen(fd, backlog); err != nil {
		unix.Close(fd)
		return nil, posixErr(err)
	}
	return &Conn{fd: fd, connected: true}, nil
}

// Accept returns a new non-blocking Conn for one pending incoming
// connection, or (nil, unix.EAGAIN) if none is ready.
func (c *Conn) Accept() (*Conn, unix.Sockaddr, error) {
	nfd, sa, err := unix.Accept4(c.fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if err != nil {
		return nil, nil, err
	}
	return &Conn{fd: nfd, connected: true}, sa, nil
}

// ConfirmConnected resolves a pending Dial's first writable event,
// exactly as TcpConnection::processEvents's getsockopt(SO_ERROR)
// check does: a zero opt_val means the connect succeeded, nonzero is
// reported as a posix error.
func (c *Conn) ConfirmConnected() error {
	if c.connected {
		return nil
	}
	errno, err := unix.GetsockoptInt(c.fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return posixErr(err)
	}
	if errno != 0 {
		return errs.NewPosixError(unix.Errno(errno))
	}
	c.connected = true
	return nil
}

// Connected reports whether ConfirmConnected has already succeeded
// (always true for Accept-derived and Listen-derived conns).
func (c *Conn) Connected() bool { return c.connected }

// Read reads directly into b; EAGAIN is returned to the caller
// unwrapped so the receiver's Again policy can recognize it cheaply.
func (c *Conn) Read(b []byte) (int, error) {
	n, err := unix.Read(c.fd, b)
	if err != nil {
		return 0, err
	}
	return n, nil
}

// Write writes directly from b; EAGAIN is returned unwrapped, same as
// Read.
func (c *Conn) Write(b []byte) (int, error) {
	n, err := unix.Write(c.fd, b)
	if err != nil {
		return 0, err
	}
	return n, nil
}

// Writev performs one scatter-gather write across bufs, the
// collaborator operation the sender's fill/react writev phase is
// built on (spec §4.4).
func (c *Conn) Writev(bufs [][]byte) (int, error) {
	return unix.Writev(c.fd, bufs)
}

// Close releases the socket.
func (c *Conn) Close() error { return unix.Close(c.fd) }
