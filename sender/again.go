package sender

import "syscall"

// isAgain reports whether err is the non-blocking-socket "try again"
// signal (EAGAIN/EWOULDBLOCK, aliases of the same errno on Linux).
func isAgain(err error) bool {
	return err == syscall.EAGAIN || err == syscall.EWOULDBLOCK
}
