package util

import (
	"errors"
	"syscall"
)

// Errno extracts the syscall.Errno carried by err, if any.
func Errno(err error) (syscall.Errno, bool) {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno, true
	}
	return 0, false
}

func IsInterrupted(err error) bool {
	errno, ok := Errno(err)
	return ok && errno == syscall.EINTR
}

func WouldBlock(err error) bool {
	errno, ok := Errno(err)
	return ok && (errno == syscall.EAGAIN || errno == syscall.EWOULDBLOCK)
}
