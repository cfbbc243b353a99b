package poller

import (
	"errors"
	"fmt"
	"strings"
	"syscall"

	"github.com/dreamans/evmux/util"
)

type Event uint16

const (
	EventRead  Event = 0x1
	EventWrite Event = 0x2
	EventErr   Event = 0x4
)

// Infinite blocks a Wait until a descriptor is ready or the poller is terminated.
const Infinite = -1

var (
	ErrClosed       = errors.New("poller: closed")
	ErrNotSupported = errors.New("poller: not supported on this platform")

	// ErrInterrupted reports a wait that was interrupted by a signal before
	// any descriptor became ready. The caller may retry.
	ErrInterrupted = errors.New("poller: wait interrupted")

	// ErrTerminated reports that Terminate was called. Every later wait
	// returns it as well.
	ErrTerminated = errors.New("poller: terminated")
)

// WaitError is a wait failure that is neither an interruption nor a
// termination. Err holds the cause when it carried no errno of its own;
// Errno is then EINVAL.
type WaitError struct {
	Errno syscall.Errno
	Err   error
}

func newWaitError(err error) *WaitError {
	if errno, ok := util.Errno(err); ok {
		return &WaitError{Errno: errno}
	}
	return &WaitError{Errno: syscall.EINVAL, Err: err}
}

func (e *WaitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("poller: wait failed: %s", e.Err.Error())
	}
	return fmt.Sprintf("poller: wait failed: %s (errno %d)", e.Errno.Error(), int(e.Errno))
}

func (e *WaitError) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Errno, e.Err}
	}
	return []error{e.Errno}
}

// PollFd is the unit handed to Wait. Fd and Events are set by the caller,
// Revents is overwritten by every successful Wait.
type PollFd struct {
	Fd      int32
	Events  Event
	Revents Event
}

type Poller interface {
	// Wait blocks for at most timeoutMs milliseconds (Infinite for no
	// limit) and returns the number of descriptors with a non-zero Revents.
	Wait(fds []PollFd, timeoutMs int) (int, error)
	Terminate() error
	Terminated() bool
	Close() error
}

func (e Event) String() string {
	if e == 0 {
		return "none"
	}
	var parts []string
	if e&EventRead != 0 {
		parts = append(parts, "read")
	}
	if e&EventWrite != 0 {
		parts = append(parts, "write")
	}
	if e&EventErr != 0 {
		parts = append(parts, "err")
	}
	return strings.Join(parts, "|")
}
