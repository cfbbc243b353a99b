//go:build linux || darwin || netbsd || freebsd || openbsd || dragonfly
// +build linux darwin netbsd freebsd openbsd dragonfly

package poller

import (
	"golang.org/x/sys/unix"

	"github.com/dreamans/evmux/evlog"
	"github.com/dreamans/evmux/util"
)

const (
	readEvents  = unix.POLLIN | unix.POLLPRI
	writeEvents = unix.POLLOUT
	errEvents   = unix.POLLERR | unix.POLLHUP | unix.POLLNVAL
)

var wakeWriteBytes = []byte{1}

// Poll implements Poller with poll(2). A pipe is polled alongside the
// caller's descriptors; writing to it terminates every wait.
type Poll struct {
	wakeR, wakeW int
	pfds         []unix.PollFd
	terminated   util.AtomicBool
	closed       util.AtomicBool
}

func New() (Poller, error) {
	return PollCreate()
}

func PollCreate() (*Poll, error) {
	var p [2]int
	if err := unix.Pipe(p[:]); err != nil {
		return nil, err
	}
	for _, fd := range p {
		unix.CloseOnExec(fd)
		if err := unix.SetNonblock(fd, true); err != nil {
			_ = unix.Close(p[0])
			_ = unix.Close(p[1])
			return nil, err
		}
	}
	return &Poll{wakeR: p[0], wakeW: p[1]}, nil
}

func (p *Poll) Wait(fds []PollFd, timeoutMs int) (int, error) {
	if p.closed.IsSet() {
		return -1, ErrClosed
	}
	if p.terminated.IsSet() {
		return -1, ErrTerminated
	}
	if timeoutMs < 0 {
		timeoutMs = Infinite
	}

	n := len(fds) + 1
	if cap(p.pfds) < n {
		p.pfds = make([]unix.PollFd, n)
	}
	pfds := p.pfds[:n]
	for i := range fds {
		pfds[i] = unix.PollFd{Fd: fds[i].Fd, Events: toPollEvents(fds[i].Events)}
	}
	pfds[n-1] = unix.PollFd{Fd: int32(p.wakeR), Events: unix.POLLIN}

	ready, err := unix.Poll(pfds, timeoutMs)
	if err != nil {
		if util.IsInterrupted(err) {
			return -1, ErrInterrupted
		}
		evlog.Debugf("[unix.Poll]: %s", err.Error())
		return -1, newWaitError(err)
	}
	if pfds[n-1].Revents != 0 {
		p.terminated.Set()
		return -1, ErrTerminated
	}

	count := 0
	for i := range fds {
		fds[i].Revents = fromPollEvents(pfds[i].Revents) & (fds[i].Events | EventErr)
		if fds[i].Revents != 0 {
			count++
		}
	}
	if count != ready {
		evlog.Debugf("[unix.Poll]: kernel reported %d ready, %d after masking", ready, count)
	}
	return count, nil
}

// Terminate wakes any in-flight Wait. The wake byte is never drained, so
// the pipe stays readable and later waits return at once.
func (p *Poll) Terminate() error {
	if p.closed.IsSet() {
		return ErrClosed
	}
	if p.terminated.IsSet() {
		return nil
	}
	p.terminated.Set()
	_, err := unix.Write(p.wakeW, wakeWriteBytes)
	if err == unix.EAGAIN {
		return nil
	}
	return err
}

func (p *Poll) Terminated() bool {
	return p.terminated.IsSet()
}

func (p *Poll) Close() error {
	if p.closed.IsSet() {
		return ErrClosed
	}
	p.closed.Set()
	err := unix.Close(p.wakeR)
	if cerr := unix.Close(p.wakeW); err == nil {
		err = cerr
	}
	return err
}

func toPollEvents(e Event) int16 {
	var ev int16
	if e&EventRead != 0 {
		ev |= readEvents
	}
	if e&EventWrite != 0 {
		ev |= writeEvents
	}
	return ev
}

func fromPollEvents(ev int16) Event {
	var e Event
	if ev&(unix.POLLIN|unix.POLLPRI) != 0 {
		e |= EventRead
	}
	if ev&unix.POLLOUT != 0 {
		e |= EventWrite
	}
	if ev&errEvents != 0 {
		e |= EventErr
	}
	return e
}
