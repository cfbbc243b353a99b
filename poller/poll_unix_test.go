//go:build linux || darwin || netbsd || freebsd || openbsd || dragonfly
// +build linux darwin netbsd freebsd openbsd dragonfly

package poller

import (
	"errors"
	"fmt"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func newPipe(t *testing.T) (r, w int) {
	t.Helper()
	var p [2]int
	require.NoError(t, unix.Pipe(p[:]))
	t.Cleanup(func() {
		_ = unix.Close(p[0])
		_ = unix.Close(p[1])
	})
	return p[0], p[1]
}

func newPoll(t *testing.T) *Poll {
	t.Helper()
	p, err := PollCreate()
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestWaitReadable(t *testing.T) {
	p := newPoll(t)
	r, w := newPipe(t)

	fds := []PollFd{
		{Fd: int32(r), Events: EventRead},
		{Fd: int32(w), Events: EventWrite},
	}
	_, err := unix.Write(w, []byte("x"))
	require.NoError(t, err)

	n, err := p.Wait(fds, Infinite)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, EventRead, fds[0].Revents)
	assert.Equal(t, EventWrite, fds[1].Revents)
}

func TestWaitMasksUnrequestedDirections(t *testing.T) {
	p := newPoll(t)
	_, w := newPipe(t)

	// A pipe write end is writable, but only read interest was asked for.
	fds := []PollFd{{Fd: int32(w), Events: EventRead}}
	n, err := p.Wait(fds, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, Event(0), fds[0].Revents)
}

func TestWaitTimeout(t *testing.T) {
	p := newPoll(t)
	r, _ := newPipe(t)

	fds := []PollFd{{Fd: int32(r), Events: EventRead}}
	start := time.Now()
	n, err := p.Wait(fds, 30)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.GreaterOrEqual(t, time.Since(start), 25*time.Millisecond)
}

func TestTerminateWakesWait(t *testing.T) {
	p := newPoll(t)
	r, _ := newPipe(t)
	fds := []PollFd{{Fd: int32(r), Events: EventRead}}

	go func() {
		time.Sleep(30 * time.Millisecond)
		_ = p.Terminate()
	}()

	start := time.Now()
	_, err := p.Wait(fds, Infinite)
	assert.ErrorIs(t, err, ErrTerminated)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.True(t, p.Terminated())

	_, err = p.Wait(fds, Infinite)
	assert.ErrorIs(t, err, ErrTerminated)
	assert.NoError(t, p.Terminate())
}

func TestWaitAfterClose(t *testing.T) {
	p, err := PollCreate()
	require.NoError(t, err)
	require.NoError(t, p.Close())

	_, err = p.Wait(nil, 0)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, p.Terminate(), ErrClosed)
	assert.ErrorIs(t, p.Close(), ErrClosed)
}

func TestWaitErrorCarriesErrno(t *testing.T) {
	err := error(&WaitError{Errno: syscall.EFAULT})

	var werr *WaitError
	require.True(t, errors.As(err, &werr))
	assert.Equal(t, syscall.EFAULT, werr.Errno)
	assert.ErrorIs(t, err, syscall.EFAULT)
	assert.Contains(t, err.Error(), "errno 14")
}

func TestWaitErrorKeepsCauseWithoutErrno(t *testing.T) {
	cause := errors.New("poll: bad descriptor table")
	err := error(newWaitError(cause))

	var werr *WaitError
	require.True(t, errors.As(err, &werr))
	assert.Equal(t, syscall.EINVAL, werr.Errno)
	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, err, syscall.EINVAL)
	assert.Contains(t, err.Error(), "bad descriptor table")

	werr = newWaitError(fmt.Errorf("poll: %w", syscall.ENOMEM))
	assert.Equal(t, syscall.ENOMEM, werr.Errno)
	assert.Nil(t, werr.Err)
}

func TestEventString(t *testing.T) {
	assert.Equal(t, "none", Event(0).String())
	assert.Equal(t, "read", EventRead.String())
	assert.Equal(t, "read|write|err", (EventRead | EventWrite | EventErr).String())
}

func TestPollEventConversion(t *testing.T) {
	assert.Equal(t, int16(unix.POLLIN|unix.POLLPRI|unix.POLLOUT), toPollEvents(EventRead|EventWrite))
	assert.Equal(t, EventRead|EventErr, fromPollEvents(unix.POLLIN|unix.POLLHUP))
	assert.Equal(t, EventWrite, fromPollEvents(unix.POLLOUT))
}
