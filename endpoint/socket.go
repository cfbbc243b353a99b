//go:build linux || darwin || netbsd || freebsd || openbsd || dragonfly
// +build linux darwin netbsd freebsd openbsd dragonfly

package endpoint

import (
	"errors"

	"github.com/eapache/queue"
	"golang.org/x/sys/unix"

	"github.com/dreamans/evmux"
	"github.com/dreamans/evmux/evlog"
	"github.com/dreamans/evmux/poller"
	"github.com/dreamans/evmux/util"
)

// MaxMessageSize bounds a single message. Larger reads would be truncated
// by the kernel, so Send rejects them up front.
const MaxMessageSize = 0x10000

var (
	ErrClosed          = errors.New("endpoint: closed")
	ErrCannotSend      = errors.New("endpoint: not send capable")
	ErrMessageTooLarge = errors.New("endpoint: message too large")
	ErrPeerClosed      = errors.New("endpoint: peer closed")
)

type Handler interface {
	OnMessage(s *Socket, msg []byte)
	OnError(s *Socket, err error)
}

type defaultHandler struct{}

func (defaultHandler) OnMessage(s *Socket, msg []byte) {}
func (defaultHandler) OnError(s *Socket, err error)    {}

// Socket is one end of a message-preserving AF_UNIX socket pair. It is
// owned by a single goroutine: the one polling it.
type Socket struct {
	fd      int
	cap     evmux.Capability
	handler Handler
	outq    *queue.Queue
	buf     []byte
	closed  util.AtomicBool
}

func newSocket(fd int, c evmux.Capability) *Socket {
	return &Socket{
		fd:      fd,
		cap:     c,
		handler: defaultHandler{},
		outq:    queue.New(),
	}
}

// Pair returns two connected sockets with the given capabilities.
func Pair(a, b evmux.Capability) (*Socket, *Socket, error) {
	fds, err := socketpair()
	if err != nil {
		return nil, nil, err
	}
	return newSocket(fds[0], a), newSocket(fds[1], b), nil
}

func (s *Socket) Fd() int {
	return s.fd
}

func (s *Socket) Capability() evmux.Capability {
	return s.cap
}

func (s *Socket) SetHandler(h Handler) {
	if h == nil {
		h = defaultHandler{}
	}
	s.handler = h
}

// Pending is the number of messages queued because the socket was full.
func (s *Socket) Pending() int {
	return s.outq.Length()
}

// Send writes msg at once when nothing is queued, otherwise it is queued
// behind earlier messages and written by Flush.
func (s *Socket) Send(msg []byte) error {
	if s.closed.IsSet() {
		return ErrClosed
	}
	if !s.cap.CanSend() {
		return ErrCannotSend
	}
	if len(msg) == 0 {
		return nil
	}
	if len(msg) > MaxMessageSize {
		return ErrMessageTooLarge
	}
	if s.outq.Length() == 0 {
		sent, err := s.write(msg)
		if err != nil || sent {
			return err
		}
	}
	s.outq.Add(append([]byte(nil), msg...))
	return nil
}

// Flush writes queued messages until the socket would block.
func (s *Socket) Flush() error {
	if s.closed.IsSet() {
		return ErrClosed
	}
	for s.outq.Length() > 0 {
		sent, err := s.write(s.outq.Peek().([]byte))
		if err != nil {
			return err
		}
		if !sent {
			return nil
		}
		s.outq.Remove()
	}
	return nil
}

func (s *Socket) EventHandler(fd int, events poller.Event) {
	if events&poller.EventRead != 0 {
		s.handleRead(fd)
	}
	if events&poller.EventWrite != 0 {
		if err := s.Flush(); err != nil {
			s.handleError(err)
		}
	}
	if events&poller.EventErr != 0 && events&poller.EventRead == 0 {
		s.handleError(ErrPeerClosed)
	}
}

func (s *Socket) Close() error {
	if !s.closed.SetOnce() {
		return ErrClosed
	}
	return unix.Close(s.fd)
}

func (s *Socket) handleRead(fd int) {
	if s.buf == nil {
		s.buf = make([]byte, MaxMessageSize)
	}
	for !s.closed.IsSet() {
		n, err := unix.Read(fd, s.buf)
		if err != nil {
			if util.IsInterrupted(err) {
				continue
			}
			if !util.WouldBlock(err) {
				s.handleError(err)
			}
			return
		}
		if n == 0 {
			s.handleError(ErrPeerClosed)
			return
		}

		evlog.Debugf("[HandleRead]: fd %d, len {%d}", fd, n)

		s.handler.OnMessage(s, append([]byte(nil), s.buf[:n]...))
	}
}

func (s *Socket) handleError(err error) {
	evlog.Debugf("[HandleError]: fd %d: %s", s.fd, err.Error())
	s.handler.OnError(s, err)
}

// write reports false without an error when the socket is full.
func (s *Socket) write(msg []byte) (bool, error) {
	for {
		_, err := unix.Write(s.fd, msg)
		switch {
		case err == nil:
			evlog.Debugf("[HandleWrite]: fd %d, len {%d}", s.fd, len(msg))
			return true, nil
		case util.IsInterrupted(err):
			continue
		case util.WouldBlock(err):
			return false, nil
		default:
			return false, err
		}
	}
}
