package evmux

import (
	"fmt"

	"github.com/dreamans/evmux/poller"
)

// pollSet keeps descriptors in registration order. fds is handed to the
// poller as is; endpoints[i] owns fds[i].
type pollSet struct {
	fds       []poller.PollFd
	endpoints []Endpoint
	index     map[int]int
}

func newPollSet() *pollSet {
	return &pollSet{index: make(map[int]int)}
}

func (s *pollSet) add(e Endpoint) error {
	if e == nil {
		return fmt.Errorf("%w: nil endpoint", ErrInvalidHandle)
	}
	fd := e.Fd()
	if fd < 0 {
		return fmt.Errorf("%w: fd %d", ErrInvalidHandle, fd)
	}
	interest := e.Capability().Interest()
	if interest == 0 {
		return fmt.Errorf("%w: fd %d", ErrNoCapability, fd)
	}
	// One entry per handle: a second view of the same fd is rejected
	// whatever its mask.
	if i, ok := s.index[fd]; ok {
		return fmt.Errorf("%w: fd %d (%s)", ErrDuplicateEndpoint, fd, s.fds[i].Events)
	}

	s.index[fd] = len(s.fds)
	s.fds = append(s.fds, poller.PollFd{Fd: int32(fd), Events: interest})
	s.endpoints = append(s.endpoints, e)
	return nil
}

func (s *pollSet) addAll(es []Endpoint) error {
	for _, e := range es {
		if err := s.add(e); err != nil {
			return err
		}
	}
	return nil
}

func (s *pollSet) len() int {
	return len(s.fds)
}

// view returns the descriptor slice with results from the previous wait cleared.
func (s *pollSet) view() []poller.PollFd {
	for i := range s.fds {
		s.fds[i].Revents = 0
	}
	return s.fds
}

func (s *pollSet) lookup(fd int) (Endpoint, poller.Event, bool) {
	i, ok := s.index[fd]
	if !ok {
		return nil, 0, false
	}
	return s.endpoints[i], s.fds[i].Events, true
}
