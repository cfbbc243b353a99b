package evmux

import (
	"errors"
	"time"

	"github.com/dreamans/evmux/evlog"
	"github.com/dreamans/evmux/poller"
)

// Infinite passed to PollTimeout behaves like Poll.
const Infinite time.Duration = -1

// Multiplexer is not safe for concurrent use. Endpoints are normally added
// before the first Poll; adding from inside an EventHandler of the same
// Multiplexer is not allowed. Terminate may be called from any goroutine.
type Multiplexer struct {
	name      string
	set       *pollSet
	poll      poller.Poller
	ownPoller bool
}

func NewMultiplexer(opt *Options) (*Multiplexer, error) {
	if opt == nil {
		opt = NewOptions()
	}
	m := &Multiplexer{
		name: opt.Name,
		set:  newPollSet(),
		poll: opt.Poller,
	}
	if m.poll == nil {
		p, err := poller.New()
		if err != nil {
			return nil, err
		}
		m.poll = p
		m.ownPoller = true
	}
	return m, nil
}

func (m *Multiplexer) AddEndpoint(e Endpoint) error {
	if err := m.set.add(e); err != nil {
		return err
	}
	m.logger().Debugf("[AddEndpoint]: fd %d, capability %s", e.Fd(), e.Capability())
	return nil
}

// AddEndpoints stops at the first failure. Endpoints added before it stay
// registered.
func (m *Multiplexer) AddEndpoints(es ...Endpoint) error {
	return m.set.addAll(es)
}

func (m *Multiplexer) Len() int {
	return m.set.len()
}

// Interest reports the mask fd was registered with.
func (m *Multiplexer) Interest(fd int) (poller.Event, bool) {
	_, ev, ok := m.set.lookup(fd)
	return ev, ok
}

// Poll blocks until at least one endpoint is ready, dispatches every ready
// endpoint and returns how many there were. It returns 0 and no error once
// the poller has been terminated.
func (m *Multiplexer) Poll() (int, error) {
	if m.set.len() == 0 {
		return 0, ErrNoEndpoints
	}
	fds := m.set.view()
	for {
		n, err := m.poll.Wait(fds, poller.Infinite)
		switch {
		case err == nil:
			return m.dispatch(fds, n), nil
		case errors.Is(err, poller.ErrInterrupted):
			m.logger().Debugf("[Poll]: interrupted, retrying")
		case errors.Is(err, poller.ErrTerminated):
			m.logger().Debugf("[Poll]: terminated")
			return 0, nil
		default:
			return 0, m.waitFailed(err)
		}
	}
}

// PollTimeout is Poll bounded by timeout. Interrupted waits are retried
// against one deadline, so the call returns 0 once timeout has elapsed
// with nothing ready. A negative timeout waits forever.
func (m *Multiplexer) PollTimeout(timeout time.Duration) (int, error) {
	if timeout < 0 {
		return m.Poll()
	}
	if m.set.len() == 0 {
		return 0, ErrNoEndpoints
	}
	fds := m.set.view()
	deadline := time.Now().Add(timeout)
	remaining := timeout
	for {
		n, err := m.poll.Wait(fds, durationToMillis(remaining))
		switch {
		case err == nil:
			return m.dispatch(fds, n), nil
		case errors.Is(err, poller.ErrInterrupted):
			remaining = time.Until(deadline)
			if remaining < 0 {
				m.logger().Debugf("[PollTimeout]: interrupted past deadline")
				return 0, nil
			}
			m.logger().Debugf("[PollTimeout]: interrupted, retrying with %s left", remaining)
		case errors.Is(err, poller.ErrTerminated):
			m.logger().Debugf("[PollTimeout]: terminated")
			return 0, nil
		default:
			return 0, m.waitFailed(err)
		}
	}
}

// Terminate makes the in-flight and every later Poll return 0 without error.
func (m *Multiplexer) Terminate() error {
	return m.poll.Terminate()
}

func (m *Multiplexer) Terminated() bool {
	return m.poll.Terminated()
}

func (m *Multiplexer) Close() error {
	if !m.ownPoller {
		return nil
	}
	return m.poll.Close()
}

func (m *Multiplexer) dispatch(fds []poller.PollFd, n int) int {
	if n <= 0 {
		return 0
	}
	for i := range fds {
		if fds[i].Revents == 0 {
			continue
		}
		m.set.endpoints[i].EventHandler(int(fds[i].Fd), fds[i].Revents)
	}
	return n
}

func (m *Multiplexer) waitFailed(err error) error {
	var werr *poller.WaitError
	if errors.As(err, &werr) {
		m.logger().Errorf("[Poll]: %s", werr.Error())
	}
	return err
}

func (m *Multiplexer) logger() evlog.Logger {
	if m.name == "" {
		return evlog.WithFields(nil)
	}
	return evlog.WithFields(evlog.Fields{"mux": m.name})
}

// durationToMillis rounds up so a sub-millisecond budget still blocks.
func durationToMillis(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int((d + time.Millisecond - 1) / time.Millisecond)
}
