package evmux

import (
	"github.com/dreamans/evmux/poller"
)

// Capability is the fixed send/receive role of an endpoint.
type Capability uint8

const (
	CapRecv Capability = 1 << iota
	CapSend

	CapBoth = CapRecv | CapSend
)

func (c Capability) CanRecv() bool { return c&CapRecv != 0 }
func (c Capability) CanSend() bool { return c&CapSend != 0 }

// Interest maps receive to readable and send to writable.
func (c Capability) Interest() poller.Event {
	var ev poller.Event
	if c.CanRecv() {
		ev |= poller.EventRead
	}
	if c.CanSend() {
		ev |= poller.EventWrite
	}
	return ev
}

func (c Capability) String() string {
	switch c & CapBoth {
	case CapRecv:
		return "recv"
	case CapSend:
		return "send"
	case CapBoth:
		return "both"
	}
	return "none"
}

// Endpoint is the view of a message-passing peer the Multiplexer needs.
// The Multiplexer keeps a reference, so the endpoint must stay open while
// it is registered.
type Endpoint interface {
	Fd() int
	Capability() Capability
	EventHandler(fd int, events poller.Event)
}

type viewEndpoint struct {
	fd      int
	cap     Capability
	handler func(fd int, events poller.Event)
}

// View builds an Endpoint from a raw handle, a capability and a handler.
// It lets one side of a resource be registered with a narrower capability
// than the resource itself has.
func View(fd int, c Capability, handler func(fd int, events poller.Event)) Endpoint {
	return &viewEndpoint{fd: fd, cap: c, handler: handler}
}

func (v *viewEndpoint) Fd() int                { return v.fd }
func (v *viewEndpoint) Capability() Capability { return v.cap }

func (v *viewEndpoint) EventHandler(fd int, events poller.Event) {
	if v.handler != nil {
		v.handler(fd, events)
	}
}
