// Package evmux multiplexes readiness across message-passing endpoints.
//
// A Multiplexer owns a set of endpoints and a poller.Poller. Each Poll
// waits for at least one endpoint to become readable or writable, as fixed
// by the endpoint's Capability, and calls its EventHandler with the ready
// directions. Handlers run on the polling goroutine before Poll returns, so
// a handler that blocks delays every other ready endpoint.
package evmux

import (
	"errors"

	"github.com/dreamans/evmux/poller"
)

var (
	ErrNoEndpoints       = errors.New("evmux: at least one endpoint is required")
	ErrDuplicateEndpoint = errors.New("evmux: endpoint already registered")
	ErrNoCapability      = errors.New("evmux: endpoint can neither send nor receive")
	ErrInvalidHandle     = errors.New("evmux: invalid endpoint handle")
)

type Options struct {
	Name   string
	Poller poller.Poller
}

func NewOptions() *Options {
	return &Options{}
}

func (opts *Options) SetName(name string) *Options {
	opts.Name = name
	return opts
}

// SetPoller replaces the default poll(2) backend. The Multiplexer does not
// close a poller it did not create.
func (opts *Options) SetPoller(p poller.Poller) *Options {
	opts.Poller = p
	return opts
}
