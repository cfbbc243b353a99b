//go:build linux || darwin || netbsd || freebsd || openbsd || dragonfly
// +build linux darwin netbsd freebsd openbsd dragonfly

package device

import (
	"context"
	"time"

	"github.com/dreamans/evmux"
	"github.com/dreamans/evmux/endpoint"
	"github.com/dreamans/evmux/poller"
)

const peerPollStep = 10 * time.Millisecond

// Peer drives one socket from a single goroutine. Reads and writes each
// get their own Multiplexer so a Send never dispatches inbound messages.
type Peer struct {
	sock  *endpoint.Socket
	rmux  *evmux.Multiplexer
	wmux  *evmux.Multiplexer
	inbox [][]byte
	err   error
}

func NewPeer(name string, s *endpoint.Socket) (*Peer, error) {
	p := &Peer{sock: s}
	s.SetHandler(p)

	rmux, err := evmux.NewMultiplexer(evmux.NewOptions().SetName(name + "/recv"))
	if err != nil {
		return nil, err
	}
	wmux, err := evmux.NewMultiplexer(evmux.NewOptions().SetName(name + "/send"))
	if err != nil {
		_ = rmux.Close()
		return nil, err
	}
	p.rmux, p.wmux = rmux, wmux

	if err := rmux.AddEndpoint(evmux.View(s.Fd(), evmux.CapRecv, s.EventHandler)); err != nil {
		_ = p.Close()
		return nil, err
	}
	if err := wmux.AddEndpoint(evmux.View(s.Fd(), evmux.CapSend, p.onWritable)); err != nil {
		_ = p.Close()
		return nil, err
	}
	return p, nil
}

func (p *Peer) Socket() *endpoint.Socket {
	return p.sock
}

// Send returns once msg has been handed to the kernel.
func (p *Peer) Send(ctx context.Context, msg []byte) error {
	if err := p.sock.Send(msg); err != nil {
		return err
	}
	for p.sock.Pending() > 0 {
		if p.err != nil {
			return p.err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := p.wmux.PollTimeout(peerPollStep); err != nil {
			return err
		}
	}
	return nil
}

func (p *Peer) Recv(ctx context.Context) ([]byte, error) {
	for len(p.inbox) == 0 {
		if p.err != nil {
			return nil, p.err
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if _, err := p.rmux.PollTimeout(peerPollStep); err != nil {
			return nil, err
		}
	}
	msg := p.inbox[0]
	p.inbox = p.inbox[1:]
	return msg, nil
}

func (p *Peer) Close() error {
	err := p.rmux.Close()
	if p.wmux != nil {
		if werr := p.wmux.Close(); err == nil {
			err = werr
		}
	}
	return err
}

func (p *Peer) OnMessage(s *endpoint.Socket, msg []byte) {
	p.inbox = append(p.inbox, msg)
}

func (p *Peer) OnError(s *endpoint.Socket, err error) {
	if p.err == nil {
		p.err = err
	}
}

func (p *Peer) onWritable(fd int, events poller.Event) {
	if err := p.sock.Flush(); err != nil {
		p.OnError(p.sock, err)
	}
}
