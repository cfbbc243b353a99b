//go:build linux || darwin || netbsd || freebsd || openbsd || dragonfly
// +build linux darwin netbsd freebsd openbsd dragonfly

package device

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dreamans/evmux"
	"github.com/dreamans/evmux/endpoint"
	"github.com/dreamans/evmux/evlog"
	"github.com/dreamans/evmux/poller"
)

type PeerFunc func(ctx context.Context, p *Peer) error

// Harness wires a Device between two socket pairs and runs a peer on each
// outer end. Goroutines that miss JoinTimeout are abandoned and reported
// as ErrJoinTimeout.
type Harness struct {
	Device *Device

	opts      *Options
	sockets   []*endpoint.Socket
	frontPeer *endpoint.Socket
	backPeer  *endpoint.Socket
}

func NewHarness(opts *Options) (*Harness, error) {
	if opts == nil {
		opts = NewOptions()
	}
	opts = opts.withDefaults()

	frontPeer, devFront, err := endpoint.Pair(evmux.CapBoth, evmux.CapBoth)
	if err != nil {
		return nil, err
	}
	devBack, backPeer, err := endpoint.Pair(evmux.CapBoth, evmux.CapBoth)
	if err != nil {
		_ = frontPeer.Close()
		_ = devFront.Close()
		return nil, err
	}

	return &Harness{
		Device:    New(devFront, devBack, opts),
		opts:      opts,
		sockets:   []*endpoint.Socket{frontPeer, devFront, devBack, backPeer},
		frontPeer: frontPeer,
		backPeer:  backPeer,
	}, nil
}

// Run starts the device, runs front and back once it is polling, then
// stops the device. Once one peer has returned, the device has exited or
// ctx is done, the remaining peers get JoinTimeout to finish before they
// are cancelled and abandoned.
func (h *Harness) Run(ctx context.Context, front, back PeerFunc) error {
	if err := h.Device.Initialize(); err != nil {
		return err
	}

	var devResult error
	devDone := make(chan struct{})
	go func() {
		devResult = h.Device.Start()
		close(devDone)
	}()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	finished := make(chan struct{}, 2)
	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		defer func() { finished <- struct{}{} }()
		return h.runPeer(gctx, "front", h.frontPeer, front)
	})
	g.Go(func() error {
		defer func() { finished <- struct{}{} }()
		return h.runPeer(gctx, "back", h.backPeer, back)
	})

	peersDone := make(chan error, 1)
	go func() {
		peersDone <- g.Wait()
	}()

	var err error
	devExited := false
	select {
	case err = <-peersDone:
	case <-finished:
		err = h.joinPeers(peersDone, cancel)
	case <-devDone:
		devExited = true
		evlog.Warningf("[Harness]: device exited before its peers: %v", devResult)
		cancel()
		err = h.joinPeers(peersDone, cancel)
	case <-ctx.Done():
		err = h.joinPeers(peersDone, cancel)
	}

	serr := h.stop(devDone, &devResult)
	if devExited {
		switch {
		case serr != nil:
			return serr
		case err != nil && !errors.Is(err, ErrJoinTimeout):
			return fmt.Errorf("%w: %v", ErrDeviceExited, err)
		}
	}
	if err == nil {
		err = serr
	}
	return err
}

// joinPeers waits JoinTimeout for the peers, then cancels them.
func (h *Harness) joinPeers(peersDone <-chan error, cancel context.CancelFunc) error {
	timer := time.NewTimer(h.opts.JoinTimeout)
	defer timer.Stop()

	select {
	case err := <-peersDone:
		return err
	case <-timer.C:
		cancel()
		return fmt.Errorf("%w: peers", ErrJoinTimeout)
	}
}

func (h *Harness) Close() error {
	var err error
	for _, s := range h.sockets {
		if cerr := s.Close(); cerr != nil && !errors.Is(cerr, endpoint.ErrClosed) && err == nil {
			err = cerr
		}
	}
	return err
}

func (h *Harness) runPeer(ctx context.Context, name string, s *endpoint.Socket, fn PeerFunc) error {
	select {
	case <-h.Device.Ready():
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(h.opts.JoinTimeout):
		return fmt.Errorf("%w: %s peer waiting for device", ErrJoinTimeout, name)
	}
	if fn == nil {
		return nil
	}

	p, err := NewPeer(name, s)
	if err != nil {
		return err
	}
	defer p.Close()

	evlog.Debugf("[Harness]: %s peer connected on fd %d", name, s.Fd())
	return fn(ctx, p)
}

func (h *Harness) stop(devDone <-chan struct{}, devResult *error) error {
	timeout := time.NewTimer(h.opts.JoinTimeout)
	defer timeout.Stop()

	stopped := make(chan error, 1)
	go func() {
		stopped <- h.Device.Stop()
	}()

	select {
	case err := <-stopped:
		if err != nil {
			return err
		}
	case <-timeout.C:
		return fmt.Errorf("%w: device stop", ErrJoinTimeout)
	}

	select {
	case <-devDone:
		if errors.Is(*devResult, poller.ErrClosed) {
			return nil
		}
		return *devResult
	case <-timeout.C:
		return fmt.Errorf("%w: device loop", ErrJoinTimeout)
	}
}
