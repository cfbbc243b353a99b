//go:build linux || darwin || netbsd || freebsd || openbsd || dragonfly
// +build linux darwin netbsd freebsd openbsd dragonfly

// Package device forwards messages between two endpoints with a
// Multiplexer and provides a Harness to run a device with two peers.
package device

import (
	"errors"
	"sync/atomic"

	"github.com/dreamans/evmux"
	"github.com/dreamans/evmux/endpoint"
	"github.com/dreamans/evmux/evlog"
	"github.com/dreamans/evmux/poller"
	"github.com/dreamans/evmux/util"
)

var (
	ErrNotInitialized = errors.New("device: not initialized")
	ErrInitialized    = errors.New("device: already initialized")
	ErrRunning        = errors.New("device: already running")
	ErrJoinTimeout    = errors.New("device: join timed out")
	ErrDeviceExited   = errors.New("device: exited before its peers finished")
)

type Stats struct {
	FrontToBack uint64
	BackToFront uint64
	Dropped     uint64
}

// Device forwards every message read from front to back and the other
// way round. Both sockets are polled for input only; output that would
// block is queued on the socket and flushed between polls.
type Device struct {
	opts        *Options
	front, back *endpoint.Socket
	mux         *evmux.Multiplexer

	ready chan struct{}
	done  chan struct{}

	initialized util.AtomicBool
	running     util.AtomicBool
	stopped     util.AtomicBool

	frontToBack uint64
	backToFront uint64
	dropped     uint64
}

func New(front, back *endpoint.Socket, opts *Options) *Device {
	if opts == nil {
		opts = NewOptions()
	}
	return &Device{
		opts:  opts.withDefaults(),
		front: front,
		back:  back,
		ready: make(chan struct{}),
		done:  make(chan struct{}),
	}
}

func (d *Device) Initialize() error {
	if !d.initialized.SetOnce() {
		return ErrInitialized
	}
	mux, err := evmux.NewMultiplexer(evmux.NewOptions().SetName(d.opts.Name))
	if err != nil {
		return err
	}

	d.front.SetHandler(&forwarder{dev: d, dst: d.back, count: &d.frontToBack})
	d.back.SetHandler(&forwarder{dev: d, dst: d.front, count: &d.backToFront})

	err = mux.AddEndpoints(
		evmux.View(d.front.Fd(), evmux.CapRecv, d.front.EventHandler),
		evmux.View(d.back.Fd(), evmux.CapRecv, d.back.EventHandler),
	)
	if err != nil {
		_ = mux.Close()
		return err
	}
	d.mux = mux
	return nil
}

// Start runs the forwarding loop until Stop is called or a peer goes away.
// Ready is closed once the loop is polling.
func (d *Device) Start() error {
	if !d.initialized.IsSet() || d.mux == nil {
		return ErrNotInitialized
	}
	if d.stopped.IsSet() {
		return nil
	}
	if !d.running.SetOnce() {
		return ErrRunning
	}
	defer close(d.done)

	evlog.WithFields(evlog.Fields{"device": d.opts.Name}).Infof("[Start]: forwarding fd %d <-> fd %d", d.front.Fd(), d.back.Fd())
	close(d.ready)

	for {
		if _, err := d.mux.PollTimeout(d.opts.PollInterval); err != nil {
			return err
		}
		if d.mux.Terminated() {
			evlog.WithFields(evlog.Fields{"device": d.opts.Name}).Infof("[Start]: stopped, %+v", d.Stats())
			return nil
		}
		d.flush(d.front)
		d.flush(d.back)
	}
}

func (d *Device) Ready() <-chan struct{} {
	return d.ready
}

// Stop terminates the loop, waits for Start to return and releases the
// poller. The sockets stay open; they belong to the caller.
func (d *Device) Stop() error {
	if !d.initialized.IsSet() || d.mux == nil {
		return ErrNotInitialized
	}
	if !d.stopped.SetOnce() {
		return nil
	}
	if err := d.mux.Terminate(); err != nil && !errors.Is(err, poller.ErrClosed) {
		return err
	}
	if d.running.IsSet() {
		<-d.done
	}
	return d.mux.Close()
}

func (d *Device) Stats() Stats {
	return Stats{
		FrontToBack: atomic.LoadUint64(&d.frontToBack),
		BackToFront: atomic.LoadUint64(&d.backToFront),
		Dropped:     atomic.LoadUint64(&d.dropped),
	}
}

func (d *Device) flush(s *endpoint.Socket) {
	if s.Pending() == 0 {
		return
	}
	if err := s.Flush(); err != nil {
		evlog.Errorf("[Flush]: fd %d: %s", s.Fd(), err.Error())
	}
}

type forwarder struct {
	dev   *Device
	dst   *endpoint.Socket
	count *uint64
}

func (f *forwarder) OnMessage(s *endpoint.Socket, msg []byte) {
	if err := f.dst.Send(msg); err != nil {
		atomic.AddUint64(&f.dev.dropped, 1)
		evlog.Warningf("[Forward]: fd %d -> fd %d: %s", s.Fd(), f.dst.Fd(), err.Error())
		return
	}
	atomic.AddUint64(f.count, 1)
}

// OnError stops the device: a closed or broken peer would otherwise stay
// readable forever.
func (f *forwarder) OnError(s *endpoint.Socket, err error) {
	if errors.Is(err, endpoint.ErrPeerClosed) {
		evlog.Infof("[Forward]: fd %d: peer closed", s.Fd())
	} else {
		evlog.Errorf("[Forward]: fd %d: %s", s.Fd(), err.Error())
	}
	_ = f.dev.mux.Terminate()
}
