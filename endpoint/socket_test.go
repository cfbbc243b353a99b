//go:build linux
// +build linux

package endpoint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamans/evmux"
	"github.com/dreamans/evmux/poller"
)

type recordHandler struct {
	msgs [][]byte
	errs []error
}

func (h *recordHandler) OnMessage(s *Socket, msg []byte) { h.msgs = append(h.msgs, msg) }
func (h *recordHandler) OnError(s *Socket, err error)    { h.errs = append(h.errs, err) }

func newPair(t *testing.T, a, b evmux.Capability) (*Socket, *Socket) {
	t.Helper()
	sa, sb, err := Pair(a, b)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = sa.Close()
		_ = sb.Close()
	})
	return sa, sb
}

func TestSendAndDrain(t *testing.T) {
	a, b := newPair(t, evmux.CapSend, evmux.CapRecv)
	h := &recordHandler{}
	b.SetHandler(h)

	require.NoError(t, a.Send([]byte("one")))
	require.NoError(t, a.Send([]byte("two")))
	assert.Equal(t, 0, a.Pending())

	b.EventHandler(b.Fd(), poller.EventRead)

	require.Len(t, h.msgs, 2)
	assert.Equal(t, "one", string(h.msgs[0]))
	assert.Equal(t, "two", string(h.msgs[1]))
	assert.Empty(t, h.errs)
}

func TestSendRequiresCapability(t *testing.T) {
	a, _ := newPair(t, evmux.CapRecv, evmux.CapSend)
	assert.ErrorIs(t, a.Send([]byte("x")), ErrCannotSend)
}

func TestSendRejectsOversize(t *testing.T) {
	a, _ := newPair(t, evmux.CapBoth, evmux.CapBoth)
	assert.ErrorIs(t, a.Send(make([]byte, MaxMessageSize+1)), ErrMessageTooLarge)
	assert.NoError(t, a.Send(nil))
}

func TestSendQueuesWhenFull(t *testing.T) {
	a, b := newPair(t, evmux.CapSend, evmux.CapRecv)
	h := &recordHandler{}
	b.SetHandler(h)

	msg := make([]byte, 1024)
	sent := 0
	for a.Pending() == 0 {
		require.NoError(t, a.Send(msg))
		sent++
	}
	// a few more behind the first queued one
	for i := 0; i < 3; i++ {
		require.NoError(t, a.Send(msg))
		sent++
	}
	assert.Equal(t, 4, a.Pending())

	for a.Pending() > 0 {
		b.EventHandler(b.Fd(), poller.EventRead)
		a.EventHandler(a.Fd(), poller.EventWrite)
	}
	b.EventHandler(b.Fd(), poller.EventRead)

	assert.Len(t, h.msgs, sent)
	assert.Empty(t, h.errs)
}

func TestPeerClosed(t *testing.T) {
	a, b := newPair(t, evmux.CapRecv, evmux.CapSend)
	h := &recordHandler{}
	a.SetHandler(h)

	require.NoError(t, b.Close())
	a.EventHandler(a.Fd(), poller.EventRead|poller.EventErr)

	require.Len(t, h.errs, 1)
	assert.ErrorIs(t, h.errs[0], ErrPeerClosed)
}

func TestCloseTwice(t *testing.T) {
	a, _, err := Pair(evmux.CapBoth, evmux.CapBoth)
	require.NoError(t, err)
	require.NoError(t, a.Close())
	assert.ErrorIs(t, a.Close(), ErrClosed)
	assert.ErrorIs(t, a.Send([]byte("x")), ErrClosed)
	assert.ErrorIs(t, a.Flush(), ErrClosed)
}
