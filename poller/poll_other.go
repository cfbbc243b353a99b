//go:build !linux && !darwin && !netbsd && !freebsd && !openbsd && !dragonfly
// +build !linux,!darwin,!netbsd,!freebsd,!openbsd,!dragonfly

package poller

func New() (Poller, error) {
	return nil, ErrNotSupported
}
