package netif

import (
	"context"
	"fmt"
	"net"
	"syscall"
	"time"
)

// Dialer opens connections pinned to a specific interface.
type Dialer interface {
	// DialContext connects to address through iface. An empty iface leaves
	// the route choice to the kernel.
	DialContext(ctx context.Context, iface, network, address string) (net.Conn, error)
}

// BoundDialer dials through a named interface and tags its sockets with the
// bypass mark so they are never captured by the bonding interface.
type BoundDialer struct {
	// Mark is the fwmark set on every socket. Zero disables marking.
	Mark uint32

	// Timeout bounds the dial. Zero means no timeout beyond ctx.
	Timeout time.Duration
}

// NewBoundDialer returns a BoundDialer that marks sockets with BypassMark.
func NewBoundDialer(cfg Config) *BoundDialer {
	return &BoundDialer{Mark: BypassMark, Timeout: cfg.DialTimeout}
}

// DialContext connects to address through iface.
func (d *BoundDialer) DialContext(ctx context.Context, iface, network, address string) (net.Conn, error) {
	if iface != "" {
		if err := validateIfaceName(iface); err != nil {
			return nil, err
		}
	}
	nd := &net.Dialer{
		Timeout: d.Timeout,
		Control: func(_, _ string, rc syscall.RawConn) error {
			var opErr error
			err := rc.Control(func(fd uintptr) {
				opErr = bindSocket(int(fd), iface, d.Mark)
			})
			if err != nil {
				return err
			}
			return opErr
		},
	}
	conn, err := nd.DialContext(ctx, network, address)
	if err != nil {
		return nil, fmt.Errorf("netif: dial %s via %q: %w", address, iface, err)
	}
	return conn, nil
}
