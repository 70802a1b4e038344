package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/plexsphere/bondd/internal/link"
	"github.com/plexsphere/bondd/internal/netif"
)

// Device is the virtual capture interface. Reads return one IP packet each.
type Device interface {
	io.ReadWriteCloser
	Name() string
}

// Router installs the policy routing that steers host traffic into the
// capture device while keeping bondd's own sockets out of it.
// Both methods must be idempotent.
type Router interface {
	Install(device string) error
	Remove() error
}

// Transport opens the per-link encapsulation channel of a tunnel.
type Transport interface {
	// Ready returns an error when no tunnel can be opened at all.
	Ready() error
	// Open returns a packet-preserving connection carried by l.
	Open(ctx context.Context, l link.Link) (io.ReadWriteCloser, error)
}

// errNoRelay is returned by UDPTransport when no relay endpoint is configured.
var errNoRelay = errors.New("dispatch: no relay endpoint configured")

// UDPTransport carries each tunnel as a UDP flow to a relay, pinned to the
// link's interface.
type UDPTransport struct {
	dialer   netif.Dialer
	endpoint string
}

// NewUDPTransport returns a UDPTransport dialing endpoint through dialer.
func NewUDPTransport(dialer netif.Dialer, endpoint string) *UDPTransport {
	return &UDPTransport{dialer: dialer, endpoint: endpoint}
}

// Ready returns errNoRelay when no relay endpoint is configured.
func (t *UDPTransport) Ready() error {
	if t.endpoint == "" {
		return errNoRelay
	}
	return nil
}

// Open dials the relay through l's interface.
func (t *UDPTransport) Open(ctx context.Context, l link.Link) (io.ReadWriteCloser, error) {
	if err := t.Ready(); err != nil {
		return nil, err
	}
	conn, err := t.dialer.DialContext(ctx, l.Interface, "udp", t.endpoint)
	if err != nil {
		return nil, fmt.Errorf("dispatch: open transport for %s: %w", l.ID, err)
	}
	return conn, nil
}
