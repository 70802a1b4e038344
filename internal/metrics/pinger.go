package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/plexsphere/bondd/internal/netif"
)

// TCPPinger measures latency as the time to complete a TCP handshake with a
// fixed target through the probed interface.
type TCPPinger struct {
	dialer  netif.Dialer
	target  string
	timeout time.Duration
}

// NewTCPPinger returns a TCPPinger dialing cfg.ProbeTarget through dialer.
func NewTCPPinger(dialer netif.Dialer, cfg Config) *TCPPinger {
	cfg.ApplyDefaults()
	return &TCPPinger{dialer: dialer, target: cfg.ProbeTarget, timeout: cfg.ProbeTimeout}
}

// Ping dials the target through iface and returns the handshake duration.
func (p *TCPPinger) Ping(ctx context.Context, iface string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	conn, err := p.dialer.DialContext(ctx, iface, "tcp", p.target)
	if err != nil {
		return 0, fmt.Errorf("metrics: ping %s: %w", p.target, err)
	}
	rtt := time.Since(start)
	conn.Close()
	return rtt.Nanoseconds(), nil
}
