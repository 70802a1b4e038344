package provider

import (
	"context"
	"sync/atomic"

	"github.com/plexsphere/bondd/internal/metrics"
)

// CaptureRef points at the most recently built capture provider so status
// and metrics readers can reach its counters across method switches.
type CaptureRef struct {
	p atomic.Pointer[Capture]
}

// Track stores c and returns it, for use inside a provider Set.
func (r *CaptureRef) Track(c *Capture) *Capture {
	r.p.Store(c)
	return c
}

// Counters returns the tracked provider's packet counters, or zeros.
func (r *CaptureRef) Counters() (captured, dropped, malformed uint64) {
	if c := r.p.Load(); c != nil {
		return c.Counters()
	}
	return 0, 0, 0
}

// ReadTunnelStats implements metrics.TunnelStatsReader.
func (r *CaptureRef) ReadTunnelStats(ctx context.Context) ([]metrics.TunnelStats, error) {
	if c := r.p.Load(); c != nil {
		return c.ReadTunnelStats(ctx)
	}
	return nil, nil
}
