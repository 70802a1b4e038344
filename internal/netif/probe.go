package netif

import (
	"context"
	"log/slog"

	"github.com/plexsphere/bondd/internal/link"
)

// HostProbe detects which bonding methods the host can support.
type HostProbe struct {
	host   Host
	logger *slog.Logger
}

// NewHostProbe returns a HostProbe backed by host.
func NewHostProbe(host Host, logger *slog.Logger) *HostProbe {
	return &HostProbe{host: host, logger: logger.With("component", "netif")}
}

// Detect takes a capability snapshot. Enumeration failure yields a snapshot
// with only the always-available methods.
func (p *HostProbe) Detect(ctx context.Context) link.Capabilities {
	ifaces, err := p.host.Interfaces(ctx)
	if err != nil {
		p.logger.Warn("capability probe failed", "error", err)
		caps := link.Capabilities{}
		caps.RecommendedMethod = caps.Recommend()
		return caps
	}
	caps := DetectFrom(ifaces)
	p.logger.Info("capabilities detected",
		"native", caps.NativeSupported,
		"adapter", caps.AdapterSupported,
		"cellular", caps.CellularAvailable,
		"recommended", caps.RecommendedMethod,
	)
	return caps
}

// DetectFrom derives capabilities from an interface list.
func DetectFrom(ifaces []Interface) link.Capabilities {
	var caps link.Capabilities
	var uplinks int
	for _, i := range ifaces {
		if i.Overlay {
			continue
		}
		if i.Uplink() {
			uplinks++
		}
		if i.USB && i.Kind != link.KindCellular {
			caps.AdapterSupported = true
		}
		if i.Kind == link.KindCellular {
			caps.CellularAvailable = true
		}
	}
	caps.NativeSupported = uplinks >= 2
	caps.RecommendedMethod = caps.Recommend()
	return caps
}
