package netif

import (
	"context"
	"net"

	"github.com/plexsphere/bondd/internal/link"
)

// Interface describes one host network interface.
type Interface struct {
	Name  string
	Index int
	Kind  link.Kind

	// USB is true when the interface's device hangs off a USB bus.
	USB bool

	// Overlay is true for tunnels and virtual devices (WireGuard, tun, bridges)
	// that never qualify as bonding links.
	Overlay bool

	Up      bool
	Carrier bool

	// Gateway is the IPv4 default gateway reachable through the interface, if any.
	Gateway net.IP

	// SpeedMbps is the negotiated link rate, 0 when unknown.
	SpeedMbps float64

	// SignalStrength is the RSSI in dBm for wireless interfaces.
	SignalStrength *int

	// Radio is the generation of a cellular modem.
	Radio link.RadioGeneration
}

// Candidate reports whether the interface can carry a bonded link.
func (i Interface) Candidate() bool {
	return !i.Overlay && i.Up && i.Carrier
}

// Uplink reports whether the interface is a candidate with a default gateway.
func (i Interface) Uplink() bool {
	return i.Candidate() && i.Gateway != nil
}

// Link converts the interface into a link for method m. Speed and latency fall
// back to estimates when the interface reports nothing measurable.
func (i Interface) Link(m link.Method) link.Link {
	l := link.Link{
		ID:        i.Name,
		Interface: i.Name,
		Method:    m,
		Kind:      i.Kind,
		SpeedMbps: i.SpeedMbps,
	}
	if i.SignalStrength != nil {
		s := *i.SignalStrength
		l.SignalStrength = &s
	}

	var estSpeed float64
	var estLatency int
	switch {
	case i.Kind == link.KindCellular:
		estSpeed, estLatency = link.EstimateCellular(i.Radio)
	case i.SignalStrength != nil:
		estSpeed, estLatency = link.EstimateFromSignal(*i.SignalStrength)
		if l.SpeedMbps > 0 {
			l.SpeedMbps *= link.SignalQualityFactor(*i.SignalStrength)
		}
	default:
		estSpeed, estLatency = 10, 20
	}
	if l.SpeedMbps <= 0 {
		l.SpeedMbps = estSpeed
	}
	l.LatencyMs = estLatency
	return l
}

// Host abstracts host interface enumeration for testability.
type Host interface {
	// Interfaces returns all host interfaces with their classification.
	Interfaces(ctx context.Context) ([]Interface, error)

	// SetUp brings the named interface administratively up.
	SetUp(name string) error
}

// NextHop is one weighted path of a multipath route.
type NextHop struct {
	Interface string
	Gateway   net.IP
	// Weight is the relative share of flows, 1-256.
	Weight int
}

// MultipathRouter programs a weighted default route over several uplinks.
// All methods must be idempotent.
type MultipathRouter interface {
	// SetMultipath replaces the default route in table with the given hops.
	SetMultipath(table int, hops []NextHop) error

	// ClearMultipath removes the default route from table.
	// Removing a non-existent route returns nil.
	ClearMultipath(table int) error

	// AddRule directs lookups to table at the given rule priority.
	AddRule(table, priority int) error

	// DelRule removes a rule added by AddRule.
	DelRule(table, priority int) error
}

// clampWeight bounds a next-hop weight to the kernel's 1-256 range.
func clampWeight(w int) int {
	return max(1, min(w, 256))
}

// Filter returns the interfaces for which keep returns true.
func Filter(ifaces []Interface, keep func(Interface) bool) []Interface {
	var out []Interface
	for _, i := range ifaces {
		if keep(i) {
			out = append(out, i)
		}
	}
	return out
}

// ByName returns the interface with the given name.
func ByName(ifaces []Interface, name string) (Interface, bool) {
	for _, i := range ifaces {
		if i.Name == name {
			return i, true
		}
	}
	return Interface{}, false
}
