// Package link defines the shared data model for bonded network links.
package link

import (
	"fmt"
	"slices"
	"strings"
)

// Method identifies a bonding method. The set is closed.
type Method string

const (
	MethodNative  Method = "native"
	MethodAdapter Method = "adapter"
	MethodHybrid  Method = "hybrid"
	MethodProxy   Method = "proxy"
	MethodCapture Method = "capture"
)

// Methods lists every bonding method in declaration order.
var Methods = []Method{MethodNative, MethodAdapter, MethodHybrid, MethodProxy, MethodCapture}

// ParseMethod converts a configuration string into a Method.
func ParseMethod(s string) (Method, error) {
	m := Method(strings.ToLower(strings.TrimSpace(s)))
	if !slices.Contains(Methods, m) {
		return "", fmt.Errorf("link: unknown method %q", s)
	}
	return m, nil
}

// Strategy identifies an allocation strategy. The set is closed.
type Strategy string

const (
	StrategyRoundRobin      Strategy = "round_robin"
	StrategySpeedWeighted   Strategy = "speed_weighted"
	StrategyLatencyWeighted Strategy = "latency_weighted"
	StrategyAdaptive        Strategy = "adaptive"
)

// DefaultStrategy is the strategy used until a caller selects another.
const DefaultStrategy = StrategyAdaptive

// Strategies lists every allocation strategy.
var Strategies = []Strategy{StrategyRoundRobin, StrategySpeedWeighted, StrategyLatencyWeighted, StrategyAdaptive}

// ParseStrategy converts a configuration string into a Strategy.
func ParseStrategy(s string) (Strategy, error) {
	st := Strategy(strings.ToLower(strings.TrimSpace(s)))
	if !slices.Contains(Strategies, st) {
		return "", fmt.Errorf("link: unknown strategy %q", s)
	}
	return st, nil
}

// Kind describes the physical nature of a link.
type Kind string

const (
	KindWiFi     Kind = "wifi"
	KindCellular Kind = "cellular"
	KindEthernet Kind = "ethernet"
	KindAdapter  Kind = "adapter"
	KindProxy    Kind = "proxy"
	KindCapture  Kind = "capture"
)

// Link is one underlying network path.
type Link struct {
	// ID is unique among connected links.
	ID string `json:"id"`

	// Interface is the OS network interface carrying the link, if any.
	Interface string `json:"interface,omitempty"`

	Method Method `json:"method"`
	Kind   Kind   `json:"kind"`

	SpeedMbps float64 `json:"speed_mbps"`
	LatencyMs int     `json:"latency_ms"`

	// SignalStrength is the RSSI in dBm when the link has a radio.
	SignalStrength *int `json:"signal_strength,omitempty"`

	// AllocationPercentage is the share of traffic assigned, 0-100.
	AllocationPercentage float64 `json:"allocation_percentage"`

	Connected bool `json:"connected"`
}

// DisplayName returns a human-readable label for the link.
func (l Link) DisplayName() string {
	switch l.Kind {
	case KindCellular:
		return "Cellular Data"
	case KindAdapter:
		return "USB Adapter: " + l.ID
	case KindProxy:
		return "Proxy Connection"
	case KindCapture:
		return "Capture: " + l.ID
	default:
		return l.ID
	}
}

// Clone returns a deep copy of l.
func (l Link) Clone() Link {
	if l.SignalStrength != nil {
		s := *l.SignalStrength
		l.SignalStrength = &s
	}
	return l
}

// CloneAll returns a deep copy of links. A nil input yields an empty slice.
func CloneAll(links []Link) []Link {
	out := make([]Link, len(links))
	for i, l := range links {
		out[i] = l.Clone()
	}
	return out
}

// IDs returns the link IDs in order.
func IDs(links []Link) []string {
	ids := make([]string, len(links))
	for i, l := range links {
		ids[i] = l.ID
	}
	return ids
}

// TotalSpeed returns the sum of SpeedMbps over the connected links.
func TotalSpeed(links []Link) float64 {
	var total float64
	for _, l := range links {
		if l.Connected {
			total += l.SpeedMbps
		}
	}
	return total
}

// SortByID sorts links in place by ID.
func SortByID(links []Link) {
	slices.SortFunc(links, func(a, b Link) int { return strings.Compare(a.ID, b.ID) })
}

// Capabilities is the immutable host capability snapshot taken at startup.
type Capabilities struct {
	NativeSupported   bool   `json:"native_supported"`
	AdapterSupported  bool   `json:"adapter_supported"`
	CellularAvailable bool   `json:"cellular_available"`
	RecommendedMethod Method `json:"recommended_method"`
}

// Recommend derives the preferred method from the capability flags.
// Native wins over an adapter, an adapter over the cellular hybrid, and
// capture is chosen when nothing else is available.
func (c Capabilities) Recommend() Method {
	switch {
	case c.NativeSupported:
		return MethodNative
	case c.AdapterSupported:
		return MethodAdapter
	case c.CellularAvailable:
		return MethodHybrid
	default:
		return MethodCapture
	}
}

// Supports reports whether m can be attempted on this host.
// Proxy and capture are always attempted; capture may still fail later on permission.
func (c Capabilities) Supports(m Method) bool {
	switch m {
	case MethodNative:
		return c.NativeSupported
	case MethodAdapter:
		return c.AdapterSupported
	case MethodHybrid:
		return c.CellularAvailable
	default:
		return true
	}
}

// EventKind classifies a link event.
type EventKind int

const (
	// EventAvailable means the link became usable.
	EventAvailable EventKind = iota
	// EventLost means the link went away or its transport failed.
	EventLost
)

// String returns the event kind name.
func (k EventKind) String() string {
	switch k {
	case EventAvailable:
		return "available"
	case EventLost:
		return "lost"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event reports a change of a single link.
type Event struct {
	Kind EventKind
	Link Link
	// Err is set when the change was caused by a failure.
	Err error
}
