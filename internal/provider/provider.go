// Package provider implements the bonding methods behind one uniform interface.
package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/plexsphere/bondd/internal/link"
	"github.com/plexsphere/bondd/internal/metrics"
)

// Provider is one bonding method. A Provider instance is initialized at most
// once; switching methods creates a new instance.
type Provider interface {
	// Method returns the bonding method implemented.
	Method() link.Method

	// Initialize prepares the method. A non-nil error means the method cannot
	// be used on this host and the caller should fall back.
	Initialize(ctx context.Context) error

	// Connect brings up the requested links and returns the ones that are now
	// connected. Per-link failures are joined into the returned error and do
	// not prevent the other links from connecting.
	Connect(ctx context.Context, links []link.Link) ([]link.Link, error)

	// Disconnect tears down every connected link.
	Disconnect(ctx context.Context) error

	// Scan lists the links the method could connect.
	Scan(ctx context.Context) ([]link.Link, error)

	// ConnectedLinks returns a copy of the connected links sorted by ID.
	ConnectedLinks() []link.Link

	// CombinedSpeed returns the sum of the connected links' speeds.
	CombinedSpeed() float64

	// RefreshMetrics re-measures connected links and reports vanished ones as lost.
	RefreshMetrics(ctx context.Context) error

	// ApplyAllocation pushes computed allocations into the data path.
	ApplyAllocation(links []link.Link) error

	// Cleanup releases every resource held by the provider.
	Cleanup() error

	// SetEventHandler registers fn to receive link events.
	SetEventHandler(fn func(link.Event))
}

// StrategySetter is implemented by providers that schedule traffic themselves.
type StrategySetter interface {
	SetStrategy(s link.Strategy)
}

// Set builds fresh providers by method.
type Set map[link.Method]func() Provider

// New returns a new provider for m.
func (s Set) New(m link.Method) (Provider, error) {
	build, ok := s[m]
	if !ok {
		return nil, fmt.Errorf("provider: %s: %w", m, link.ErrCapabilityUnavailable)
	}
	return build(), nil
}

// errNoSuchLink is joined into establish errors for links the host does not have.
var errNoSuchLink = errors.New("no such link on this host")

// errNotEligible is joined into establish errors for links the method cannot use.
var errNotEligible = errors.New("link not usable by this method")

// measureLatency probes l through its interface and stores the result.
// A failed probe keeps the previous latency.
func measureLatency(ctx context.Context, pinger metrics.Pinger, l *link.Link) error {
	if pinger == nil {
		return nil
	}
	rtt, err := pinger.Ping(ctx, l.Interface)
	if err != nil {
		return err
	}
	l.LatencyMs = metrics.LatencyMs(rtt)
	return nil
}

// durationMs converts d to whole milliseconds, at least 1 for positive d.
func durationMs(d time.Duration) int {
	return metrics.LatencyMs(d.Nanoseconds())
}
