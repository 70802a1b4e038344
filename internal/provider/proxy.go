package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/plexsphere/bondd/internal/link"
	"github.com/plexsphere/bondd/internal/metrics"
	"github.com/plexsphere/bondd/internal/netif"
)

// Proxy routes application traffic through an upstream proxy reached over
// each link. It is the last fallback and its Initialize never fails.
type Proxy struct {
	cfg    Config
	host   netif.Host
	dialer netif.Dialer
	pinger metrics.Pinger
	logger *slog.Logger
	set    *linkSet
}

// NewProxy creates a proxy provider.
func NewProxy(cfg Config, host netif.Host, dialer netif.Dialer, pinger metrics.Pinger, logger *slog.Logger) *Proxy {
	cfg.ApplyDefaults()
	return &Proxy{
		cfg:    cfg,
		host:   host,
		dialer: dialer,
		pinger: pinger,
		logger: logger.With("component", "provider", "method", string(link.MethodProxy)),
		set:    newLinkSet(),
	}
}

// Method returns link.MethodProxy.
func (p *Proxy) Method() link.Method { return link.MethodProxy }

// SetEventHandler registers fn to receive link events.
func (p *Proxy) SetEventHandler(fn func(link.Event)) { p.set.setHandler(fn) }

// Initialize always succeeds.
func (p *Proxy) Initialize(_ context.Context) error {
	if p.cfg.ProxyEndpoint == "" {
		p.logger.Info("initialized without upstream proxy, links are used directly")
		return nil
	}
	p.logger.Info("initialized", "endpoint", p.cfg.ProxyEndpoint)
	return nil
}

// Scan lists every present interface that is up with carrier.
func (p *Proxy) Scan(ctx context.Context) ([]link.Link, error) {
	ifaces, err := p.host.Interfaces(ctx)
	if err != nil {
		return nil, fmt.Errorf("provider: proxy: scan: %w", err)
	}
	var out []link.Link
	for _, i := range netif.Filter(ifaces, netif.Interface.Candidate) {
		out = append(out, i.Link(link.MethodProxy))
	}
	link.SortByID(out)
	return out, nil
}

// Connect verifies the upstream proxy is reachable over each requested link.
func (p *Proxy) Connect(ctx context.Context, links []link.Link) ([]link.Link, error) {
	ifaces, err := p.host.Interfaces(ctx)
	if err != nil {
		return nil, fmt.Errorf("provider: proxy: connect: %w", err)
	}

	var errs []error
	for _, req := range links {
		iface, ok := netif.ByName(ifaces, ifaceName(req))
		if !ok {
			errs = append(errs, link.EstablishError(req.ID, errNoSuchLink))
			continue
		}
		if !iface.Candidate() {
			errs = append(errs, link.EstablishError(req.ID, errNotEligible))
			continue
		}
		l := iface.Link(link.MethodProxy)
		l.ID = req.ID
		if err := p.measure(ctx, &l); err != nil {
			if p.cfg.ProxyEndpoint != "" {
				errs = append(errs, link.EstablishError(req.ID, err))
				continue
			}
			p.logger.Debug("latency probe failed", "link_id", l.ID, "error", err)
		}
		p.set.put(l)
	}
	return p.set.list(), errors.Join(errs...)
}

// measure times a connection to the upstream proxy over l, or probes the
// default target when no proxy is configured.
func (p *Proxy) measure(ctx context.Context, l *link.Link) error {
	if p.cfg.ProxyEndpoint == "" {
		return measureLatency(ctx, p.pinger, l)
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.ProbeTimeout)
	defer cancel()
	start := time.Now()
	conn, err := p.dialer.DialContext(ctx, l.Interface, "tcp", p.cfg.ProxyEndpoint)
	if err != nil {
		return fmt.Errorf("reach proxy %s: %w", p.cfg.ProxyEndpoint, err)
	}
	l.LatencyMs = durationMs(time.Since(start))
	conn.Close()
	return nil
}

// ApplyAllocation records the allocation. Clients pick the link themselves.
func (p *Proxy) ApplyAllocation(links []link.Link) error {
	p.set.setAllocations(links)
	return nil
}

// Disconnect forgets every link.
func (p *Proxy) Disconnect(_ context.Context) error {
	p.set.clear()
	return nil
}

// ConnectedLinks returns the connected links sorted by ID.
func (p *Proxy) ConnectedLinks() []link.Link { return p.set.list() }

// CombinedSpeed returns the sum of the connected links' speeds.
func (p *Proxy) CombinedSpeed() float64 { return p.set.totalSpeed() }

// RefreshMetrics re-measures every link, drops the ones whose interface
// went away and reports lost links whose interface returned.
func (p *Proxy) RefreshMetrics(ctx context.Context) error {
	res, err := refreshLinks(ctx, p.host, link.MethodProxy, p.set.list(), p.set.watched(), netif.Interface.Candidate, p.measure, p.logger)
	if err != nil {
		return fmt.Errorf("provider: proxy: refresh: %w", err)
	}
	for _, l := range res.updated {
		p.set.update(l)
	}
	for _, id := range res.lost {
		p.logger.Warn("link lost", "link_id", id)
		p.set.lose(id, &link.LinkError{LinkID: id, Err: errLinkGone})
	}
	for _, l := range res.available {
		p.logger.Info("link available again", "link_id", l.ID)
		p.set.returned(l)
	}
	return nil
}

// Cleanup forgets every link.
func (p *Proxy) Cleanup() error {
	p.set.clear()
	return nil
}
