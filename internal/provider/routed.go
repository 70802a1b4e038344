package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net"
	"sync"

	"github.com/plexsphere/bondd/internal/link"
	"github.com/plexsphere/bondd/internal/metrics"
	"github.com/plexsphere/bondd/internal/netif"
)

// policy decides which host interfaces a routed method uses.
type policy struct {
	// eligible reports whether an interface can become a link.
	eligible func(netif.Interface) bool
	// wake selects present but down interfaces to bring up during Initialize.
	wake func(netif.Interface) bool
	// ready fails when the eligible interfaces cannot support the method.
	ready func(eligible []netif.Interface) error
}

// Routed bonds uplinks by installing a weighted multipath default route in a
// dedicated table. Native, adapter and hybrid bonding differ only in which
// interfaces they accept.
type Routed struct {
	method link.Method
	policy policy
	cfg    Config
	host   netif.Host
	router netif.MultipathRouter
	pinger metrics.Pinger
	logger *slog.Logger
	set    *linkSet

	mu            sync.Mutex
	gateways      map[string]net.IP
	ruleInstalled bool
}

func newRouted(m link.Method, p policy, cfg Config, host netif.Host, router netif.MultipathRouter, pinger metrics.Pinger, logger *slog.Logger) *Routed {
	cfg.ApplyDefaults()
	return &Routed{
		method:   m,
		policy:   p,
		cfg:      cfg,
		host:     host,
		router:   router,
		pinger:   pinger,
		logger:   logger.With("component", "provider", "method", string(m)),
		set:      newLinkSet(),
		gateways: make(map[string]net.IP),
	}
}

// NewNative creates a provider bonding two or more physical uplinks.
func NewNative(cfg Config, host netif.Host, router netif.MultipathRouter, pinger metrics.Pinger, logger *slog.Logger) *Routed {
	return newRouted(link.MethodNative, policy{
		eligible: netif.Interface.Uplink,
		ready: func(eligible []netif.Interface) error {
			if len(eligible) < 2 {
				return fmt.Errorf("need two uplinks, found %d: %w", len(eligible), link.ErrCapabilityUnavailable)
			}
			return nil
		},
	}, cfg, host, router, pinger, logger)
}

// NewAdapter creates a provider bonding a USB network adapter with the
// other uplinks.
func NewAdapter(cfg Config, host netif.Host, router netif.MultipathRouter, pinger metrics.Pinger, logger *slog.Logger) *Routed {
	isAdapter := func(i netif.Interface) bool { return i.USB && i.Kind != link.KindCellular }
	return newRouted(link.MethodAdapter, policy{
		eligible: netif.Interface.Uplink,
		wake:     isAdapter,
		ready: func(eligible []netif.Interface) error {
			if len(netif.Filter(eligible, isAdapter)) == 0 {
				return fmt.Errorf("no usable USB adapter: %w", link.ErrCapabilityUnavailable)
			}
			return nil
		},
	}, cfg, host, router, pinger, logger)
}

// NewHybrid creates a provider bonding WiFi with cellular data.
func NewHybrid(cfg Config, host netif.Host, router netif.MultipathRouter, pinger metrics.Pinger, logger *slog.Logger) *Routed {
	isCellular := func(i netif.Interface) bool { return i.Kind == link.KindCellular }
	return newRouted(link.MethodHybrid, policy{
		eligible: func(i netif.Interface) bool {
			return i.Uplink() && (i.Kind == link.KindWiFi || i.Kind == link.KindCellular)
		},
		wake: isCellular,
		ready: func(eligible []netif.Interface) error {
			cellular := len(netif.Filter(eligible, isCellular))
			if cellular == 0 || cellular == len(eligible) {
				return fmt.Errorf("need WiFi and cellular uplinks: %w", link.ErrCapabilityUnavailable)
			}
			return nil
		},
	}, cfg, host, router, pinger, logger)
}

// Method returns the bonding method implemented.
func (r *Routed) Method() link.Method { return r.method }

// SetEventHandler registers fn to receive link events.
func (r *Routed) SetEventHandler(fn func(link.Event)) { r.set.setHandler(fn) }

// Initialize checks that the host has the interfaces the method needs and
// installs the policy rule for the bonding table.
func (r *Routed) Initialize(ctx context.Context) error {
	ifaces, err := r.host.Interfaces(ctx)
	if err != nil {
		return fmt.Errorf("provider: %s: initialize: %w", r.method, err)
	}
	if r.wakeInterfaces(ifaces) {
		if ifaces, err = r.host.Interfaces(ctx); err != nil {
			return fmt.Errorf("provider: %s: initialize: %w", r.method, err)
		}
	}
	if err := r.policy.ready(netif.Filter(ifaces, r.policy.eligible)); err != nil {
		return fmt.Errorf("provider: %s: %w", r.method, err)
	}

	if err := r.router.AddRule(r.cfg.RouteTable, r.cfg.RulePriority); err != nil {
		return fmt.Errorf("provider: %s: install rule: %w", r.method, err)
	}
	r.mu.Lock()
	r.ruleInstalled = true
	r.mu.Unlock()
	r.logger.Info("initialized", "table", r.cfg.RouteTable)
	return nil
}

// wakeInterfaces brings up present but down interfaces selected by the
// policy and reports whether any was changed.
func (r *Routed) wakeInterfaces(ifaces []netif.Interface) bool {
	if r.policy.wake == nil {
		return false
	}
	woke := false
	for _, i := range ifaces {
		if i.Overlay || i.Up || !r.policy.wake(i) {
			continue
		}
		if err := r.host.SetUp(i.Name); err != nil {
			r.logger.Warn("bring up interface failed", "interface", i.Name, "error", err)
			continue
		}
		r.logger.Info("interface brought up", "interface", i.Name)
		woke = true
	}
	return woke
}

// Scan lists the interfaces the method can bond.
func (r *Routed) Scan(ctx context.Context) ([]link.Link, error) {
	ifaces, err := r.host.Interfaces(ctx)
	if err != nil {
		return nil, fmt.Errorf("provider: %s: scan: %w", r.method, err)
	}
	var out []link.Link
	for _, i := range netif.Filter(ifaces, r.policy.eligible) {
		out = append(out, i.Link(r.method))
	}
	link.SortByID(out)
	return out, nil
}

// Connect adds the requested uplinks to the multipath route.
func (r *Routed) Connect(ctx context.Context, links []link.Link) ([]link.Link, error) {
	ifaces, err := r.host.Interfaces(ctx)
	if err != nil {
		return nil, fmt.Errorf("provider: %s: connect: %w", r.method, err)
	}

	var errs []error
	for _, req := range links {
		iface, ok := netif.ByName(ifaces, ifaceName(req))
		if !ok {
			errs = append(errs, link.EstablishError(req.ID, errNoSuchLink))
			continue
		}
		if !r.policy.eligible(iface) {
			errs = append(errs, link.EstablishError(req.ID, errNotEligible))
			continue
		}
		l := iface.Link(r.method)
		l.ID = req.ID
		if err := measureLatency(ctx, r.pinger, &l); err != nil {
			r.logger.Debug("latency probe failed", "link_id", l.ID, "error", err)
		}
		r.set.put(l)
		r.mu.Lock()
		r.gateways[l.ID] = iface.Gateway
		r.mu.Unlock()
	}

	if err := r.program(); err != nil {
		errs = append(errs, err)
	}
	return r.set.list(), errors.Join(errs...)
}

// ApplyAllocation turns allocation percentages into next-hop weights.
func (r *Routed) ApplyAllocation(links []link.Link) error {
	r.set.setAllocations(links)
	return r.program()
}

// program installs the multipath route for the connected links, or removes it
// when none are left.
func (r *Routed) program() error {
	links := r.set.list()
	if len(links) == 0 {
		if err := r.router.ClearMultipath(r.cfg.RouteTable); err != nil {
			return fmt.Errorf("provider: %s: clear route: %w", r.method, err)
		}
		return nil
	}

	r.mu.Lock()
	hops := make([]netif.NextHop, 0, len(links))
	for _, l := range links {
		hops = append(hops, netif.NextHop{
			Interface: l.Interface,
			Gateway:   r.gateways[l.ID],
			Weight:    int(math.Round(l.AllocationPercentage)),
		})
	}
	r.mu.Unlock()

	if err := r.router.SetMultipath(r.cfg.RouteTable, hops); err != nil {
		return fmt.Errorf("provider: %s: program route: %w", r.method, err)
	}
	return nil
}

// Disconnect removes every link and the multipath route.
func (r *Routed) Disconnect(_ context.Context) error {
	r.set.clear()
	r.mu.Lock()
	clear(r.gateways)
	r.mu.Unlock()
	if err := r.router.ClearMultipath(r.cfg.RouteTable); err != nil {
		return fmt.Errorf("provider: %s: disconnect: %w", r.method, err)
	}
	return nil
}

// ConnectedLinks returns the connected links sorted by ID.
func (r *Routed) ConnectedLinks() []link.Link { return r.set.list() }

// CombinedSpeed returns the sum of the connected links' speeds.
func (r *Routed) CombinedSpeed() float64 { return r.set.totalSpeed() }

// RefreshMetrics re-measures every link, drops the ones whose uplink went
// away, reports lost links whose uplink returned and reprograms the route
// when next hops changed.
func (r *Routed) RefreshMetrics(ctx context.Context) error {
	res, err := refreshLinks(ctx, r.host, r.method, r.set.list(), r.set.watched(), r.policy.eligible, r.measure, r.logger)
	if err != nil {
		return fmt.Errorf("provider: %s: refresh: %w", r.method, err)
	}

	changed := len(res.lost) > 0
	r.mu.Lock()
	for id, iface := range res.ifaces {
		if !iface.Gateway.Equal(r.gateways[id]) {
			r.gateways[id] = iface.Gateway
			changed = true
		}
	}
	for _, id := range res.lost {
		delete(r.gateways, id)
	}
	r.mu.Unlock()

	for _, l := range res.updated {
		r.set.update(l)
	}
	for _, id := range res.lost {
		r.logger.Warn("link lost", "link_id", id)
		r.set.lose(id, &link.LinkError{LinkID: id, Err: errLinkGone})
	}
	for _, l := range res.available {
		r.logger.Info("link available again", "link_id", l.ID)
		r.set.returned(l)
	}
	if changed {
		return r.program()
	}
	return nil
}

func (r *Routed) measure(ctx context.Context, l *link.Link) error {
	return measureLatency(ctx, r.pinger, l)
}

// Cleanup removes the route and the policy rule.
func (r *Routed) Cleanup() error {
	err := r.Disconnect(context.Background())

	r.mu.Lock()
	installed := r.ruleInstalled
	r.ruleInstalled = false
	r.mu.Unlock()
	if installed {
		if derr := r.router.DelRule(r.cfg.RouteTable, r.cfg.RulePriority); derr != nil {
			err = errors.Join(err, fmt.Errorf("provider: %s: remove rule: %w", r.method, derr))
		}
	}
	return err
}
