package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/plexsphere/bondd/internal/dispatch"
	"github.com/plexsphere/bondd/internal/link"
	"github.com/plexsphere/bondd/internal/metrics"
	"github.com/plexsphere/bondd/internal/netif"
)

// DeviceOpener creates the virtual capture device.
type DeviceOpener func(cfg dispatch.Config) (dispatch.Device, error)

// Capture steers all host traffic into a virtual interface and schedules the
// captured packets across per-link tunnels.
type Capture struct {
	cfg       dispatch.Config
	host      netif.Host
	open      DeviceOpener
	router    dispatch.Router
	transport dispatch.Transport
	pinger    metrics.Pinger
	logger    *slog.Logger

	mu       sync.Mutex
	d        *dispatch.Dispatcher
	strategy link.Strategy
	handler  func(link.Event)
	cancel   context.CancelFunc
	runDone  chan struct{}

	// Capture routing is installed exactly while a tunnel is up.
	routeMu sync.Mutex
	device  string
	routed  bool

	watch lostWatch
}

// NewCapture creates a capture provider. Nothing is opened until Initialize.
func NewCapture(cfg dispatch.Config, host netif.Host, open DeviceOpener, router dispatch.Router,
	transport dispatch.Transport, pinger metrics.Pinger, logger *slog.Logger,
) *Capture {
	cfg.ApplyDefaults()
	return &Capture{
		cfg:       cfg,
		host:      host,
		open:      open,
		router:    router,
		transport: transport,
		pinger:    pinger,
		logger:    logger.With("component", "provider", "method", string(link.MethodCapture)),
		strategy:  link.DefaultStrategy,
	}
}

// virtualInterface marks err as a virtual interface failure.
func virtualInterface(err error) error {
	if errors.Is(err, link.ErrVirtualInterface) {
		return err
	}
	return errors.Join(link.ErrVirtualInterface, err)
}

// Method returns link.MethodCapture.
func (c *Capture) Method() link.Method { return link.MethodCapture }

// SetEventHandler registers fn to receive link events.
func (c *Capture) SetEventHandler(fn func(link.Event)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = fn
}

// SetStrategy selects the allocation strategy used by the scheduler.
func (c *Capture) SetStrategy(s link.Strategy) {
	c.mu.Lock()
	c.strategy = s
	d := c.d
	c.mu.Unlock()
	if d != nil {
		d.SetStrategy(s)
	}
}

// Initialize opens the capture device and starts the dispatcher. Capture
// routing follows later, with the first tunnel. It fails with
// link.ErrCapabilityUnavailable when the transport cannot carry tunnels.
// Calling it again after success is a no-op.
func (c *Capture) Initialize(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.d != nil {
		return nil
	}

	if err := c.transport.Ready(); err != nil {
		return fmt.Errorf("provider: capture: %w", errors.Join(link.ErrCapabilityUnavailable, err))
	}
	dev, err := c.open(c.cfg)
	if err != nil {
		return fmt.Errorf("provider: capture: open device: %w", virtualInterface(err))
	}

	c.routeMu.Lock()
	c.device, c.routed = dev.Name(), false
	c.routeMu.Unlock()

	d := dispatch.New(c.cfg, dev, c.transport, c.logger)
	d.SetEventHandler(func(ev link.Event) {
		c.emit(ev)
		if ev.Kind == link.EventLost {
			c.releaseRouting(d)
		}
	})
	d.SetStrategy(c.strategy)

	// Run outlives the caller's context; Cleanup stops it.
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := d.Run(ctx); err != nil {
			c.deviceFailed(d, err)
		}
	}()

	c.d = d
	c.cancel = cancel
	c.runDone = done
	c.logger.Info("initialized", "device", dev.Name())
	return nil
}

func (c *Capture) dispatcher() *dispatch.Dispatcher {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.d
}

func (c *Capture) emit(ev link.Event) {
	c.mu.Lock()
	handler := c.handler
	c.mu.Unlock()
	if handler != nil {
		handler(ev)
	}
}

// deviceFailed reports every connected link as lost after the capture
// device failed.
func (c *Capture) deviceFailed(d *dispatch.Dispatcher, cause error) {
	c.logger.Error("capture device failed", "error", cause)
	for _, l := range d.ConnectedLinks() {
		if !d.RemoveLink(l.ID) {
			continue
		}
		l.Connected = false
		l.AllocationPercentage = 0
		c.emit(link.Event{Kind: link.EventLost, Link: l, Err: &link.LinkError{LinkID: l.ID, Err: cause}})
	}
	c.releaseRouting(d)
}

// syncRouting installs capture routing when d has a tunnel up and removes it
// when d has none. A failed install is rolled back.
func (c *Capture) syncRouting(d *dispatch.Dispatcher) error {
	c.routeMu.Lock()
	defer c.routeMu.Unlock()

	live := len(d.ConnectedLinks()) > 0
	switch {
	case live && !c.routed:
		if err := c.router.Install(c.device); err != nil {
			if rerr := c.router.Remove(); rerr != nil {
				c.logger.Warn("rollback of partial capture routing failed", "error", rerr)
			}
			return fmt.Errorf("provider: capture: install routing: %w", virtualInterface(err))
		}
		c.routed = true
		c.logger.Info("capture routing installed", "device", c.device)
	case !live && c.routed:
		if err := c.router.Remove(); err != nil {
			return fmt.Errorf("provider: capture: remove routing: %w", err)
		}
		c.routed = false
		c.logger.Info("capture routing removed", "device", c.device)
	}
	return nil
}

// releaseRouting removes capture routing once the last tunnel is gone.
func (c *Capture) releaseRouting(d *dispatch.Dispatcher) {
	if err := c.syncRouting(d); err != nil {
		c.logger.Error("capture routing left installed without tunnels", "error", err)
	}
}

// Scan lists every present interface that is up with carrier.
func (c *Capture) Scan(ctx context.Context) ([]link.Link, error) {
	ifaces, err := c.host.Interfaces(ctx)
	if err != nil {
		return nil, fmt.Errorf("provider: capture: scan: %w", err)
	}
	var out []link.Link
	for _, i := range netif.Filter(ifaces, netif.Interface.Candidate) {
		out = append(out, i.Link(link.MethodCapture))
	}
	link.SortByID(out)
	return out, nil
}

// Connect opens a tunnel per requested link and installs capture routing
// once one is up. When routing cannot be installed every tunnel is stopped.
func (c *Capture) Connect(ctx context.Context, links []link.Link) ([]link.Link, error) {
	d := c.dispatcher()
	if d == nil {
		return nil, fmt.Errorf("provider: capture: connect: %w", dispatch.ErrClosed)
	}
	ifaces, err := c.host.Interfaces(ctx)
	if err != nil {
		return nil, fmt.Errorf("provider: capture: connect: %w", err)
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
		l := iface.Link(link.MethodCapture)
		l.ID = req.ID
		if err := measureLatency(ctx, c.pinger, &l); err != nil {
			c.logger.Debug("latency probe failed", "link_id", l.ID, "error", err)
		}
		if err := d.AddLink(ctx, l); err != nil {
			errs = append(errs, err)
			continue
		}
		c.watch.drop(l.ID)
	}
	if err := c.syncRouting(d); err != nil {
		for _, l := range d.ConnectedLinks() {
			d.RemoveLink(l.ID)
		}
		return []link.Link{}, errors.Join(append(errs, err)...)
	}
	return d.ConnectedLinks(), errors.Join(errs...)
}

// ApplyAllocation refreshes link metrics in the scheduler, which recomputes
// allocations with its own strategy.
func (c *Capture) ApplyAllocation(links []link.Link) error {
	d := c.dispatcher()
	if d == nil {
		return nil
	}
	d.SetAllocations(links)
	return nil
}

// Disconnect stops every tunnel and removes capture routing. The capture
// device stays open.
func (c *Capture) Disconnect(_ context.Context) error {
	d := c.dispatcher()
	if d == nil {
		return nil
	}
	for _, l := range d.ConnectedLinks() {
		d.RemoveLink(l.ID)
	}
	c.watch.reset()
	return c.syncRouting(d)
}

// ConnectedLinks returns the links with a running tunnel sorted by ID.
func (c *Capture) ConnectedLinks() []link.Link {
	d := c.dispatcher()
	if d == nil {
		return []link.Link{}
	}
	return d.ConnectedLinks()
}

// CombinedSpeed returns the sum of the connected links' speeds.
func (c *Capture) CombinedSpeed() float64 {
	return link.TotalSpeed(c.ConnectedLinks())
}

// RefreshMetrics re-measures every tunnel's link, stops the tunnels whose
// interface went away and reports lost links whose interface returned.
func (c *Capture) RefreshMetrics(ctx context.Context) error {
	d := c.dispatcher()
	if d == nil {
		return nil
	}
	measure := func(ctx context.Context, l *link.Link) error { return measureLatency(ctx, c.pinger, l) }
	connected := d.ConnectedLinks()
	res, err := refreshLinks(ctx, c.host, link.MethodCapture, connected, c.watch.list(), netif.Interface.Candidate, measure, c.logger)
	if err != nil {
		return fmt.Errorf("provider: capture: refresh: %w", err)
	}

	d.SetAllocations(res.updated)
	byID := make(map[string]link.Link, len(connected))
	for _, l := range connected {
		byID[l.ID] = l
	}
	for _, id := range res.lost {
		if !d.RemoveLink(id) {
			continue
		}
		c.logger.Warn("link lost", "link_id", id)
		l := byID[id]
		l.Connected = false
		l.AllocationPercentage = 0
		c.watch.add(l)
		c.emit(link.Event{Kind: link.EventLost, Link: l, Err: &link.LinkError{LinkID: id, Err: errLinkGone}})
	}
	if len(res.lost) > 0 {
		c.releaseRouting(d)
	}
	for _, l := range res.available {
		c.logger.Info("link available again", "link_id", l.ID)
		c.watch.drop(l.ID)
		c.emit(link.Event{Kind: link.EventAvailable, Link: l})
	}
	return nil
}

// Counters returns the dispatcher's captured, dropped and malformed packet counts.
func (c *Capture) Counters() (captured, dropped, malformed uint64) {
	d := c.dispatcher()
	if d == nil {
		return 0, 0, 0
	}
	return d.Captured(), d.Dropped(), d.Malformed()
}

// ReadTunnelStats implements metrics.TunnelStatsReader.
func (c *Capture) ReadTunnelStats(_ context.Context) ([]metrics.TunnelStats, error) {
	d := c.dispatcher()
	if d == nil {
		return nil, nil
	}
	stats := d.Stats()
	out := make([]metrics.TunnelStats, 0, len(stats))
	for _, s := range stats {
		out = append(out, metrics.TunnelStats{
			LinkID:     s.LinkID,
			InstanceID: s.InstanceID,
			Allocation: s.Allocation,
			TxPackets:  s.TxPackets,
			TxBytes:    s.TxBytes,
			Dropped:    s.Dropped,
			QueueDepth: s.QueueDepth,
		})
	}
	return out, nil
}

// Cleanup stops the dispatcher, closes the device and removes capture routing.
func (c *Capture) Cleanup() error {
	c.mu.Lock()
	d, cancel, done := c.d, c.cancel, c.runDone
	c.d, c.cancel, c.runDone = nil, nil, nil
	c.mu.Unlock()
	if d == nil {
		return nil
	}

	cancel()
	err := d.Close()
	<-done
	c.watch.reset()
	c.routeMu.Lock()
	if rerr := c.router.Remove(); rerr != nil {
		err = errors.Join(err, fmt.Errorf("provider: capture: remove routing: %w", rerr))
	} else {
		c.routed = false
	}
	c.routeMu.Unlock()
	c.logger.Info("cleaned up")
	return err
}
