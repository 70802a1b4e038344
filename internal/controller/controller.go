// Package controller selects the active bonding method, walks the fallback
// chain when a method cannot start and keeps link allocations current.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/plexsphere/bondd/internal/allocation"
	"github.com/plexsphere/bondd/internal/link"
	"github.com/plexsphere/bondd/internal/provider"
)

// CapabilityProbe reports which bonding methods the host supports.
type CapabilityProbe interface {
	Detect(ctx context.Context) link.Capabilities
}

// PermissionRequester asks for the permission the capture method needs.
// The returned channel yields one value.
type PermissionRequester interface {
	RequestCapturePermission(ctx context.Context) <-chan bool
}

// ProviderFactory builds a fresh provider for a method.
type ProviderFactory interface {
	New(m link.Method) (provider.Provider, error)
}

// fallbackChain is walked after the preferred method fails. Proxy is last
// because it always initializes.
var fallbackChain = []link.Method{link.MethodNative, link.MethodCapture, link.MethodProxy}

// errAbandoned marks a provider call that did not return within its timeout.
var errAbandoned = errors.New("controller: provider call timed out")

// op is one queued mutation.
type op struct {
	fn   func(ctx context.Context)
	done chan struct{}
}

// Controller owns the active provider. Every mutation runs on a single
// goroutine in submission order; reads are served from the latest Snapshot.
type Controller struct {
	cfg     Config
	probe   CapabilityProbe
	perms   PermissionRequester
	factory ProviderFactory
	logger  *slog.Logger

	ops      chan op
	notify   chan struct{}
	started  atomic.Bool
	cancel   context.CancelFunc
	stopped  chan struct{}
	stopOnce sync.Once

	eventsMu sync.Mutex
	events   []link.Event

	listenersMu sync.Mutex
	listeners   []Listener

	snap atomic.Pointer[Snapshot]

	// Owned by the controller goroutine.
	provider  provider.Provider
	state     State
	method    link.Method
	strategy  link.Strategy
	caps      link.Capabilities
	probed    bool
	requested []link.Link
	links     []link.Link
	retries   *retrySet
}

// New creates a Controller. Config defaults are applied automatically.
// perms may be nil when the capture method needs no permission.
func New(cfg Config, probe CapabilityProbe, perms PermissionRequester, factory ProviderFactory, logger *slog.Logger) *Controller {
	cfg.ApplyDefaults()
	strategy, err := link.ParseStrategy(cfg.Strategy)
	if err != nil {
		strategy = link.DefaultStrategy
	}
	c := &Controller{
		cfg:      cfg,
		probe:    probe,
		perms:    perms,
		factory:  factory,
		logger:   logger.With("component", "controller"),
		ops:      make(chan op),
		notify:   make(chan struct{}, 1),
		stopped:  make(chan struct{}),
		strategy: strategy,
		retries:  newRetrySet(cfg.RetryBase, cfg.RetryMax),
	}
	c.snap.Store(&Snapshot{State: StateUninitialized, Strategy: strategy, Links: []link.Link{}})
	return c
}

// Start launches the controller goroutine. It runs until ctx is cancelled
// or Stop is called.
func (c *Controller) Start(ctx context.Context) error {
	if !c.started.CompareAndSwap(false, true) {
		return errors.New("controller: already started")
	}
	ctx, c.cancel = context.WithCancel(ctx)
	go c.loop(ctx)
	return nil
}

// Stop ends the controller goroutine and releases the active provider.
// It is safe to call more than once.
func (c *Controller) Stop() {
	c.stopOnce.Do(func() {
		if !c.started.Load() {
			return
		}
		c.cancel()
		<-c.stopped

		c.teardown()
		c.state = StateDisconnected
		c.publish()
		c.logger.Info("controller stopped")
	})
}

func (c *Controller) loop(ctx context.Context) {
	defer close(c.stopped)

	ticker := time.NewTicker(c.cfg.RefreshInterval)
	defer ticker.Stop()

	for {
		var retryC <-chan time.Time
		if d, ok := c.retries.next(time.Now()); ok {
			retryC = time.After(d)
		}

		select {
		case <-ctx.Done():
			return
		case o := <-c.ops:
			o.fn(ctx)
			close(o.done)
		case <-c.notify:
			c.handleEvents(ctx)
		case <-ticker.C:
			c.refresh(ctx)
		case <-retryC:
			c.retryDue(ctx)
		}
	}
}

// do runs fn on the controller goroutine and waits for it. ctx bounds only
// the queuing: once queued, fn runs to completion under the controller's own
// context. It returns false when fn could not be queued.
func (c *Controller) do(ctx context.Context, fn func(ctx context.Context)) bool {
	if !c.started.Load() {
		c.logger.Warn("operation rejected, controller not started")
		return false
	}
	o := op{fn: fn, done: make(chan struct{})}
	select {
	case c.ops <- o:
	case <-c.stopped:
		return false
	case <-ctx.Done():
		return false
	}
	<-o.done
	return true
}

// bounded runs fn with a timeout. A call that ignores cancellation is
// abandoned; abandon runs once it finally returns.
func bounded(ctx context.Context, d time.Duration, fn func(context.Context) error, abandon func()) error {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- fn(ctx) }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		// fn may have returned at the deadline.
		select {
		case err := <-done:
			return err
		default:
		}
		go func() {
			<-done
			if abandon != nil {
				abandon()
			}
		}()
		return fmt.Errorf("%w: %w", errAbandoned, ctx.Err())
	}
}

// Initialize activates preferred, falling back along Native, Capture, Proxy.
// An empty preferred uses the probe's recommendation. It reports whether any
// method became active.
func (c *Controller) Initialize(ctx context.Context, preferred link.Method) bool {
	var ok bool
	c.do(ctx, func(ctx context.Context) { ok = c.initialize(ctx, preferred) })
	return ok
}

// Connect connects links through the active method. It reports whether at
// least one of them is connected afterwards.
func (c *Controller) Connect(ctx context.Context, links []link.Link) bool {
	var ok bool
	c.do(ctx, func(ctx context.Context) { ok = c.connect(ctx, links) })
	return ok
}

// Disconnect tears down every link and marks the controller disconnected,
// even when no link was connected. It returns false without side effects
// when no method is active or the controller is already disconnected.
func (c *Controller) Disconnect(ctx context.Context) bool {
	var ok bool
	c.do(ctx, func(ctx context.Context) { ok = c.disconnect(ctx) })
	return ok
}

// SwitchMethod replaces the active method with m, using the same fallback as
// Initialize, and reconnects the previously requested links still present.
func (c *Controller) SwitchMethod(ctx context.Context, m link.Method) bool {
	var ok bool
	c.do(ctx, func(ctx context.Context) { ok = c.switchMethod(ctx, m) })
	return ok
}

// SetStrategy changes the allocation strategy and recomputes immediately.
func (c *Controller) SetStrategy(ctx context.Context, s link.Strategy) bool {
	return c.do(ctx, func(context.Context) { c.setStrategy(s) })
}

// Scan lists the links the active method could connect.
func (c *Controller) Scan(ctx context.Context) []link.Link {
	var links []link.Link
	c.do(ctx, func(ctx context.Context) {
		var err error
		if links, err = c.scan(ctx); err != nil {
			c.logger.Warn("scan failed", "error", err)
		}
	})
	return links
}

// Status returns the latest snapshot.
func (c *Controller) Status() Snapshot {
	s := *c.snap.Load()
	s.Links = link.CloneAll(s.Links)
	s.Retrying = slices.Clone(s.Retrying)
	return s
}

// State returns the current lifecycle state.
func (c *Controller) State() State { return c.snap.Load().State }

// Method returns the active or last attempted method.
func (c *Controller) Method() link.Method { return c.snap.Load().Method }

// Strategy returns the allocation strategy.
func (c *Controller) Strategy() link.Strategy { return c.snap.Load().Strategy }

// Capabilities returns the probed host capabilities.
func (c *Controller) Capabilities() link.Capabilities { return c.snap.Load().Capabilities }

// ConnectedLinks returns the connected links with their allocations.
func (c *Controller) ConnectedLinks() []link.Link { return link.CloneAll(c.snap.Load().Links) }

// CombinedSpeed returns the sum of the connected links' speeds.
func (c *Controller) CombinedSpeed() float64 { return c.snap.Load().CombinedSpeed }

// AddListener registers l for change notifications.
func (c *Controller) AddListener(l Listener) {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()
	c.listeners = append(c.listeners, l)
}

// RemoveListener unregisters l. Listeners are matched by identity, so only
// comparable values such as pointers can be removed.
func (c *Controller) RemoveListener(l Listener) {
	if l == nil || !reflect.TypeOf(l).Comparable() {
		c.logger.Warn("listener not removable, type is not comparable", "type", fmt.Sprintf("%T", l))
		return
	}
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()
	c.listeners = slices.DeleteFunc(c.listeners, func(x Listener) bool { return x == l })
}

func (c *Controller) initialize(ctx context.Context, preferred link.Method) bool {
	c.teardown()
	c.state = StateProbing
	c.publish()

	if !c.probed {
		c.caps = c.probe.Detect(ctx)
		if c.caps.RecommendedMethod == "" {
			c.caps.RecommendedMethod = c.caps.Recommend()
		}
		c.probed = true
		c.logger.Info("capabilities detected",
			"native", c.caps.NativeSupported,
			"adapter", c.caps.AdapterSupported,
			"cellular", c.caps.CellularAvailable,
			"recommended", c.caps.RecommendedMethod,
		)
	}
	if preferred == "" {
		preferred = c.caps.RecommendedMethod
	}

	for _, m := range fallbackOrder(preferred) {
		if !c.caps.Supports(m) {
			c.logger.Info("method unsupported on this host, skipping", "method", m)
			continue
		}
		if err := c.activate(ctx, m); err != nil {
			c.logger.Warn("method failed to initialize, falling back", "method", m, "error", err)
			c.state, c.method = StateDegraded, m
			c.publish()
			continue
		}
		c.state, c.method = StateActive, m
		c.publish()
		c.logger.Info("bonding method active", "method", m)
		return true
	}
	c.logger.Error("no bonding method could be initialized")
	return false
}

// fallbackOrder returns preferred followed by the fallback chain without repeats.
func fallbackOrder(preferred link.Method) []link.Method {
	order := []link.Method{preferred}
	for _, m := range fallbackChain {
		if m != preferred {
			order = append(order, m)
		}
	}
	return order
}

func (c *Controller) activate(ctx context.Context, m link.Method) error {
	if m == link.MethodCapture && !c.capturePermitted(ctx) {
		return fmt.Errorf("controller: capture: %w", link.ErrPermissionDenied)
	}
	p, err := c.factory.New(m)
	if err != nil {
		return err
	}
	err = bounded(ctx, c.cfg.InitTimeout, p.Initialize, func() { p.Cleanup() })
	if err != nil {
		if !errors.Is(err, errAbandoned) {
			if cerr := p.Cleanup(); cerr != nil {
				c.logger.Warn("cleanup after failed initialize", "method", m, "error", cerr)
			}
		}
		return err
	}

	p.SetEventHandler(c.enqueueEvent)
	if s, ok := p.(provider.StrategySetter); ok {
		s.SetStrategy(c.strategy)
	}
	c.provider = p
	return nil
}

func (c *Controller) capturePermitted(ctx context.Context) bool {
	if c.perms == nil {
		return true
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.InitTimeout)
	defer cancel()
	select {
	case granted, ok := <-c.perms.RequestCapturePermission(ctx):
		return ok && granted
	case <-ctx.Done():
		return false
	}
}

// teardown releases the active provider and forgets its links.
func (c *Controller) teardown() {
	p := c.provider
	c.provider = nil
	c.links = nil
	c.retries.reset()
	if p == nil {
		return
	}
	if err := p.Cleanup(); err != nil {
		c.logger.Warn("provider cleanup failed", "method", p.Method(), "error", err)
	}
}

// connectLinks calls the provider under the connect timeout.
func (c *Controller) connectLinks(ctx context.Context, links []link.Link) ([]link.Link, error) {
	p := c.provider
	var connected []link.Link
	err := bounded(ctx, c.cfg.ConnectTimeout, func(ctx context.Context) error {
		var err error
		connected, err = p.Connect(ctx, links)
		return err
	}, nil)
	if errors.Is(err, errAbandoned) {
		return nil, err
	}
	return connected, err
}

func (c *Controller) connect(ctx context.Context, links []link.Link) bool {
	if c.provider == nil {
		c.logger.Warn("connect rejected, no active method")
		return false
	}
	if len(links) == 0 {
		return false
	}
	c.remember(links)

	connected, err := c.connectLinks(ctx, links)
	if err != nil {
		c.logger.Warn("some links failed to connect", "error", err)
	}

	ok := false
	for _, l := range connected {
		c.retries.remove(l.ID)
		if containsID(links, l.ID) {
			ok = true
		}
	}
	if ok && c.state == StateDisconnected {
		c.state = StateActive
	}
	c.rebalance()
	c.publish()
	return ok
}

// remember merges links into the requested set used for reconnects.
func (c *Controller) remember(links []link.Link) {
	for _, l := range links {
		if !containsID(c.requested, l.ID) {
			c.requested = append(c.requested, l.Clone())
		}
	}
}

func (c *Controller) disconnect(ctx context.Context) bool {
	if c.provider == nil || c.state == StateDisconnected {
		return false
	}
	if err := c.provider.Disconnect(ctx); err != nil {
		c.logger.Warn("provider disconnect failed", "error", err)
	}
	c.requested = nil
	c.links = nil
	c.retries.reset()
	c.state = StateDisconnected
	c.publish()
	c.logger.Info("disconnected")
	return true
}

func (c *Controller) switchMethod(ctx context.Context, m link.Method) bool {
	previous := c.requested
	c.requested = nil
	c.state = StateReconfiguring
	c.teardown()
	c.publish()

	if !c.initialize(ctx, m) {
		return false
	}
	if len(previous) == 0 {
		return true
	}

	available, err := c.scan(ctx)
	if err != nil {
		c.logger.Warn("scan after method switch failed", "error", err)
		return true
	}
	var keep []link.Link
	for _, l := range previous {
		if containsID(available, l.ID) {
			keep = append(keep, l)
		}
	}
	if len(keep) == 0 {
		c.logger.Info("no previously requested links available after switch", "method", c.method)
		return true
	}
	c.connect(ctx, keep)
	return true
}

func (c *Controller) setStrategy(s link.Strategy) {
	c.strategy = s
	if setter, ok := c.provider.(provider.StrategySetter); ok {
		setter.SetStrategy(s)
	}
	c.rebalance()
	c.publish()
	c.logger.Info("allocation strategy changed", "strategy", s)
}

func (c *Controller) scan(ctx context.Context) ([]link.Link, error) {
	if c.provider == nil {
		return nil, errors.New("controller: scan: no active method")
	}
	return c.provider.Scan(ctx)
}

// enqueueEvent is the provider event handler. It never blocks, so providers
// may call it from any goroutine, including the controller's own.
func (c *Controller) enqueueEvent(ev link.Event) {
	c.eventsMu.Lock()
	c.events = append(c.events, ev)
	c.eventsMu.Unlock()
	select {
	case c.notify <- struct{}{}:
	default:
	}
}

func (c *Controller) handleEvents(ctx context.Context) {
	c.eventsMu.Lock()
	events := c.events
	c.events = nil
	c.eventsMu.Unlock()

	for _, ev := range events {
		// Events from a provider that was replaced are stale.
		if c.provider == nil || (ev.Link.Method != "" && ev.Link.Method != c.method) {
			continue
		}
		switch ev.Kind {
		case link.EventLost:
			c.logger.Warn("link lost", "link_id", ev.Link.ID, "error", ev.Err)
			if containsID(c.requested, ev.Link.ID) {
				c.retries.schedule(ev.Link, time.Now())
			}
		case link.EventAvailable:
			if !containsID(c.requested, ev.Link.ID) || containsID(c.provider.ConnectedLinks(), ev.Link.ID) {
				continue
			}
			c.logger.Info("link available again, reconnecting", "link_id", ev.Link.ID)
			connected, err := c.connectLinks(ctx, []link.Link{ev.Link})
			if containsID(connected, ev.Link.ID) {
				c.retries.remove(ev.Link.ID)
				continue
			}
			// Left to the retry schedule.
			c.logger.Warn("reconnect failed", "link_id", ev.Link.ID, "error", err)
		}
	}
	c.rebalance()
	c.publish()
}

func (c *Controller) refresh(ctx context.Context) {
	if c.provider == nil || c.state != StateActive {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.RefreshInterval)
	defer cancel()
	if err := c.provider.RefreshMetrics(ctx); err != nil {
		c.logger.Warn("metrics refresh failed", "error", err)
	}
	c.rebalance()
	c.publish()
}

func (c *Controller) retryDue(ctx context.Context) {
	if c.provider == nil {
		c.retries.reset()
		return
	}
	now := time.Now()
	for _, l := range c.retries.dueAt(now) {
		connected, err := c.connectLinks(ctx, []link.Link{l})
		if containsID(connected, l.ID) {
			c.logger.Info("lost link reconnected", "link_id", l.ID)
			c.retries.remove(l.ID)
			continue
		}
		c.logger.Debug("link reconnect failed", "link_id", l.ID, "error", err)
		c.retries.backoff(l.ID, now)
	}
	c.rebalance()
	c.publish()
}

// rebalance recomputes allocations over the provider's connected links and
// pushes them into its data path.
func (c *Controller) rebalance() {
	if c.provider == nil {
		c.links = nil
		return
	}
	links := allocation.Compute(c.provider.ConnectedLinks(), c.strategy)
	if err := c.provider.ApplyAllocation(links); err != nil {
		c.logger.Warn("apply allocation failed", "error", err)
	}
	c.links = links
}

// publish swaps in a new snapshot and notifies listeners of what changed.
func (c *Controller) publish() {
	next := &Snapshot{
		State:         c.state,
		Method:        c.method,
		Strategy:      c.strategy,
		Capabilities:  c.caps,
		Links:         link.CloneAll(c.links),
		CombinedSpeed: link.TotalSpeed(c.links),
		Connected:     c.state == StateActive && len(c.links) > 0,
		Retrying:      c.retries.ids(),
		UpdatedAt:     time.Now(),
	}
	prev := c.snap.Swap(next)

	c.listenersMu.Lock()
	listeners := slices.Clone(c.listeners)
	c.listenersMu.Unlock()

	for _, l := range listeners {
		if prev.Connected != next.Connected {
			l.OnStatusChanged(next.Connected)
		}
		if !linksEqual(prev.Links, next.Links) {
			l.OnLinksUpdated(link.CloneAll(next.Links))
		}
		if prev.CombinedSpeed != next.CombinedSpeed {
			l.OnSpeedChanged(next.CombinedSpeed)
		}
	}
}

func containsID(links []link.Link, id string) bool {
	return slices.ContainsFunc(links, func(l link.Link) bool { return l.ID == id })
}
