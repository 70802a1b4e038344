package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/plexsphere/bondd/internal/allocation"
	"github.com/plexsphere/bondd/internal/link"
)

// ErrClosed is returned by operations on a closed Dispatcher.
var ErrClosed = errors.New("dispatch: dispatcher closed")

// Dispatcher reads packets from the capture device and schedules each onto
// one of the per-link tunnels.
type Dispatcher struct {
	cfg       Config
	device    Device
	transport Transport
	sched     *Scheduler
	logger    *slog.Logger

	mu       sync.Mutex
	links    map[string]link.Link
	tunnels  map[string]*tunnel
	strategy link.Strategy
	handler  func(link.Event)
	closed   bool

	wg          sync.WaitGroup
	done        chan struct{}
	closeOnce   sync.Once
	deviceOnce  sync.Once
	deviceClose error

	dropped   atomic.Uint64
	malformed atomic.Uint64
	captured  atomic.Uint64
}

// New creates a Dispatcher over an already opened device. Config defaults
// are applied automatically.
func New(cfg Config, device Device, transport Transport, logger *slog.Logger) *Dispatcher {
	cfg.ApplyDefaults()
	return &Dispatcher{
		cfg:       cfg,
		device:    device,
		transport: transport,
		sched:     NewScheduler(),
		logger:    logger.With("component", "dispatch"),
		links:     make(map[string]link.Link),
		tunnels:   make(map[string]*tunnel),
		strategy:  link.DefaultStrategy,
		done:      make(chan struct{}),
	}
}

// SetEventHandler registers fn to receive link loss events. fn is called
// without internal locks held and must not block for long.
func (d *Dispatcher) SetEventHandler(fn func(link.Event)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handler = fn
}

// SetStrategy changes the allocation strategy and rebalances immediately.
func (d *Dispatcher) SetStrategy(s link.Strategy) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.strategy = s
	d.rebalanceLocked()
}

// AddLink opens a tunnel over l and starts scheduling packets onto it.
// Adding an already connected link is a no-op.
func (d *Dispatcher) AddLink(ctx context.Context, l link.Link) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrClosed
	}
	if _, ok := d.tunnels[l.ID]; ok {
		d.mu.Unlock()
		return nil
	}
	d.mu.Unlock()

	conn, err := d.transport.Open(ctx, l)
	if err != nil {
		return link.EstablishError(l.ID, err)
	}
	t := newTunnel(l, conn, d.cfg.QueueSize, d.cfg.MTU)

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		conn.Close()
		return ErrClosed
	}
	if _, ok := d.tunnels[l.ID]; ok {
		d.mu.Unlock()
		conn.Close()
		return nil
	}
	l = l.Clone()
	l.Connected = true
	d.links[l.ID] = l
	d.tunnels[l.ID] = t
	d.wg.Add(2)
	go func() {
		defer d.wg.Done()
		t.writeLoop(d.tunnelFailed)
	}()
	go func() {
		defer d.wg.Done()
		t.readLoop(d.deliver, d.tunnelFailed)
	}()
	d.rebalanceLocked()
	d.mu.Unlock()

	d.logger.Info("tunnel started", "link_id", l.ID, "instance", t.instance.String())
	return nil
}

// RemoveLink stops the tunnel of id and rebalances the remaining links.
// It reports whether the link was connected.
func (d *Dispatcher) RemoveLink(id string) bool {
	d.mu.Lock()
	t, ok := d.tunnels[id]
	if ok {
		delete(d.tunnels, id)
		delete(d.links, id)
		d.rebalanceLocked()
	}
	d.mu.Unlock()

	if !ok {
		return false
	}
	t.stop()
	d.logger.Info("tunnel stopped", "link_id", id)
	return true
}

// SetAllocations refreshes the metrics of known links from links and
// recomputes the allocation with the current strategy. Unknown IDs are ignored.
func (d *Dispatcher) SetAllocations(links []link.Link) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, l := range links {
		cur, ok := d.links[l.ID]
		if !ok {
			continue
		}
		cur.SpeedMbps = l.SpeedMbps
		cur.LatencyMs = l.LatencyMs
		if l.SignalStrength != nil {
			s := *l.SignalStrength
			cur.SignalStrength = &s
		}
		d.links[l.ID] = cur
	}
	d.rebalanceLocked()
}

// rebalanceLocked recomputes allocations for the connected links and pushes
// them to the scheduler. Must be called with d.mu held.
func (d *Dispatcher) rebalanceLocked() {
	current := make([]link.Link, 0, len(d.links))
	for _, l := range d.links {
		current = append(current, l)
	}
	link.SortByID(current)

	allocs := make(map[string]float64, len(current))
	for _, l := range allocation.Compute(current, d.strategy) {
		d.links[l.ID] = l
		allocs[l.ID] = l.AllocationPercentage
	}
	d.sched.Set(allocs)
}

// tunnelFailed treats a transport error as loss of the tunnel's link.
func (d *Dispatcher) tunnelFailed(t *tunnel, cause error) {
	d.mu.Lock()
	if d.tunnels[t.id] != t {
		d.mu.Unlock()
		return
	}
	l := d.links[t.id]
	delete(d.tunnels, t.id)
	delete(d.links, t.id)
	d.rebalanceLocked()
	handler := d.handler
	d.mu.Unlock()

	t.stop()
	l.Connected = false
	l.AllocationPercentage = 0

	err := &link.LinkError{LinkID: l.ID, Err: errors.Join(link.ErrTunnelIO, cause)}
	d.logger.Warn("tunnel failed, link lost", "link_id", l.ID, "error", cause)
	if handler != nil {
		handler(link.Event{Kind: link.EventLost, Link: l, Err: err})
	}
}

// deliver writes an inbound packet to the device.
func (d *Dispatcher) deliver(pkt []byte) {
	if _, err := d.device.Write(pkt); err != nil {
		d.logger.Debug("inbound write failed", "error", err)
	}
}

// Run reads the device until ctx is cancelled, Close is called, or the
// device fails. A device failure is returned wrapping link.ErrVirtualInterface.
func (d *Dispatcher) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return d.captureLoop(ctx)
	})
	g.Go(func() error {
		select {
		case <-ctx.Done():
			d.closeDevice()
		case <-d.done:
		}
		return nil
	})
	return g.Wait()
}

func (d *Dispatcher) captureLoop(ctx context.Context) error {
	buf := make([]byte, d.cfg.MTU+64)
	for {
		n, err := d.device.Read(buf)
		if err != nil {
			if ctx.Err() != nil || d.isClosed() {
				return nil
			}
			return fmt.Errorf("dispatch: capture: %w", errors.Join(link.ErrVirtualInterface, err))
		}
		d.Dispatch(buf[:n])
	}
}

// Dispatch schedules one captured packet. pkt is copied before queueing.
func (d *Dispatcher) Dispatch(pkt []byte) {
	d.captured.Add(1)
	info, err := Classify(pkt)
	if err != nil {
		d.malformed.Add(1)
		return
	}

	id, ok := d.sched.Next()
	if !ok {
		d.dropped.Add(1)
		return
	}
	d.mu.Lock()
	t := d.tunnels[id]
	d.mu.Unlock()
	if t == nil {
		d.dropped.Add(1)
		return
	}

	cp := make([]byte, info.Length)
	copy(cp, pkt[:info.Length])
	if !t.enqueue(cp) {
		d.dropped.Add(1)
	}
}

// ConnectedLinks returns the links with open tunnels, sorted by ID.
func (d *Dispatcher) ConnectedLinks() []link.Link {
	d.mu.Lock()
	out := make([]link.Link, 0, len(d.links))
	for _, l := range d.links {
		out = append(out, l.Clone())
	}
	d.mu.Unlock()
	link.SortByID(out)
	return out
}

// Stats returns per-tunnel counters sorted by link ID.
func (d *Dispatcher) Stats() []TunnelStats {
	d.mu.Lock()
	out := make([]TunnelStats, 0, len(d.tunnels))
	for id, t := range d.tunnels {
		out = append(out, t.stats(d.links[id].AllocationPercentage))
	}
	d.mu.Unlock()
	sortStats(out)
	return out
}

// Dropped returns the number of packets dropped for lack of a tunnel or queue space.
func (d *Dispatcher) Dropped() uint64 { return d.dropped.Load() }

// Malformed returns the number of captured buffers that were not IP packets.
func (d *Dispatcher) Malformed() uint64 { return d.malformed.Load() }

// Captured returns the number of buffers read from the device.
func (d *Dispatcher) Captured() uint64 { return d.captured.Load() }

func (d *Dispatcher) isClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

func (d *Dispatcher) closeDevice() {
	d.deviceOnce.Do(func() {
		d.deviceClose = d.device.Close()
	})
}

// Close stops capturing, closes the device and every tunnel, and waits up to
// StopTimeout for the tunnel workers to exit.
func (d *Dispatcher) Close() error {
	var err error
	d.closeOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		tunnels := make([]*tunnel, 0, len(d.tunnels))
		for _, t := range d.tunnels {
			tunnels = append(tunnels, t)
		}
		clear(d.tunnels)
		clear(d.links)
		d.sched.Set(nil)
		d.mu.Unlock()

		close(d.done)
		d.closeDevice()
		for _, t := range tunnels {
			t.stop()
		}

		waitDone := make(chan struct{})
		go func() {
			d.wg.Wait()
			close(waitDone)
		}()
		select {
		case <-waitDone:
		case <-time.After(d.cfg.StopTimeout):
			err = fmt.Errorf("dispatch: close: workers did not stop within %s", d.cfg.StopTimeout)
			return
		}
		if d.deviceClose != nil {
			err = fmt.Errorf("dispatch: close device: %w", d.deviceClose)
		}
	})
	return err
}
