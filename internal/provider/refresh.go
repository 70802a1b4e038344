package provider

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/plexsphere/bondd/internal/link"
	"github.com/plexsphere/bondd/internal/netif"
)

// errLinkGone is the loss cause for links whose interface vanished or went down.
var errLinkGone = errors.New("interface no longer usable")

// refreshed is the outcome of re-reading the host for a set of connected links.
type refreshed struct {
	// updated holds the surviving links with fresh speed and latency.
	updated []link.Link
	// lost holds the IDs of links that no longer qualify.
	lost []string
	// ifaces maps each surviving link ID to its current interface.
	ifaces map[string]netif.Interface
	// available holds watched links whose interface qualifies again.
	available []link.Link
}

// ifaceName returns the OS interface backing a requested link.
func ifaceName(l link.Link) string {
	if l.Interface != "" {
		return l.Interface
	}
	return l.ID
}

// refreshLinks re-reads host and re-measures connected. A failed latency
// probe keeps the previously known latency. Watched links whose interface
// qualifies again are reported as available.
func refreshLinks(ctx context.Context, host netif.Host, method link.Method, connected, watched []link.Link,
	eligible func(netif.Interface) bool, measure func(context.Context, *link.Link) error,
	logger *slog.Logger,
) (refreshed, error) {
	var res refreshed
	if len(connected) == 0 && len(watched) == 0 {
		return res, nil
	}
	ifaces, err := host.Interfaces(ctx)
	if err != nil {
		return res, err
	}

	res.ifaces = make(map[string]netif.Interface, len(connected))
	for _, l := range connected {
		iface, ok := netif.ByName(ifaces, ifaceName(l))
		if !ok || !eligible(iface) {
			res.lost = append(res.lost, l.ID)
			continue
		}
		fresh := iface.Link(method)
		fresh.ID = l.ID
		fresh.LatencyMs = l.LatencyMs
		if err := measure(ctx, &fresh); err != nil {
			logger.Debug("latency probe failed", "link_id", l.ID, "error", err)
		}
		res.updated = append(res.updated, fresh)
		res.ifaces[l.ID] = iface
	}
	for _, l := range watched {
		iface, ok := netif.ByName(ifaces, ifaceName(l))
		if !ok || !eligible(iface) {
			continue
		}
		back := iface.Link(method)
		back.ID = l.ID
		back.Connected = false
		res.available = append(res.available, back)
	}
	return res, nil
}

// lostWatch remembers links lost with their interface until it returns.
type lostWatch struct {
	mu    sync.Mutex
	links map[string]link.Link
}

func (w *lostWatch) add(l link.Link) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.links == nil {
		w.links = make(map[string]link.Link)
	}
	w.links[l.ID] = l.Clone()
}

func (w *lostWatch) drop(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.links, id)
}

func (w *lostWatch) reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	clear(w.links)
}

func (w *lostWatch) list() []link.Link {
	w.mu.Lock()
	out := make([]link.Link, 0, len(w.links))
	for _, l := range w.links {
		out = append(out, l.Clone())
	}
	w.mu.Unlock()
	link.SortByID(out)
	return out
}
