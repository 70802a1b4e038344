//go:build linux

package netif

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"syscall"

	"github.com/vishvananda/netlink"
)

// NetlinkMultipathRouter implements MultipathRouter using netlink ECMP routes
// with per-nexthop weights.
type NetlinkMultipathRouter struct {
	logger *slog.Logger
}

// NewNetlinkMultipathRouter returns a new NetlinkMultipathRouter.
func NewNetlinkMultipathRouter(logger *slog.Logger) *NetlinkMultipathRouter {
	return &NetlinkMultipathRouter{logger: logger.With("component", "netif")}
}

func defaultV4() *net.IPNet {
	return &net.IPNet{IP: net.IPv4zero, Mask: net.CIDRMask(0, 32)}
}

// SetMultipath replaces the default route in table with weighted next hops.
func (r *NetlinkMultipathRouter) SetMultipath(table int, hops []NextHop) error {
	if len(hops) == 0 {
		return r.ClearMultipath(table)
	}

	route := &netlink.Route{Dst: defaultV4(), Table: table}
	for _, h := range hops {
		l, err := netlink.LinkByName(h.Interface)
		if err != nil {
			return fmt.Errorf("netif: set multipath: lookup %q: %w", h.Interface, err)
		}
		// The kernel stores weight-1 in rtnh_hops.
		route.MultiPath = append(route.MultiPath, &netlink.NexthopInfo{
			LinkIndex: l.Attrs().Index,
			Gw:        h.Gateway,
			Hops:      clampWeight(h.Weight) - 1,
		})
	}

	if err := netlink.RouteReplace(route); err != nil {
		return fmt.Errorf("netif: set multipath in table %d: %w", table, err)
	}

	r.logger.Debug("multipath route programmed", "table", table, "hops", len(hops))
	return nil
}

// ClearMultipath removes the default route from table.
func (r *NetlinkMultipathRouter) ClearMultipath(table int) error {
	err := netlink.RouteDel(&netlink.Route{Dst: defaultV4(), Table: table})
	if err != nil && !errors.Is(err, syscall.ESRCH) {
		return fmt.Errorf("netif: clear multipath in table %d: %w", table, err)
	}
	r.logger.Debug("multipath route cleared", "table", table)
	return nil
}

// AddRule installs a policy rule directing IPv4 lookups to table.
// Adding an existing rule returns nil.
func (r *NetlinkMultipathRouter) AddRule(table, priority int) error {
	rule := netlink.NewRule()
	rule.Family = netlink.FAMILY_V4
	rule.Table = table
	rule.Priority = priority
	if err := netlink.RuleAdd(rule); err != nil && !errors.Is(err, syscall.EEXIST) {
		return fmt.Errorf("netif: add rule for table %d: %w", table, err)
	}
	return nil
}

// DelRule removes the policy rule installed by AddRule.
// Removing a non-existent rule returns nil.
func (r *NetlinkMultipathRouter) DelRule(table, priority int) error {
	rule := netlink.NewRule()
	rule.Family = netlink.FAMILY_V4
	rule.Table = table
	rule.Priority = priority
	err := netlink.RuleDel(rule)
	if err != nil && !errors.Is(err, syscall.ENOENT) && !errors.Is(err, syscall.ESRCH) {
		return fmt.Errorf("netif: delete rule for table %d: %w", table, err)
	}
	return nil
}
