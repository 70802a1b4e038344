//go:build linux

package dispatch

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"syscall"

	"github.com/google/nftables"
	"github.com/google/nftables/binaryutil"
	"github.com/google/nftables/expr"
	"github.com/vishvananda/netlink"

	"github.com/plexsphere/bondd/internal/netif"
)

// captureTableName is the nftables table that marks bondd's own traffic.
const captureTableName = "bondd-capture"

// captureChainName is the route-type output chain in captureTableName.
const captureChainName = "output"

// NetlinkCaptureRouter implements Router with a policy rule sending every
// packet without the bypass mark to a table whose default route is the
// capture device, and an nftables output chain that sets the bypass mark on
// packets originated by bondd's UID. When bondd runs as root no chain is
// installed, since matching UID 0 would exempt every root process; bondd's
// sockets then rely on SO_MARK alone.
type NetlinkCaptureRouter struct {
	table    int
	priority int
	uid      uint32
	logger   *slog.Logger
}

// NewNetlinkCaptureRouter returns a router using cfg's table and rule priority
// that exempts traffic of the current process UID.
func NewNetlinkCaptureRouter(cfg Config, logger *slog.Logger) *NetlinkCaptureRouter {
	cfg.ApplyDefaults()
	return &NetlinkCaptureRouter{
		table:    cfg.RouteTable,
		priority: cfg.RulePriority,
		uid:      uint32(os.Getuid()),
		logger:   logger.With("component", "dispatch"),
	}
}

// Install programs the bypass marking, the capture route and the policy rule,
// in that order so bondd's own sockets are exempt before capture begins.
// Whatever was programmed is removed again when a later step fails.
func (r *NetlinkCaptureRouter) Install(device string) error {
	if err := r.install(device); err != nil {
		if rerr := r.Remove(); rerr != nil {
			r.logger.Warn("rollback of partial capture routing failed", "error", rerr)
		}
		return err
	}
	r.logger.Info("capture routing installed",
		"device", device,
		"table", r.table,
		"uid", r.uid,
	)
	return nil
}

func (r *NetlinkCaptureRouter) install(device string) error {
	if err := r.installBypass(); err != nil {
		return fmt.Errorf("dispatch: install capture routing: %w", err)
	}

	l, err := netlink.LinkByName(device)
	if err != nil {
		return fmt.Errorf("dispatch: install capture routing: lookup %q: %w", device, err)
	}
	route := &netlink.Route{
		Dst:       &net.IPNet{IP: net.IPv4zero, Mask: net.CIDRMask(0, 32)},
		LinkIndex: l.Attrs().Index,
		Scope:     netlink.SCOPE_LINK,
		Table:     r.table,
	}
	if err := netlink.RouteReplace(route); err != nil {
		return fmt.Errorf("dispatch: install capture routing: route via %q: %w", device, err)
	}

	if err := netlink.RuleAdd(r.rule()); err != nil && !errors.Is(err, syscall.EEXIST) {
		return fmt.Errorf("dispatch: install capture routing: rule: %w", err)
	}
	return nil
}

// Remove deletes the policy rule, the capture route and the nftables table.
// Missing pieces are ignored.
func (r *NetlinkCaptureRouter) Remove() error {
	var errs []error

	if err := netlink.RuleDel(r.rule()); err != nil && !errors.Is(err, syscall.ENOENT) && !errors.Is(err, syscall.ESRCH) {
		errs = append(errs, fmt.Errorf("rule: %w", err))
	}
	route := &netlink.Route{
		Dst:   &net.IPNet{IP: net.IPv4zero, Mask: net.CIDRMask(0, 32)},
		Table: r.table,
	}
	if err := netlink.RouteDel(route); err != nil && !errors.Is(err, syscall.ESRCH) {
		errs = append(errs, fmt.Errorf("route: %w", err))
	}
	if err := r.removeBypass(); err != nil {
		errs = append(errs, err)
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("dispatch: remove capture routing: %w", err)
	}
	r.logger.Info("capture routing removed", "table", r.table)
	return nil
}

// rule matches every IPv4 packet not carrying the bypass mark.
func (r *NetlinkCaptureRouter) rule() *netlink.Rule {
	rule := netlink.NewRule()
	rule.Family = netlink.FAMILY_V4
	rule.Table = r.table
	rule.Priority = r.priority
	rule.Mark = netif.BypassMark
	rule.Invert = true
	return rule
}

// bypassExprs returns the nftables rule marking packets of uid, or nil for
// root.
func bypassExprs(uid uint32) []expr.Any {
	if uid == 0 {
		return nil
	}
	// nft equivalent: meta skuid <uid> meta mark set <bypass>
	return []expr.Any{
		&expr.Meta{Key: expr.MetaKeySKUID, Register: 1},
		&expr.Cmp{
			Op:       expr.CmpOpEq,
			Register: 1,
			Data:     binaryutil.NativeEndian.PutUint32(uid),
		},
		&expr.Immediate{
			Register: 1,
			Data:     binaryutil.NativeEndian.PutUint32(netif.BypassMark),
		},
		&expr.Meta{Key: expr.MetaKeyMARK, SourceRegister: true, Register: 1},
		&expr.Counter{},
	}
}

// installBypass creates the route-type output chain marking bondd's packets.
// The chain is flushed first so repeated installs do not duplicate the rule.
func (r *NetlinkCaptureRouter) installBypass() error {
	exprs := bypassExprs(r.uid)
	if exprs == nil {
		r.logger.Warn("running as root, bypass chain skipped; only SO_MARK exempts bondd sockets")
		return nil
	}
	conn, err := nftables.New()
	if err != nil {
		return fmt.Errorf("nftables: %w", err)
	}

	table := conn.AddTable(&nftables.Table{
		Family: nftables.TableFamilyIPv4,
		Name:   captureTableName,
	})
	chain := conn.AddChain(&nftables.Chain{
		Name:     captureChainName,
		Table:    table,
		Type:     nftables.ChainTypeRoute,
		Hooknum:  nftables.ChainHookOutput,
		Priority: nftables.ChainPriorityMangle,
	})
	conn.FlushChain(chain)
	conn.AddRule(&nftables.Rule{Table: table, Chain: chain, Exprs: exprs})

	if err := conn.Flush(); err != nil {
		return fmt.Errorf("nftables: install bypass chain: %w", err)
	}
	return nil
}

// removeBypass deletes the capture nftables table if present.
func (r *NetlinkCaptureRouter) removeBypass() error {
	conn, err := nftables.New()
	if err != nil {
		return fmt.Errorf("nftables: %w", err)
	}
	tables, err := conn.ListTablesOfFamily(nftables.TableFamilyIPv4)
	if err != nil {
		return fmt.Errorf("nftables: list tables: %w", err)
	}
	for _, t := range tables {
		if t.Name == captureTableName {
			conn.DelTable(t)
			if err := conn.Flush(); err != nil {
				return fmt.Errorf("nftables: remove bypass table: %w", err)
			}
			return nil
		}
	}
	return nil
}
