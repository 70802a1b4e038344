//go:build linux

package netif

import (
	"context"
	"fmt"
	"log/slog"
	"net"

	"github.com/vishvananda/netlink"
	"golang.zx2c4.com/wireguard/wgctrl"

	"github.com/plexsphere/bondd/internal/link"
)

// overlayLinkTypes are netlink link types that are never physical uplinks.
var overlayLinkTypes = map[string]bool{
	"wireguard": true,
	"tuntap":    true,
	"bridge":    true,
	"veth":      true,
	"dummy":     true,
	"vxlan":     true,
}

// NetlinkHost implements Host using Linux netlink, sysfs and wgctrl.
type NetlinkHost struct {
	cfg    Config
	fs     sysfs
	logger *slog.Logger
}

// NewNetlinkHost returns a new NetlinkHost. cfg must have defaults applied.
func NewNetlinkHost(cfg Config, logger *slog.Logger) *NetlinkHost {
	return &NetlinkHost{
		cfg:    cfg,
		fs:     sysfs{sysRoot: cfg.SysfsRoot, procRoot: cfg.ProcRoot},
		logger: logger.With("component", "netif"),
	}
}

// Interfaces enumerates non-loopback interfaces and classifies them.
func (h *NetlinkHost) Interfaces(ctx context.Context) ([]Interface, error) {
	links, err := netlink.LinkList()
	if err != nil {
		return nil, fmt.Errorf("netif: list interfaces: %w", err)
	}
	gateways, err := defaultGateways()
	if err != nil {
		return nil, fmt.Errorf("netif: list interfaces: %w", err)
	}

	excluded := make(map[string]bool, len(h.cfg.Exclude))
	for _, name := range h.cfg.Exclude {
		excluded[name] = true
	}
	wg := h.wireguardDevices()
	signals := h.fs.signals()

	var out []Interface
	for _, l := range links {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		attrs := l.Attrs()
		if attrs.Flags&net.FlagLoopback != 0 || excluded[attrs.Name] {
			continue
		}

		kind, usb, overlay := h.fs.classify(attrs.Name)
		iface := Interface{
			Name:      attrs.Name,
			Index:     attrs.Index,
			Kind:      kind,
			USB:       usb,
			Overlay:   overlay || overlayLinkTypes[l.Type()] || wg[attrs.Name],
			Up:        attrs.Flags&net.FlagUp != 0,
			Carrier:   attrs.OperState == netlink.OperUp || h.fs.carrier(attrs.Name),
			Gateway:   gateways[attrs.Index],
			SpeedMbps: h.fs.speed(attrs.Name),
		}
		if rssi, ok := signals[attrs.Name]; ok && kind == link.KindWiFi {
			iface.SignalStrength = &rssi
		}
		if kind == link.KindCellular {
			iface.Radio = link.RadioGeneration(h.cfg.CellularRadio)
		}
		out = append(out, iface)
	}

	h.logger.Debug("interfaces enumerated", "count", len(out))
	return out, nil
}

// SetUp brings the named interface up.
func (h *NetlinkHost) SetUp(name string) error {
	l, err := netlink.LinkByName(name)
	if err != nil {
		return fmt.Errorf("netif: set up %q: %w", name, err)
	}
	if err := netlink.LinkSetUp(l); err != nil {
		return fmt.Errorf("netif: set up %q: %w", name, err)
	}
	h.logger.Debug("interface brought up", "interface", name)
	return nil
}

// wireguardDevices returns the names of WireGuard devices known to wgctrl,
// including userspace implementations that appear as plain tun devices.
func (h *NetlinkHost) wireguardDevices() map[string]bool {
	client, err := wgctrl.New()
	if err != nil {
		h.logger.Debug("wgctrl unavailable", "error", err)
		return nil
	}
	defer client.Close()

	devices, err := client.Devices()
	if err != nil {
		h.logger.Debug("list wireguard devices failed", "error", err)
		return nil
	}
	out := make(map[string]bool, len(devices))
	for _, d := range devices {
		out[d.Name] = true
	}
	return out
}

// defaultGateways maps link indexes to the IPv4 default gateway in the main table.
func defaultGateways() (map[int]net.IP, error) {
	routes, err := netlink.RouteList(nil, netlink.FAMILY_V4)
	if err != nil {
		return nil, fmt.Errorf("list routes: %w", err)
	}
	out := make(map[int]net.IP)
	for _, r := range routes {
		if !isDefault(r.Dst) {
			continue
		}
		if r.Gw != nil {
			out[r.LinkIndex] = r.Gw
		}
		for _, nh := range r.MultiPath {
			if nh.Gw != nil {
				out[nh.LinkIndex] = nh.Gw
			}
		}
	}
	return out, nil
}

func isDefault(dst *net.IPNet) bool {
	if dst == nil {
		return true
	}
	ones, _ := dst.Mask.Size()
	return ones == 0 && dst.IP.IsUnspecified()
}
