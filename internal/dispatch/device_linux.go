//go:build linux

package dispatch

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/songgao/water"
	"github.com/vishvananda/netlink"

	"github.com/plexsphere/bondd/internal/link"
)

// OpenTUN creates the capture TUN device, assigns cfg.Address and brings it up.
// Failures wrap link.ErrVirtualInterface.
func OpenTUN(cfg Config, logger *slog.Logger) (Device, error) {
	cfg.ApplyDefaults()

	ifce, err := water.New(water.Config{
		DeviceType: water.TUN,
		PlatformSpecificParams: water.PlatformSpecificParams{
			Name: cfg.DeviceName,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("dispatch: open device %q: %w", cfg.DeviceName, errors.Join(link.ErrVirtualInterface, err))
	}

	if err := configureTUN(ifce.Name(), cfg); err != nil {
		ifce.Close()
		return nil, fmt.Errorf("dispatch: configure device %q: %w", ifce.Name(), errors.Join(link.ErrVirtualInterface, err))
	}

	logger.Info("capture device ready",
		"component", "dispatch",
		"device", ifce.Name(),
		"address", cfg.Address,
		"mtu", cfg.MTU,
	)
	return ifce, nil
}

func configureTUN(name string, cfg Config) error {
	l, err := netlink.LinkByName(name)
	if err != nil {
		return err
	}
	if err := netlink.LinkSetMTU(l, cfg.MTU); err != nil {
		return fmt.Errorf("set mtu: %w", err)
	}
	addr, err := netlink.ParseAddr(cfg.Address)
	if err != nil {
		return fmt.Errorf("parse address %q: %w", cfg.Address, err)
	}
	if err := netlink.AddrReplace(l, addr); err != nil {
		return fmt.Errorf("add address: %w", err)
	}
	if err := netlink.LinkSetUp(l); err != nil {
		return fmt.Errorf("set up: %w", err)
	}
	return nil
}
