//go:build linux

package netif

import (
	"context"
	"log/slog"

	"golang.org/x/sys/unix"
)

// capNetAdmin is the CAP_NET_ADMIN capability number.
const capNetAdmin = 12

// CapabilityPermission grants capture permission when the process holds
// CAP_NET_ADMIN in its effective set.
type CapabilityPermission struct {
	logger *slog.Logger
}

// NewCapabilityPermission returns a new CapabilityPermission.
func NewCapabilityPermission(logger *slog.Logger) *CapabilityPermission {
	return &CapabilityPermission{logger: logger.With("component", "netif")}
}

// RequestCapturePermission reports on the returned channel whether capture may proceed.
func (p *CapabilityPermission) RequestCapturePermission(_ context.Context) <-chan bool {
	ch := make(chan bool, 1)
	granted, err := hasEffectiveCap(capNetAdmin)
	if err != nil {
		p.logger.Warn("capability check failed", "error", err)
	}
	if !granted {
		p.logger.Info("capture permission denied: CAP_NET_ADMIN not held")
	}
	ch <- granted
	close(ch)
	return ch
}

func hasEffectiveCap(capability uint) (bool, error) {
	hdr := unix.CapUserHeader{Version: unix.LINUX_CAPABILITY_VERSION_3}
	var data [2]unix.CapUserData
	if err := unix.Capget(&hdr, &data[0]); err != nil {
		return false, err
	}
	return data[capability/32].Effective&(1<<(capability%32)) != 0, nil
}
