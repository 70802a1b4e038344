// Package dispatch splits packets captured on a virtual interface across
// per-link tunnels according to the current allocation.
package dispatch

import (
	"errors"
	"net"
	"time"
)

// DefaultDeviceName is the default name of the capture interface.
const DefaultDeviceName = "bondd0"

// DefaultAddress is the default address assigned to the capture interface.
const DefaultAddress = "10.77.0.1/30"

// DefaultMTU leaves room for UDP encapsulation on a 1500 byte path.
const DefaultMTU = 1400

// DefaultQueueSize is the default per-tunnel queue capacity in packets.
const DefaultQueueSize = 512

// DefaultStopTimeout is how long Close waits for workers to exit.
const DefaultStopTimeout = 2 * time.Second

// DefaultRouteTable is the routing table holding the capture default route.
const DefaultRouteTable = 7700

// DefaultRulePriority is the priority of the capture policy rule.
const DefaultRulePriority = 7700

// Config holds the configuration for the capture dispatcher.
type Config struct {
	// DeviceName is the TUN interface name. Default: bondd0.
	DeviceName string `yaml:"device_name"`

	// Address is the CIDR assigned to the TUN interface.
	Address string `yaml:"address"`

	// MTU of the TUN interface. Must be between 576 and 9000.
	MTU int `yaml:"mtu"`

	// QueueSize is the per-tunnel queue capacity. Must be > 0.
	QueueSize int `yaml:"queue_size"`

	// StopTimeout bounds how long Close waits for tunnel workers.
	StopTimeout time.Duration `yaml:"stop_timeout"`

	// RelayEndpoint is the host:port of the UDP relay that terminates tunnels.
	RelayEndpoint string `yaml:"relay_endpoint"`

	// RouteTable is the routing table that sends captured traffic to the TUN.
	RouteTable int `yaml:"route_table"`

	// RulePriority is the policy rule priority for RouteTable.
	RulePriority int `yaml:"rule_priority"`
}

// ApplyDefaults sets default values for zero-valued fields.
func (c *Config) ApplyDefaults() {
	if c.DeviceName == "" {
		c.DeviceName = DefaultDeviceName
	}
	if c.Address == "" {
		c.Address = DefaultAddress
	}
	if c.MTU == 0 {
		c.MTU = DefaultMTU
	}
	if c.QueueSize == 0 {
		c.QueueSize = DefaultQueueSize
	}
	if c.StopTimeout == 0 {
		c.StopTimeout = DefaultStopTimeout
	}
	if c.RouteTable == 0 {
		c.RouteTable = DefaultRouteTable
	}
	if c.RulePriority == 0 {
		c.RulePriority = DefaultRulePriority
	}
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	if c.MTU < 576 || c.MTU > 9000 {
		return errors.New("dispatch: config: MTU must be between 576 and 9000")
	}
	if c.QueueSize <= 0 {
		return errors.New("dispatch: config: QueueSize must be > 0")
	}
	if c.StopTimeout <= 0 {
		return errors.New("dispatch: config: StopTimeout must be positive")
	}
	if _, _, err := net.ParseCIDR(c.Address); err != nil {
		return errors.New("dispatch: config: Address must be a CIDR")
	}
	if c.RelayEndpoint != "" {
		if _, _, err := net.SplitHostPort(c.RelayEndpoint); err != nil {
			return errors.New("dispatch: config: RelayEndpoint must be host:port")
		}
	}
	// 253-255 are the kernel's default, main and local tables.
	if c.RouteTable <= 0 || (c.RouteTable >= 253 && c.RouteTable <= 255) {
		return errors.New("dispatch: config: RouteTable must be a positive non-reserved table")
	}
	return nil
}
