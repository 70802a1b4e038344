package provider

import (
	"errors"
	"net"
	"time"
)

// DefaultRouteTable is the routing table holding the weighted multipath default route.
const DefaultRouteTable = 7701

// DefaultRulePriority is the policy rule priority for DefaultRouteTable.
const DefaultRulePriority = 7701

// DefaultProbeTimeout bounds a proxy reachability check.
const DefaultProbeTimeout = 3 * time.Second

// Config holds the configuration shared by the bonding methods.
type Config struct {
	// RouteTable receives the multipath default route of the routed methods.
	RouteTable int `yaml:"route_table"`

	// RulePriority is the policy rule priority for RouteTable.
	RulePriority int `yaml:"rule_priority"`

	// ProxyEndpoint is the host:port of the upstream proxy. When empty the
	// proxy method accepts every present link as a direct path.
	ProxyEndpoint string `yaml:"proxy_endpoint"`

	// ProbeTimeout bounds a proxy reachability check.
	ProbeTimeout time.Duration `yaml:"probe_timeout"`
}

// ApplyDefaults sets default values for zero-valued fields.
func (c *Config) ApplyDefaults() {
	if c.RouteTable == 0 {
		c.RouteTable = DefaultRouteTable
	}
	if c.RulePriority == 0 {
		c.RulePriority = DefaultRulePriority
	}
	if c.ProbeTimeout == 0 {
		c.ProbeTimeout = DefaultProbeTimeout
	}
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	// 253-255 are the kernel's default, main and local tables.
	if c.RouteTable <= 0 || (c.RouteTable >= 253 && c.RouteTable <= 255) {
		return errors.New("provider: config: RouteTable must be a positive non-reserved table")
	}
	if c.RulePriority <= 0 {
		return errors.New("provider: config: RulePriority must be > 0")
	}
	if c.ProbeTimeout <= 0 {
		return errors.New("provider: config: ProbeTimeout must be positive")
	}
	if c.ProxyEndpoint != "" {
		if _, _, err := net.SplitHostPort(c.ProxyEndpoint); err != nil {
			return errors.New("provider: config: ProxyEndpoint must be host:port")
		}
	}
	return nil
}
