// Package netif discovers host network interfaces that can carry bonded links
// and provides interface-bound sockets and routing primitives on top of them.
package netif

import (
	"errors"
	"time"

	"github.com/plexsphere/bondd/internal/link"
)

// DefaultSysfsRoot is the default mount point of sysfs.
const DefaultSysfsRoot = "/sys"

// DefaultProcRoot is the default mount point of procfs.
const DefaultProcRoot = "/proc"

// BypassMark is the firewall mark carried by bondd's own sockets so they are
// never routed into the capture interface.
const BypassMark = 0x6264

// DefaultDialTimeout is the default timeout for interface-bound dials.
const DefaultDialTimeout = 5 * time.Second

// Config holds the configuration for host interface discovery.
type Config struct {
	// SysfsRoot is where sysfs is mounted. Default: /sys.
	SysfsRoot string `yaml:"sysfs_root"`

	// ProcRoot is where procfs is mounted. Default: /proc.
	ProcRoot string `yaml:"proc_root"`

	// Exclude lists interface names that are never offered as links.
	Exclude []string `yaml:"exclude"`

	// CellularRadio is the radio generation reported for cellular modems,
	// used for speed estimates when the link reports no speed.
	CellularRadio string `yaml:"cellular_radio"`

	// DialTimeout bounds interface-bound dials. Default: 5s.
	DialTimeout time.Duration `yaml:"dial_timeout"`
}

// ApplyDefaults sets default values for zero-valued fields.
func (c *Config) ApplyDefaults() {
	if c.SysfsRoot == "" {
		c.SysfsRoot = DefaultSysfsRoot
	}
	if c.ProcRoot == "" {
		c.ProcRoot = DefaultProcRoot
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = DefaultDialTimeout
	}
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	if c.DialTimeout < 0 {
		return errors.New("netif: config: DialTimeout must not be negative")
	}
	switch link.RadioGeneration(c.CellularRadio) {
	case link.RadioUnknown, link.Radio2G, link.Radio3G, link.Radio3GPlus, link.Radio4G, link.Radio5G:
	default:
		return errors.New("netif: config: CellularRadio must be one of 2g, 3g, 3g+, 4g, 5g")
	}
	return nil
}
