// Package packaging installs bondd as a systemd service on Linux hosts.
package packaging

import (
	"errors"
	"fmt"

	"github.com/plexsphere/bondd/internal/link"
)

// InstallConfig describes where bondd is installed. It is passed to the
// installer directly and never read from disk.
type InstallConfig struct {
	// BinaryPath is where the bondd binary is copied.
	// Default: /usr/local/bin/bondd
	BinaryPath string

	// ConfigDir holds config.yaml.
	// Default: /etc/bondd
	ConfigDir string

	// StateDir holds runtime status files.
	// Default: /var/lib/bondd
	StateDir string

	// RunDir holds the control socket.
	// Default: /var/run/bondd
	RunDir string

	// UnitFilePath is the systemd unit path.
	// Default: /etc/systemd/system/bondd.service
	UnitFilePath string

	// ServiceName is the systemd service name.
	// Default: bondd
	ServiceName string

	// User is the system account the service runs as. It must not be root:
	// capture exempts the service user's own packets from redirection.
	// Default: bondd
	User string

	// Method and Links seed a freshly written config.yaml. An existing
	// config is never overwritten.
	Method string
	Links  []string

	// Enable enables the service to start on boot after install.
	Enable bool
}

const (
	DefaultBinaryPath   = "/usr/local/bin/bondd"
	DefaultConfigDir    = "/etc/bondd"
	DefaultStateDir     = "/var/lib/bondd"
	DefaultRunDir       = "/var/run/bondd"
	DefaultServiceName  = "bondd"
	DefaultUnitFilePath = "/etc/systemd/system/bondd.service"
	DefaultUser         = "bondd"
)

// ApplyDefaults sets default values for zero-valued fields.
func (c *InstallConfig) ApplyDefaults() {
	if c.BinaryPath == "" {
		c.BinaryPath = DefaultBinaryPath
	}
	if c.ConfigDir == "" {
		c.ConfigDir = DefaultConfigDir
	}
	if c.StateDir == "" {
		c.StateDir = DefaultStateDir
	}
	if c.RunDir == "" {
		c.RunDir = DefaultRunDir
	}
	if c.ServiceName == "" {
		c.ServiceName = DefaultServiceName
	}
	if c.UnitFilePath == "" {
		c.UnitFilePath = DefaultUnitFilePath
	}
	if c.User == "" {
		c.User = DefaultUser
	}
}

// Validate checks that required fields are set.
func (c *InstallConfig) Validate() error {
	if c.BinaryPath == "" || c.ConfigDir == "" || c.StateDir == "" || c.RunDir == "" {
		return errors.New("packaging: config: BinaryPath, ConfigDir, StateDir and RunDir are required")
	}
	if c.ServiceName == "" || c.UnitFilePath == "" {
		return errors.New("packaging: config: ServiceName and UnitFilePath are required")
	}
	switch c.User {
	case "":
		return errors.New("packaging: config: User is required")
	case "root":
		return errors.New("packaging: config: User must not be root")
	}
	if c.Method != "" {
		if _, err := link.ParseMethod(c.Method); err != nil {
			return fmt.Errorf("packaging: config: %w", err)
		}
	}
	return nil
}
