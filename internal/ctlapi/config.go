package ctlapi

import (
	"errors"
	"time"
)

// Config holds the configuration for the local control API server.
type Config struct {
	// SocketPath is the path to the Unix domain socket.
	// Default: /var/run/bondd/ctl.sock
	SocketPath string `yaml:"socket_path"`

	// AdminGroup may call mutating routes in addition to root.
	// Default: bondd
	AdminGroup string `yaml:"admin_group"`

	// ShutdownTimeout is the maximum time to wait for a graceful shutdown.
	// Default: 5s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// RequestTimeout bounds controller operations started by a request.
	// Default: 30s
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// DefaultSocketPath is the default Unix domain socket path.
const DefaultSocketPath = "/var/run/bondd/ctl.sock"

// DefaultAdminGroup is the default group allowed to change bonding state.
const DefaultAdminGroup = "bondd"

// DefaultShutdownTimeout is the default graceful shutdown timeout.
const DefaultShutdownTimeout = 5 * time.Second

// DefaultRequestTimeout is the default bound for controller operations.
const DefaultRequestTimeout = 30 * time.Second

// ApplyDefaults sets default values for zero-valued fields.
func (c *Config) ApplyDefaults() {
	if c.SocketPath == "" {
		c.SocketPath = DefaultSocketPath
	}
	if c.AdminGroup == "" {
		c.AdminGroup = DefaultAdminGroup
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = DefaultShutdownTimeout
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
}

// Validate checks that configuration values are acceptable.
func (c *Config) Validate() error {
	if c.SocketPath == "" {
		return errors.New("ctlapi: config: SocketPath is required")
	}
	if c.ShutdownTimeout <= 0 {
		return errors.New("ctlapi: config: ShutdownTimeout must be positive")
	}
	if c.RequestTimeout <= 0 {
		return errors.New("ctlapi: config: RequestTimeout must be positive")
	}
	return nil
}
