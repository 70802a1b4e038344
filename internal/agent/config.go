package agent

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/plexsphere/bondd/internal/controller"
	"github.com/plexsphere/bondd/internal/ctlapi"
	"github.com/plexsphere/bondd/internal/dispatch"
	"github.com/plexsphere/bondd/internal/metrics"
	"github.com/plexsphere/bondd/internal/netif"
	"github.com/plexsphere/bondd/internal/provider"
)

const (
	// DefaultLogLevel is the default log level.
	DefaultLogLevel = "info"

	// DefaultStateDir is the default directory for runtime state.
	DefaultStateDir = "/var/lib/bondd"
)

// AgentConfig is the top-level configuration for the bondd agent.
// It aggregates all subsystem configurations and is populated from
// a YAML configuration file via ParseConfig.
type AgentConfig struct {
	// LogLevel is the log level: "debug", "info", "warn", "error".
	// Default: "info"
	LogLevel string `yaml:"log_level"`

	// StateDir holds files the agent publishes for other local tools.
	// Default: /var/lib/bondd
	StateDir string `yaml:"state_dir"`

	Bonding   controller.Config `yaml:"bonding"`
	Provider  provider.Config   `yaml:"provider"`
	Dispatch  dispatch.Config   `yaml:"dispatch"`
	Netif     netif.Config      `yaml:"netif"`
	Metrics   metrics.Config    `yaml:"metrics"`
	CtlAPI    ctlapi.Config     `yaml:"ctl_api"`
	Heartbeat HeartbeatConfig   `yaml:"heartbeat"`
}

// ApplyDefaults sets default values for zero-valued fields.
func (c *AgentConfig) ApplyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.StateDir == "" {
		c.StateDir = DefaultStateDir
	}
	c.Bonding.ApplyDefaults()
	c.Provider.ApplyDefaults()
	c.Dispatch.ApplyDefaults()
	c.Netif.ApplyDefaults()
	c.Metrics.ApplyDefaults()
	c.CtlAPI.ApplyDefaults()
	c.Heartbeat.ApplyDefaults()
}

// Validate checks that required fields are set and values are acceptable.
func (c *AgentConfig) Validate() error {
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("agent: config: invalid log_level %q", c.LogLevel)
	}
	if c.Provider.RouteTable == c.Dispatch.RouteTable {
		return fmt.Errorf("agent: config: provider and dispatch route tables must differ (both %d)", c.Provider.RouteTable)
	}
	for _, v := range []interface{ Validate() error }{
		&c.Bonding, &c.Provider, &c.Dispatch, &c.Netif, &c.Metrics, &c.CtlAPI, &c.Heartbeat,
	} {
		if err := v.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// ParseConfig reads a YAML configuration file and returns an AgentConfig.
// It applies defaults and validates the configuration.
func ParseConfig(path string) (*AgentConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("agent: config: read %s: %w", path, err)
	}
	var cfg AgentConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("agent: config: parse %s: %w", path, err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// DefaultConfig returns a validated configuration with every default
// applied, for running without a config file.
func DefaultConfig() *AgentConfig {
	var cfg AgentConfig
	cfg.ApplyDefaults()
	return &cfg
}
