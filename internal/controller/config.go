package controller

import (
	"errors"
	"time"

	"github.com/plexsphere/bondd/internal/link"
)

// DefaultRefreshInterval is how often link metrics are refreshed.
const DefaultRefreshInterval = 5 * time.Second

// DefaultInitTimeout bounds a single provider initialize attempt.
const DefaultInitTimeout = 10 * time.Second

// DefaultConnectTimeout bounds a provider connect call.
const DefaultConnectTimeout = 15 * time.Second

// DefaultRetryBase is the first retry delay for a lost link.
const DefaultRetryBase = 1 * time.Second

// DefaultRetryMax caps the retry delay for a lost link.
const DefaultRetryMax = 60 * time.Second

// Config holds the configuration for the bonding controller.
type Config struct {
	// Method is the preferred bonding method. Empty uses the method
	// recommended by the capability probe.
	Method string `yaml:"method"`

	// Strategy is the initial allocation strategy.
	// Default: adaptive
	Strategy string `yaml:"strategy"`

	// Links lists the link IDs to connect after initialization. Empty
	// connects every link the active method can scan.
	Links []string `yaml:"links"`

	// RefreshInterval is how often link metrics are refreshed.
	// Default: 5s
	RefreshInterval time.Duration `yaml:"refresh_interval"`

	// InitTimeout bounds a single provider initialize attempt.
	// Default: 10s
	InitTimeout time.Duration `yaml:"init_timeout"`

	// ConnectTimeout bounds a provider connect call.
	// Default: 15s
	ConnectTimeout time.Duration `yaml:"connect_timeout"`

	// RetryBase is the first retry delay for a lost link. It doubles on every
	// failed retry up to RetryMax.
	RetryBase time.Duration `yaml:"retry_base"`
	RetryMax  time.Duration `yaml:"retry_max"`
}

// ApplyDefaults sets default values for zero-valued fields.
func (c *Config) ApplyDefaults() {
	if c.Strategy == "" {
		c.Strategy = string(link.DefaultStrategy)
	}
	if c.RefreshInterval == 0 {
		c.RefreshInterval = DefaultRefreshInterval
	}
	if c.InitTimeout == 0 {
		c.InitTimeout = DefaultInitTimeout
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.RetryBase == 0 {
		c.RetryBase = DefaultRetryBase
	}
	if c.RetryMax == 0 {
		c.RetryMax = DefaultRetryMax
	}
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	if c.Method != "" {
		if _, err := link.ParseMethod(c.Method); err != nil {
			return errors.New("controller: config: Method must be one of native, adapter, hybrid, proxy, capture")
		}
	}
	if _, err := link.ParseStrategy(c.Strategy); err != nil {
		return errors.New("controller: config: Strategy must be one of round_robin, speed_weighted, latency_weighted, adaptive")
	}
	if c.RefreshInterval <= 0 {
		return errors.New("controller: config: RefreshInterval must be positive")
	}
	if c.InitTimeout <= 0 || c.ConnectTimeout <= 0 {
		return errors.New("controller: config: InitTimeout and ConnectTimeout must be positive")
	}
	if c.RetryBase <= 0 {
		return errors.New("controller: config: RetryBase must be positive")
	}
	if c.RetryMax < c.RetryBase {
		return errors.New("controller: config: RetryMax must be >= RetryBase")
	}
	return nil
}
