// Package metrics measures bonded links and keeps a recent history of the
// measurements for local inspection.
package metrics

import (
	"errors"
	"time"
)

// DefaultCollectInterval is the default interval between metric collection cycles.
const DefaultCollectInterval = 10 * time.Second

// DefaultSeriesSize is the default number of points kept per link and group.
const DefaultSeriesSize = 360

// DefaultRetention is how long the history of a link that stopped reporting is kept.
const DefaultRetention = 10 * time.Minute

// DefaultProbeTarget is the default TCP endpoint used for latency probes.
const DefaultProbeTarget = "1.1.1.1:443"

// DefaultProbeTimeout is the default timeout of a single latency probe.
const DefaultProbeTimeout = 2 * time.Second

// Config holds the configuration for metrics collection and reporting.
type Config struct {
	// Enabled controls whether periodic collection is active.
	// Default: true (set by ApplyDefaults).
	Enabled bool `yaml:"enabled"`

	// CollectInterval is the interval between collection cycles. It also
	// bounds a single cycle. Must be at least 1s.
	CollectInterval time.Duration `yaml:"collect_interval"`

	// SeriesSize is the number of points kept for each link and group.
	SeriesSize int `yaml:"series_size"`

	// Retention is how long a link's history survives after the link stops
	// appearing in collections. Must be >= CollectInterval.
	Retention time.Duration `yaml:"retention"`

	// ProbeTarget is the host:port dialed through each link to measure latency.
	ProbeTarget string `yaml:"probe_target"`

	// ProbeTimeout bounds a single latency probe.
	ProbeTimeout time.Duration `yaml:"probe_timeout"`
}

// ApplyDefaults sets default values for zero-valued fields.
// On a zero-valued Config, Enabled defaults to true.
func (c *Config) ApplyDefaults() {
	// A fully zero config means "use defaults", which includes Enabled=true.
	if c.CollectInterval == 0 && c.SeriesSize == 0 && c.Retention == 0 {
		c.Enabled = true
	}
	if c.CollectInterval == 0 {
		c.CollectInterval = DefaultCollectInterval
	}
	if c.SeriesSize == 0 {
		c.SeriesSize = DefaultSeriesSize
	}
	if c.Retention == 0 {
		c.Retention = DefaultRetention
	}
	if c.ProbeTarget == "" {
		c.ProbeTarget = DefaultProbeTarget
	}
	if c.ProbeTimeout == 0 {
		c.ProbeTimeout = DefaultProbeTimeout
	}
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	if c.ProbeTimeout <= 0 {
		return errors.New("metrics: config: ProbeTimeout must be positive")
	}
	if c.SeriesSize <= 0 {
		return errors.New("metrics: config: SeriesSize must be > 0")
	}
	if !c.Enabled {
		return nil
	}
	if c.CollectInterval < time.Second {
		return errors.New("metrics: config: CollectInterval must be at least 1s")
	}
	if c.Retention < c.CollectInterval {
		return errors.New("metrics: config: Retention must be >= CollectInterval")
	}
	return nil
}
