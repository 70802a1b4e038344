// Package agent holds agent-wide configuration and runtime services.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/plexsphere/bondd/internal/controller"
	"github.com/plexsphere/bondd/internal/fsutil"
)

// DefaultHeartbeatInterval is the default status publish interval.
const DefaultHeartbeatInterval = 10 * time.Second

// DefaultStatusFile is the default status file name under the state dir.
const DefaultStatusFile = "status.json"

// HeartbeatConfig holds the configuration for the status heartbeat.
type HeartbeatConfig struct {
	// Interval is the status publish interval.
	// Default: 10s
	Interval time.Duration `yaml:"interval"`

	// StatusFile is the file name written under the state dir.
	// Default: status.json
	StatusFile string `yaml:"status_file"`
}

// ApplyDefaults sets default values for zero-valued fields.
func (c *HeartbeatConfig) ApplyDefaults() {
	if c.Interval == 0 {
		c.Interval = DefaultHeartbeatInterval
	}
	if c.StatusFile == "" {
		c.StatusFile = DefaultStatusFile
	}
}

// Validate checks that configuration values are acceptable.
func (c *HeartbeatConfig) Validate() error {
	if c.Interval <= 0 {
		return errors.New("agent: heartbeat config: Interval must be positive")
	}
	if c.StatusFile == "" {
		return errors.New("agent: heartbeat config: StatusFile is required")
	}
	return nil
}

// StatusSource provides the current bonding status.
type StatusSource interface {
	Status() controller.Snapshot
}

// HeartbeatService periodically publishes the bonding status to a file and
// logs state transitions.
type HeartbeatService struct {
	cfg    HeartbeatConfig
	dir    string
	source StatusSource
	logger *slog.Logger

	last controller.State
	seen bool
}

// NewHeartbeatService creates a HeartbeatService writing into dir.
func NewHeartbeatService(cfg HeartbeatConfig, dir string, source StatusSource, logger *slog.Logger) *HeartbeatService {
	cfg.ApplyDefaults()
	return &HeartbeatService{
		cfg:    cfg,
		dir:    dir,
		source: source,
		logger: logger.With("component", "heartbeat"),
	}
}

// Run publishes once immediately and then at the configured interval until
// ctx is cancelled. A final snapshot is written on the way out. Run always
// returns nil.
func (s *HeartbeatService) Run(ctx context.Context) error {
	s.publish(ctx)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.publish(context.WithoutCancel(ctx))
			return nil
		case <-ticker.C:
			s.publish(ctx)
		}
	}
}

func (s *HeartbeatService) publish(ctx context.Context) {
	snap := s.source.Status()
	if !s.seen || snap.State != s.last {
		s.logger.InfoContext(ctx, "bonding state",
			"state", snap.State,
			"method", snap.Method,
			"links", len(snap.Links),
			"combined_speed_mbps", snap.CombinedSpeed,
		)
		s.last, s.seen = snap.State, true
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		s.logger.ErrorContext(ctx, "agent: heartbeat: encode status", "error", err)
		return
	}
	if err := fsutil.WriteFileAtomic(s.dir, s.cfg.StatusFile, append(data, '\n'), 0o644); err != nil {
		s.logger.WarnContext(ctx, "agent: heartbeat: write status", "error", err)
	}
}
