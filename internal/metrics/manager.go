package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"golang.org/x/sync/errgroup"
)

// Recorder stores collected points keyed by link.
type Recorder interface {
	Record(points []Point)
	// Forget drops the stored history of linkID.
	Forget(linkID string)
}

// Manager runs the collectors once per cycle and records their points.
// Links that stop appearing in collections have their history expired after
// the configured retention.
type Manager struct {
	cfg        Config
	collectors []Collector
	recorder   Recorder
	logger     *slog.Logger

	// Owned by Run.
	lastSeen map[string]time.Time
}

// NewManager creates a new Manager. Config defaults are applied automatically.
func NewManager(cfg Config, collectors []Collector, recorder Recorder, logger *slog.Logger) *Manager {
	cfg.ApplyDefaults()
	return &Manager{
		cfg:        cfg,
		collectors: collectors,
		recorder:   recorder,
		logger:     logger.With("component", "metrics"),
		lastSeen:   make(map[string]time.Time),
	}
}

// Run collects immediately and then every CollectInterval until ctx is
// cancelled.
func (m *Manager) Run(ctx context.Context) error {
	if !m.cfg.Enabled {
		m.logger.Info("metrics disabled, skipping collection")
		return nil
	}

	m.cycle(ctx)

	ticker := time.NewTicker(m.cfg.CollectInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.cycle(ctx)
		}
	}
}

// cycle runs every collector concurrently under one CollectInterval deadline.
func (m *Manager) cycle(ctx context.Context) {
	cctx, cancel := context.WithTimeout(ctx, m.cfg.CollectInterval)
	defer cancel()

	results := make([][]Point, len(m.collectors))
	var g errgroup.Group
	for i, c := range m.collectors {
		g.Go(func() error {
			points, err := m.safeCollect(cctx, c)
			if err != nil {
				m.logger.Warn("collector failed", "error", err, "kept", len(points))
			}
			results[i] = points
			return nil
		})
	}
	_ = g.Wait()

	now := time.Now()
	var batch []Point
	for _, points := range results {
		for _, p := range points {
			if p.Timestamp.IsZero() {
				p.Timestamp = now
			}
			if p.LinkID != "" {
				m.lastSeen[p.LinkID] = now
			}
			batch = append(batch, p)
		}
	}
	if len(batch) > 0 {
		m.recorder.Record(batch)
	}
	m.expire(now)
}

// expire forgets links not seen within the retention window.
func (m *Manager) expire(now time.Time) {
	for id, seen := range m.lastSeen {
		if now.Sub(seen) <= m.cfg.Retention {
			continue
		}
		delete(m.lastSeen, id)
		m.recorder.Forget(id)
		m.logger.Debug("link history expired", "link_id", id, "last_seen", seen)
	}
}

// safeCollect calls a collector with panic recovery. Points returned along
// with an error are kept.
func (m *Manager) safeCollect(ctx context.Context, c Collector) (points []Point, err error) {
	defer func() {
		if v := recover(); v != nil {
			points = nil
			err = fmt.Errorf("collector panicked: %v\n%s", v, debug.Stack())
		}
	}()
	return c.Collect(ctx)
}
