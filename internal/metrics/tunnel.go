package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// TunnelStats holds the dispatch counters of one capture tunnel.
type TunnelStats struct {
	LinkID     string  `json:"link_id"`
	InstanceID string  `json:"instance_id"`
	Allocation float64 `json:"allocation_percentage"`
	TxPackets  uint64  `json:"tx_packets"`
	TxBytes    uint64  `json:"tx_bytes"`
	Dropped    uint64  `json:"dropped"`
	QueueDepth int     `json:"queue_depth"`
}

// TunnelStatsReader abstracts tunnel counter retrieval.
type TunnelStatsReader interface {
	ReadTunnelStats(ctx context.Context) ([]TunnelStats, error)
}

// TunnelCollector implements Collector for per-tunnel dispatch counters.
type TunnelCollector struct {
	reader TunnelStatsReader
}

// NewTunnelCollector creates a new TunnelCollector.
func NewTunnelCollector(reader TunnelStatsReader) *TunnelCollector {
	return &TunnelCollector{reader: reader}
}

// Collect reads tunnel stats and returns a Point per tunnel.
func (c *TunnelCollector) Collect(ctx context.Context) ([]Point, error) {
	stats, err := c.reader.ReadTunnelStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("metrics: tunnel: %w", err)
	}

	now := time.Now()
	points := make([]Point, 0, len(stats))
	for _, s := range stats {
		data, err := json.Marshal(s)
		if err != nil {
			return nil, fmt.Errorf("metrics: tunnel: %w", err)
		}
		points = append(points, Point{
			Timestamp: now,
			Group:     GroupTunnel,
			LinkID:    s.LinkID,
			Data:      data,
		})
	}
	return points, nil
}
