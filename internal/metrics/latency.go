package metrics

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/plexsphere/bondd/internal/link"
)

// LatencyResult holds the latency measurement for a single link.
type LatencyResult struct {
	LinkID  string `json:"link_id"`
	RTTNano int64  `json:"rtt_nano"`
}

// Pinger abstracts the latency measurement mechanism.
type Pinger interface {
	// Ping measures the round trip through iface. An empty iface uses the default route.
	Ping(ctx context.Context, iface string) (rttNano int64, err error)
}

// LinkLister provides the links to measure.
type LinkLister interface {
	ConnectedLinks() []link.Link
}

// LatencyCollector implements Collector for per-link latency metrics.
type LatencyCollector struct {
	pinger Pinger
	lister LinkLister
	logger *slog.Logger
}

// NewLatencyCollector creates a new LatencyCollector.
func NewLatencyCollector(pinger Pinger, lister LinkLister, logger *slog.Logger) *LatencyCollector {
	return &LatencyCollector{
		pinger: pinger,
		lister: lister,
		logger: logger.With("component", "metrics"),
	}
}

// Collect measures latency through every connected link. Failed probes are
// reported with an RTT of -1.
func (c *LatencyCollector) Collect(ctx context.Context) ([]Point, error) {
	links := c.lister.ConnectedLinks()
	points := make([]Point, 0, len(links))
	for _, l := range links {
		if err := ctx.Err(); err != nil {
			return points, err
		}

		rtt, err := c.pinger.Ping(ctx, l.Interface)
		if err != nil {
			c.logger.Warn("latency probe failed", "link_id", l.ID, "error", err)
			rtt = -1
		}

		data, _ := json.Marshal(LatencyResult{LinkID: l.ID, RTTNano: rtt})
		points = append(points, Point{
			Timestamp: time.Now(),
			Group:     GroupLatency,
			LinkID:    l.ID,
			Data:      data,
		})
	}
	return points, nil
}

// LatencyMs converts a Ping result into whole milliseconds, rounding up so a
// successful sub-millisecond probe never reads as zero latency.
func LatencyMs(rttNano int64) int {
	if rttNano <= 0 {
		return 0
	}
	return int((time.Duration(rttNano) + time.Millisecond - 1) / time.Millisecond)
}
