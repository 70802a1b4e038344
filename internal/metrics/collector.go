package metrics

import (
	"context"
	"encoding/json"
	"time"
)

// Metric group constants identify the subsystem a metric belongs to.
const (
	GroupLink    = "link"
	GroupTunnel  = "tunnel"
	GroupLatency = "latency"
)

// Point is a single timestamped measurement.
type Point struct {
	Timestamp time.Time       `json:"timestamp"`
	Group     string          `json:"group"`
	LinkID    string          `json:"link_id,omitempty"`
	Data      json.RawMessage `json:"data"`
}

// Collector collects metrics from a specific subsystem.
type Collector interface {
	Collect(ctx context.Context) ([]Point, error)
}
