package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// LinkCollector implements Collector for the allocation and quality of
// every connected link.
type LinkCollector struct {
	lister LinkLister
}

// NewLinkCollector creates a new LinkCollector.
func NewLinkCollector(lister LinkLister) *LinkCollector {
	return &LinkCollector{lister: lister}
}

// Collect returns one Point per connected link carrying the link itself.
func (c *LinkCollector) Collect(_ context.Context) ([]Point, error) {
	links := c.lister.ConnectedLinks()
	now := time.Now()
	points := make([]Point, 0, len(links))
	for _, l := range links {
		data, err := json.Marshal(l)
		if err != nil {
			return nil, fmt.Errorf("metrics: link: %w", err)
		}
		points = append(points, Point{
			Timestamp: now,
			Group:     GroupLink,
			LinkID:    l.ID,
			Data:      data,
		})
	}
	return points, nil
}
