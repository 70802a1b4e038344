package metrics

import (
	"cmp"
	"slices"
	"sync"
)

// seriesKey identifies one metric group of one link.
type seriesKey struct {
	group  string
	linkID string
}

// series is a fixed-size ring of points, oldest overwritten first.
type series struct {
	points []Point
	next   int
	full   bool
}

func (s *series) add(p Point) {
	s.points[s.next] = p
	s.next = (s.next + 1) % len(s.points)
	if s.next == 0 {
		s.full = true
	}
}

func (s *series) ordered() []Point {
	var out []Point
	if s.full {
		out = append(out, s.points[s.next:]...)
	}
	return append(out, s.points[:s.next]...)
}

// History keeps the most recent points of every link and group in its own
// ring, so a link reporting often cannot evict the history of another.
type History struct {
	mu     sync.Mutex
	size   int
	series map[seriesKey]*series
}

// NewHistory returns a History keeping at most perSeries points for each
// link and group.
func NewHistory(perSeries int) *History {
	if perSeries <= 0 {
		perSeries = DefaultSeriesSize
	}
	return &History{size: perSeries, series: make(map[seriesKey]*series)}
}

// Record appends points to their series.
func (h *History) Record(points []Point) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, p := range points {
		k := seriesKey{group: p.Group, linkID: p.LinkID}
		s, ok := h.series[k]
		if !ok {
			s = &series{points: make([]Point, h.size)}
			h.series[k] = s
		}
		s.add(p)
	}
}

// Forget drops every series of linkID.
func (h *History) Forget(linkID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for k := range h.series {
		if k.linkID == linkID {
			delete(h.series, k)
		}
	}
}

// Recent returns up to n of the newest points, oldest first, optionally
// restricted to group. n <= 0 returns every retained point.
func (h *History) Recent(group string, n int) []Point {
	h.mu.Lock()
	var out []Point
	for k, s := range h.series {
		if group == "" || k.group == group {
			out = append(out, s.ordered()...)
		}
	}
	h.mu.Unlock()

	slices.SortStableFunc(out, func(a, b Point) int {
		if c := a.Timestamp.Compare(b.Timestamp); c != 0 {
			return c
		}
		if c := cmp.Compare(a.Group, b.Group); c != 0 {
			return c
		}
		return cmp.Compare(a.LinkID, b.LinkID)
	})
	if n > 0 && len(out) > n {
		out = out[len(out)-n:]
	}
	if out == nil {
		out = []Point{}
	}
	return out
}
