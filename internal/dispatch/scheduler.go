package dispatch

import (
	"math"
	"slices"
	"strings"
	"sync"
)

// Scheduler picks the tunnel for each captured packet by deficit weighted
// round robin over per-link integer credits.
//
// Each pick charges one credit to the link with the highest positive credit,
// ties broken by link ID. When every credit is exhausted all links are
// refilled with max(1, round(allocation)) credits. Over any window of whole
// refill rounds each link therefore receives exactly its rounded allocation
// share of packets.
type Scheduler struct {
	mu      sync.Mutex
	entries []*schedEntry // sorted by id
}

type schedEntry struct {
	id     string
	weight int
	credit int
}

// NewScheduler returns an empty Scheduler.
func NewScheduler() *Scheduler {
	return &Scheduler{}
}

// Set replaces the scheduled links with allocs, keyed by link ID with
// allocation percentages as values. Links that stay scheduled keep their
// remaining credit, capped at their new weight; new links wait for the next
// refill. Setting an unchanged schedule is a no-op.
func (s *Scheduler) Set(allocs map[string]float64) {
	entries := make([]*schedEntry, 0, len(allocs))
	for id, pct := range allocs {
		entries = append(entries, &schedEntry{id: id, weight: creditsFor(pct)})
	}
	slices.SortFunc(entries, func(a, b *schedEntry) int { return strings.Compare(a.id, b.id) })

	s.mu.Lock()
	defer s.mu.Unlock()

	if slices.EqualFunc(s.entries, entries, func(a, b *schedEntry) bool {
		return a.id == b.id && a.weight == b.weight
	}) {
		return
	}
	old := make(map[string]int, len(s.entries))
	for _, e := range s.entries {
		old[e.id] = e.credit
	}
	for _, e := range entries {
		e.credit = min(old[e.id], e.weight)
	}
	s.entries = entries
}

// Next returns the link that should carry the next packet. It returns false
// when no link is scheduled.
func (s *Scheduler) Next() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.entries) == 0 {
		return "", false
	}

	best := s.pick()
	if best == nil {
		for _, e := range s.entries {
			e.credit = e.weight
		}
		best = s.pick()
	}
	best.credit--
	return best.id, true
}

// pick returns the entry with the highest positive credit, or nil.
// Must be called with s.mu held.
func (s *Scheduler) pick() *schedEntry {
	var best *schedEntry
	for _, e := range s.entries {
		if e.credit > 0 && (best == nil || e.credit > best.credit) {
			best = e
		}
	}
	return best
}

func creditsFor(pct float64) int {
	if math.IsNaN(pct) {
		return 1
	}
	return max(1, int(math.Round(pct)))
}
