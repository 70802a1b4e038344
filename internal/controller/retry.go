package controller

import (
	"math"
	"math/rand"
	"slices"
	"time"

	"github.com/plexsphere/bondd/internal/link"
)

// retryJitter is the fraction of random jitter applied to every delay.
const retryJitter = 0.25

// retry tracks the reconnect schedule of one lost link.
type retry struct {
	link     link.Link
	interval time.Duration
	due      time.Time
}

// retrySet schedules reconnect attempts for lost links with exponential
// backoff. It is owned by the controller goroutine.
type retrySet struct {
	base, max time.Duration
	entries   map[string]*retry
}

func newRetrySet(base, max time.Duration) *retrySet {
	return &retrySet{base: base, max: max, entries: make(map[string]*retry)}
}

// jitter adds random jitter (plus or minus retryJitter) to a duration.
func jitter(d time.Duration) time.Duration {
	jit := float64(d) * retryJitter
	delta := (rand.Float64()*2 - 1) * jit
	return time.Duration(float64(d) + delta)
}

// schedule starts a retry for l at the base interval. An existing schedule
// is kept.
func (s *retrySet) schedule(l link.Link, now time.Time) {
	if _, ok := s.entries[l.ID]; ok {
		return
	}
	s.entries[l.ID] = &retry{link: l.Clone(), interval: s.base, due: now.Add(jitter(s.base))}
}

// backoff doubles the interval of id up to max and reschedules it.
func (s *retrySet) backoff(id string, now time.Time) {
	r, ok := s.entries[id]
	if !ok {
		return
	}
	r.interval = time.Duration(math.Min(float64(r.interval)*2, float64(s.max)))
	r.due = now.Add(jitter(r.interval))
}

func (s *retrySet) remove(id string) {
	delete(s.entries, id)
}

func (s *retrySet) reset() {
	clear(s.entries)
}

// dueAt returns the links whose retry time has passed, sorted by ID.
func (s *retrySet) dueAt(now time.Time) []link.Link {
	var out []link.Link
	for _, r := range s.entries {
		if !r.due.After(now) {
			out = append(out, r.link.Clone())
		}
	}
	link.SortByID(out)
	return out
}

// next returns the delay until the earliest retry, or false when none is pending.
func (s *retrySet) next(now time.Time) (time.Duration, bool) {
	var earliest time.Time
	for _, r := range s.entries {
		if earliest.IsZero() || r.due.Before(earliest) {
			earliest = r.due
		}
	}
	if earliest.IsZero() {
		return 0, false
	}
	return max(0, earliest.Sub(now)), true
}

func (s *retrySet) ids() []string {
	ids := make([]string, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
