package provider

import (
	"sync"

	"github.com/plexsphere/bondd/internal/link"
)

// linkSet is the connected-link table and event sink shared by the
// providers that keep their own link state.
type linkSet struct {
	mu      sync.Mutex
	links   map[string]link.Link
	handler func(link.Event)
	watch   lostWatch
}

func newLinkSet() *linkSet {
	return &linkSet{links: make(map[string]link.Link)}
}

func (s *linkSet) setHandler(fn func(link.Event)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = fn
}

func (s *linkSet) put(l link.Link) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l = l.Clone()
	l.Connected = true
	s.links[l.ID] = l
	s.watch.drop(l.ID)
}

func (s *linkSet) has(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.links[id]
	return ok
}

// update replaces a connected link, keeping its allocation. Unknown IDs are ignored.
func (s *linkSet) update(l link.Link) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.links[l.ID]
	if !ok {
		return
	}
	l = l.Clone()
	l.Connected = true
	l.AllocationPercentage = cur.AllocationPercentage
	s.links[l.ID] = l
}

func (s *linkSet) setAllocations(links []link.Link) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range links {
		if cur, ok := s.links[l.ID]; ok {
			cur.AllocationPercentage = l.AllocationPercentage
			s.links[l.ID] = cur
		}
	}
}

// lose removes id, watches it for its return and emits a Lost event
// carrying cause.
func (s *linkSet) lose(id string, cause error) {
	s.mu.Lock()
	l, ok := s.links[id]
	delete(s.links, id)
	handler := s.handler
	s.mu.Unlock()

	if !ok {
		return
	}
	l.Connected = false
	l.AllocationPercentage = 0
	s.watch.add(l)
	if handler != nil {
		handler(link.Event{Kind: link.EventLost, Link: l, Err: cause})
	}
}

// returned stops watching l and emits an Available event for it.
func (s *linkSet) returned(l link.Link) {
	s.watch.drop(l.ID)
	s.mu.Lock()
	handler := s.handler
	s.mu.Unlock()
	if handler != nil {
		handler(link.Event{Kind: link.EventAvailable, Link: l})
	}
}

func (s *linkSet) watched() []link.Link { return s.watch.list() }

func (s *linkSet) clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.links)
	s.watch.reset()
}

func (s *linkSet) list() []link.Link {
	s.mu.Lock()
	out := make([]link.Link, 0, len(s.links))
	for _, l := range s.links {
		out = append(out, l.Clone())
	}
	s.mu.Unlock()
	link.SortByID(out)
	return out
}

func (s *linkSet) totalSpeed() float64 {
	return link.TotalSpeed(s.list())
}
