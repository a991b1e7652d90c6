package fetcher

import "departureboard/internal/domain"

// dedupSet is the working set of one refresh cycle. Identity is checked
// against everything accumulated so far, not only the current page, because
// pages overlap when offsets advance in whole minutes.
type dedupSet struct {
	seen       map[domain.DepartureKey]struct{}
	departures []domain.Departure
}

func newDedupSet(capacity int) *dedupSet {
	return &dedupSet{
		seen:       make(map[domain.DepartureKey]struct{}, capacity),
		departures: make([]domain.Departure, 0, capacity),
	}
}

// Add appends d unless a departure with the same key is already present
func (s *dedupSet) Add(d domain.Departure) bool {
	key := d.Key()
	if _, ok := s.seen[key]; ok {
		return false
	}
	s.seen[key] = struct{}{}
	s.departures = append(s.departures, d)
	return true
}

func (s *dedupSet) Len() int {
	return len(s.departures)
}
