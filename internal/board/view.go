package board

import (
	"fmt"

	"departureboard/internal/domain"
	"departureboard/internal/filter"
)

// Departures returns the cached departures narrowed by view, or the error of
// the last refresh while it is outstanding. Departures that have left since
// the last refresh are omitted.
func (s *Service) Departures(view domain.View) ([]domain.Departure, error) {
	snap := s.store.Read()
	if snap.StopID == "" {
		return nil, ErrNoStop
	}
	if snap.LastError != nil {
		return nil, fmt.Errorf("refreshing %s: %w", snap.StopID, snap.LastError)
	}

	set := filter.NewSet(view.Include, view.Exclude)
	now := s.opts.Now()

	result := make([]domain.Departure, 0, len(snap.Departures))
	for _, d := range snap.Departures {
		if d.Time.Before(now) || !set.Accepts(d.LineDest) {
			continue
		}
		result = append(result, d)
		if view.Limit > 0 && len(result) >= view.Limit {
			break
		}
	}
	return result, nil
}

// AvailableLineDests lists the distinct line/destination pairs in the
// cache in first-seen order.
func (s *Service) AvailableLineDests() []domain.LineDest {
	snap := s.store.Read()

	seen := make(map[domain.LineDest]struct{})
	var result []domain.LineDest
	for _, d := range snap.Departures {
		if _, ok := seen[d.LineDest]; ok {
			continue
		}
		seen[d.LineDest] = struct{}{}
		result = append(result, d.LineDest)
	}
	return result
}

func (s *Service) Snapshot() domain.Snapshot {
	return s.store.Read()
}

// Subscribe registers fn to run after every completed refresh
func (s *Service) Subscribe(fn func()) (unsubscribe func()) {
	return s.bus.Subscribe(fn)
}
