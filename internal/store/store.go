package store

import (
	"sync"
	"sync/atomic"
	"time"

	"departureboard/internal/domain"
)

// Store holds the departure snapshot of the active stop. Every mutation
// publishes a new snapshot so readers never see a mix of two refreshes.
type Store struct {
	current atomic.Pointer[domain.Snapshot]
	// serialises writers; readers only load the pointer
	mu sync.Mutex
}

func New() *Store {
	s := &Store{}
	s.current.Store(&domain.Snapshot{})
	return s
}

// Reset discards the previous snapshot and starts an empty one for stopID
func (s *Store) Reset(stopID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current.Store(&domain.Snapshot{StopID: stopID})
}

// Replace publishes a successful refresh result. It clears any outstanding
// error and the refreshing flag. Results for a stop that is no longer active
// are ignored.
func (s *Store) Replace(stopID string, departures []domain.Departure, at time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.current.Load()
	if prev.StopID != stopID {
		return false
	}

	s.current.Store(&domain.Snapshot{
		StopID:          stopID,
		Departures:      append([]domain.Departure(nil), departures...),
		LastRefreshedAt: at,
	})
	return true
}

// SetError records a failed refresh and clears the refreshing flag. The last
// good departures are kept in the snapshot.
func (s *Store) SetError(stopID string, err error, at time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.current.Load()
	if prev.StopID != stopID {
		return false
	}

	next := *prev
	next.LastError = err
	next.LastRefreshedAt = at
	next.Refreshing = false
	s.current.Store(&next)
	return true
}

func (s *Store) SetRefreshing(stopID string, refreshing bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.current.Load()
	if prev.StopID != stopID {
		return false
	}

	next := *prev
	next.Refreshing = refreshing
	s.current.Store(&next)
	return true
}

// Read returns the latest snapshot without blocking. The departures slice
// is shared and must not be modified.
func (s *Store) Read() domain.Snapshot {
	return *s.current.Load()
}
