package tracking

import "sync"

// Store keys speed trackers by trip id. Work for distinct trips proceeds
// independently; work for the same trip is serialized behind a per-entry
// lock so the EMA read-modify-write and any checks done alongside it are
// atomic with respect to that trip.
type Store struct {
	alpha       float64
	stableAfter int

	mu    sync.Mutex
	trips map[string]*entry
}

type entry struct {
	mu      sync.Mutex
	tracker *SpeedTracker
}

func NewStore(alpha float64, stableAfter int) *Store {
	return &Store{
		alpha:       alpha,
		stableAfter: stableAfter,
		trips:       make(map[string]*entry),
	}
}

// Do runs fn with the trip's tracker while holding that trip's lock. The
// tracker is created on first use.
func (s *Store) Do(tripID string, fn func(t *SpeedTracker) error) error {
	s.mu.Lock()
	e, ok := s.trips[tripID]
	if !ok {
		e = &entry{tracker: NewSpeedTracker(s.alpha, s.stableAfter)}
		s.trips[tripID] = e
	}
	s.mu.Unlock()

	e.mu.Lock()
	defer e.mu.Unlock()
	return fn(e.tracker)
}

// Remove drops the tracker for a trip, typically on trip completion.
func (s *Store) Remove(tripID string) {
	s.mu.Lock()
	delete(s.trips, tripID)
	s.mu.Unlock()
}

// Len returns the number of tracked trips.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.trips)
}
