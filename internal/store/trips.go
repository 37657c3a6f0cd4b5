package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"bus-tracker/internal/model"
)

// StartTrip marks a trip in progress and records the actual start time.
func (s *Store) StartTrip(ctx context.Context, tripID string, at time.Time) error {
	return s.setStatus(ctx, tripID, model.TripInProgress, "actual_start", at)
}

// CompleteTrip marks a trip completed and records the actual end time.
func (s *Store) CompleteTrip(ctx context.Context, tripID string, at time.Time) error {
	return s.setStatus(ctx, tripID, model.TripCompleted, "actual_end", at)
}

func (s *Store) setStatus(ctx context.Context, tripID string, status model.TripStatus, tsColumn string, at time.Time) error {
	q := fmt.Sprintf(`UPDATE trips SET status = $1, %s = $2 WHERE id = $3`, tsColumn)
	res, err := s.db.ExecContext(ctx, q, status, at, tripID)
	if err != nil {
		return fmt.Errorf("update trip status: %w", err)
	}
	return checkAffected(res, "trip", tripID)
}

// MarkStopArrival records the actual arrival at a stop, first arrival wins.
func (s *Store) MarkStopArrival(ctx context.Context, tripID, stopID string, at time.Time) error {
	q := `
UPDATE stop_visits SET actual_arrival = $1
WHERE trip_id = $2 AND stop_id = $3 AND actual_arrival IS NULL`
	if _, err := s.db.ExecContext(ctx, q, at, tripID, stopID); err != nil {
		return fmt.Errorf("mark stop arrival: %w", err)
	}
	return nil
}

// MarkStopDeparture records the actual departure from a stop.
func (s *Store) MarkStopDeparture(ctx context.Context, tripID, stopID string, at time.Time) error {
	q := `
UPDATE stop_visits SET actual_departure = $1
WHERE trip_id = $2 AND stop_id = $3 AND actual_departure IS NULL`
	if _, err := s.db.ExecContext(ctx, q, at, tripID, stopID); err != nil {
		return fmt.Errorf("mark stop departure: %w", err)
	}
	return nil
}

func checkAffected(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return &model.NotFoundError{Kind: kind, ID: id}
	}
	return nil
}
