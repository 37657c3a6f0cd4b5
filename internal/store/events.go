package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"bus-tracker/internal/model"
)

// EventExists checks the dedup key (trip, subject, day).
func (s *Store) EventExists(ctx context.Context, tripID, subject string, day time.Time) (bool, error) {
	q := `
SELECT EXISTS (
  SELECT 1 FROM notification_events
  WHERE trip_id = $1 AND subject = $2 AND day_bucket = $3::date
)`
	var exists bool
	if err := s.db.QueryRowContext(ctx, q, tripID, subject, day).Scan(&exists); err != nil {
		return false, fmt.Errorf("query notification event: %w", err)
	}
	return exists, nil
}

// CreateEvent persists a notification event.
func (s *Store) CreateEvent(ctx context.Context, ev model.NotificationEvent) error {
	q := `
INSERT INTO notification_events (id, trip_id, subject, day_bucket, recipients, message, created_at)
VALUES ($1, $2, $3, $4::date, $5, $6, $7)`
	_, err := s.db.ExecContext(ctx, q,
		ev.ID, ev.TripID, ev.Subject, ev.DayBucket, strings.Join(ev.Recipients, ","), ev.Message, ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert notification event: %w", err)
	}
	return nil
}
