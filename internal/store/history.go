package store

import (
	"context"
	"fmt"

	"bus-tracker/internal/model"
)

// AppendPosition appends a raw sample to the history log. Fire and forget at
// the call site; a failure never fails the update that produced the sample.
func (s *Store) AppendPosition(ctx context.Context, p model.PositionSample) error {
	q := `
INSERT INTO position_history (trip_id, lat, lng, speed_kph, heading_deg, client_time, received_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := s.db.ExecContext(ctx, q,
		p.TripID, p.Lat, p.Lng, p.SpeedKph, p.HeadingDeg, p.ClientTime, p.ReceivedAt)
	if err != nil {
		return fmt.Errorf("insert position history: %w", err)
	}
	return nil
}
