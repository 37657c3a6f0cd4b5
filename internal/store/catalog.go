package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"bus-tracker/internal/model"
)

// Trip loads a trip with its ordered stop visits. Returns a NotFoundError
// when the trip does not exist.
func (s *Store) Trip(ctx context.Context, tripID string) (*model.Trip, error) {
	q := `
SELECT id, route_id, vehicle_id, driver_id, service_date, status, actual_start, actual_end
FROM trips WHERE id = $1`
	var t model.Trip
	var actualStart, actualEnd sql.NullTime
	err := s.db.QueryRowContext(ctx, q, tripID).Scan(
		&t.ID, &t.RouteID, &t.VehicleID, &t.DriverID, &t.ServiceDate, &t.Status, &actualStart, &actualEnd)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &model.NotFoundError{Kind: "trip", ID: tripID}
	}
	if err != nil {
		return nil, fmt.Errorf("query trip: %w", err)
	}
	if actualStart.Valid {
		t.ActualStart = &actualStart.Time
	}
	if actualEnd.Valid {
		t.ActualEnd = &actualEnd.Time
	}

	stops, err := s.stopVisits(ctx, tripID)
	if err != nil {
		return nil, err
	}
	t.Stops = stops
	return &t, nil
}

func (s *Store) stopVisits(ctx context.Context, tripID string) ([]model.StopVisit, error) {
	q := `
SELECT sv.stop_id, sv.seq, st.lat, st.lng, sv.scheduled_time, sv.actual_arrival, sv.actual_departure
FROM stop_visits sv
JOIN stops st ON st.id = sv.stop_id
WHERE sv.trip_id = $1
ORDER BY sv.seq`
	rows, err := s.db.QueryContext(ctx, q, tripID)
	if err != nil {
		return nil, fmt.Errorf("query stop visits: %w", err)
	}
	defer rows.Close()

	var visits []model.StopVisit
	for rows.Next() {
		var sv model.StopVisit
		var arrival, departure sql.NullTime
		if err := rows.Scan(&sv.StopID, &sv.Sequence, &sv.Lat, &sv.Lng, &sv.ScheduledTime, &arrival, &departure); err != nil {
			return nil, err
		}
		if arrival.Valid {
			sv.ActualArrival = &arrival.Time
		}
		if departure.Valid {
			sv.ActualDeparture = &departure.Time
		}
		visits = append(visits, sv)
	}
	return visits, rows.Err()
}

// TripGuardians returns the guardian user ids of every rider enrolled on the
// trip, deduplicated.
func (s *Store) TripGuardians(ctx context.Context, tripID string) ([]string, error) {
	q := `
SELECT DISTINCT rg.guardian_id
FROM trip_riders tr
JOIN rider_guardians rg ON rg.rider_id = tr.rider_id
WHERE tr.trip_id = $1`
	return s.queryIDs(ctx, q, tripID)
}

// StopGuardians returns the guardians of riders boarding at one stop of the
// trip.
func (s *Store) StopGuardians(ctx context.Context, tripID, stopID string) ([]string, error) {
	q := `
SELECT DISTINCT rg.guardian_id
FROM trip_riders tr
JOIN rider_guardians rg ON rg.rider_id = tr.rider_id
WHERE tr.trip_id = $1 AND tr.stop_id = $2`
	return s.queryIDs(ctx, q, tripID, stopID)
}

// GuardianOnTrip reports whether the guardian has an enrolled rider on the
// trip. Used by topic-join authorization.
func (s *Store) GuardianOnTrip(ctx context.Context, guardianID, tripID string) (bool, error) {
	q := `
SELECT EXISTS (
  SELECT 1
  FROM trip_riders tr
  JOIN rider_guardians rg ON rg.rider_id = tr.rider_id
  WHERE tr.trip_id = $1 AND rg.guardian_id = $2
)`
	var ok bool
	if err := s.db.QueryRowContext(ctx, q, tripID, guardianID).Scan(&ok); err != nil {
		return false, fmt.Errorf("query guardian enrollment: %w", err)
	}
	return ok, nil
}

// ActiveTripForVehicle resolves the in-progress trip currently assigned to a
// vehicle, if any.
func (s *Store) ActiveTripForVehicle(ctx context.Context, vehicleID string) (*model.Trip, error) {
	q := `
SELECT id FROM trips
WHERE vehicle_id = $1 AND status = 'in_progress'
ORDER BY service_date DESC
LIMIT 1`
	var tripID string
	err := s.db.QueryRowContext(ctx, q, vehicleID).Scan(&tripID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &model.NotFoundError{Kind: "active trip for vehicle", ID: vehicleID}
	}
	if err != nil {
		return nil, fmt.Errorf("query active trip for vehicle: %w", err)
	}
	return s.Trip(ctx, tripID)
}

// Settings reads the tunables, falling back to the supplied defaults for
// absent keys.
func (s *Store) Settings(ctx context.Context, defaults model.Settings) (model.Settings, error) {
	q := `SELECT key, value FROM settings WHERE key IN
('geofence_radius_meters', 'delay_threshold_minutes', 'min_update_interval_seconds', 'fallback_speed_kph')`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return defaults, fmt.Errorf("query settings: %w", err)
	}
	defer rows.Close()

	out := defaults
	for rows.Next() {
		var key string
		var value float64
		if err := rows.Scan(&key, &value); err != nil {
			return defaults, err
		}
		switch key {
		case "geofence_radius_meters":
			out.GeofenceRadiusMeters = value
		case "delay_threshold_minutes":
			out.DelayThresholdMin = int(value)
		case "min_update_interval_seconds":
			out.MinUpdateInterval = time.Duration(value * float64(time.Second))
		case "fallback_speed_kph":
			out.FallbackSpeedKph = value
		}
	}
	return out, rows.Err()
}

func (s *Store) queryIDs(ctx context.Context, q string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query ids: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
