package model

import "time"

type TripStatus string

const (
	TripScheduled  TripStatus = "scheduled"
	TripInProgress TripStatus = "in_progress"
	TripCompleted  TripStatus = "completed"
	TripCancelled  TripStatus = "cancelled"
)

type Trip struct {
	ID          string
	RouteID     string
	VehicleID   string
	DriverID    string
	ServiceDate time.Time // calendar day the schedule was materialized for
	Status      TripStatus
	ActualStart *time.Time
	ActualEnd   *time.Time
	Stops       []StopVisit // ordered by Sequence
}

type StopVisit struct {
	StopID          string
	Sequence        int
	Lat             float64
	Lng             float64
	ScheduledTime   string // time of day, "HH:MM"
	ActualArrival   *time.Time
	ActualDeparture *time.Time
	BoardedRiders   []string
	DroppedRiders   []string
}

// Pending reports whether the vehicle has not yet reached this stop.
func (sv StopVisit) Pending() bool { return sv.ActualArrival == nil }

type PositionSample struct {
	TripID     string
	Lat        float64
	Lng        float64
	SpeedKph   *float64
	HeadingDeg *float64
	ClientTime *time.Time
	ReceivedAt time.Time
}

type NotificationEvent struct {
	ID         string
	TripID     string
	Subject    string // a stop id, or a symbolic subject like "schedule_delay"
	DayBucket  time.Time
	Recipients []string
	Message    string
	CreatedAt  time.Time
}

// Settings are the tunables read from the settings collaborator, with
// config-supplied defaults when a key is absent.
type Settings struct {
	GeofenceRadiusMeters float64
	DelayThresholdMin    int
	MinUpdateInterval    time.Duration
	FallbackSpeedKph     float64
}
