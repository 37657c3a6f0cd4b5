package model

import (
	"encoding/json"
	"time"
)

// Envelope is the one internal shape every inbound websocket message is
// normalized into. Legacy client aliases are mapped onto Type at the gateway
// boundary.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// PositionUpdate is the inbound payload from a driver device.
type PositionUpdate struct {
	TripID     string     `json:"tripId"`
	Lat        float64    `json:"lat"`
	Lng        float64    `json:"lng"`
	SpeedKph   *float64   `json:"speedKph,omitempty"`
	HeadingDeg *float64   `json:"headingDeg,omitempty"`
	ClientTime *time.Time `json:"clientTimestamp,omitempty"`
}

// PositionBroadcast is fanned out to trip-<id> and vehicle-<id> on every
// accepted update.
type PositionBroadcast struct {
	Type            string    `json:"type"` // "position_update"
	TripID          string    `json:"tripId"`
	VehicleID       string    `json:"vehicleId"`
	DriverID        string    `json:"driverId"`
	Lat             float64   `json:"lat"`
	Lng             float64   `json:"lng"`
	SpeedKph        float64   `json:"speedKph"`
	HeadingDeg      float64   `json:"headingDeg"`
	ServerTimestamp time.Time `json:"serverTimestamp"`
}

type ApproachingStop struct {
	Type           string  `json:"type"` // "approaching_stop"
	TripID         string  `json:"tripId"`
	StopID         string  `json:"stopId"`
	DistanceMeters float64 `json:"distanceMeters"`
	EtaMinutes     int     `json:"etaMinutes"`
	Message        string  `json:"message,omitempty"`
}

type DelayAlert struct {
	Type         string `json:"type"` // "delay_alert"
	TripID       string `json:"tripId"`
	DelayMinutes int    `json:"delayMinutes"`
	Severity     string `json:"severity"`
	Message      string `json:"message,omitempty"`
}

type TripStatusUpdate struct {
	Type      string     `json:"type"` // "trip_status"
	TripID    string     `json:"tripId"`
	Status    TripStatus `json:"status"`
	Timestamp time.Time  `json:"timestamp"`
}

// Ack is returned to the sending connection only.
type Ack struct {
	Type            string    `json:"type"` // "ack"
	Success         bool      `json:"success"`
	ServerTimestamp time.Time `json:"serverTimestamp"`
	TriggeredEvents []string  `json:"triggeredEvents"`
	Diagnostics     []string  `json:"diagnostics,omitempty"`
	Error           *AckError `json:"error,omitempty"`
}

type AckError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

const (
	AckCodeValidation    = "validation_error"
	AckCodeAuthorization = "authorization_error"
	AckCodeNotFound      = "not_found"
	AckCodeRateLimited   = "rate_limited"
	AckCodeInternal      = "internal_error"
)
