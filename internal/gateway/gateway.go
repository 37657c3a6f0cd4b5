// Package gateway is the entry point for driver telemetry: it authenticates
// the sender, validates the payload, runs the tracking/geofence/delay
// pipeline and fans the results out.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"bus-tracker/internal/broadcast"
	"bus-tracker/internal/eta"
	"bus-tracker/internal/geo"
	"bus-tracker/internal/model"
	"bus-tracker/internal/notify"
	"bus-tracker/internal/tracking"

	"bus-tracker/internal/auth"
)

// Catalog is the read side of the trip/rider store.
type Catalog interface {
	Trip(ctx context.Context, tripID string) (*model.Trip, error)
	TripGuardians(ctx context.Context, tripID string) ([]string, error)
	StopGuardians(ctx context.Context, tripID, stopID string) ([]string, error)
}

// TripWriter mutates trip lifecycle state.
type TripWriter interface {
	StartTrip(ctx context.Context, tripID string, at time.Time) error
	CompleteTrip(ctx context.Context, tripID string, at time.Time) error
	MarkStopArrival(ctx context.Context, tripID, stopID string, at time.Time) error
	MarkStopDeparture(ctx context.Context, tripID, stopID string, at time.Time) error
}

// History is the position-history collaborator.
type History interface {
	AppendPosition(ctx context.Context, p model.PositionSample) error
}

// Notifier is satisfied by notify.Notifier.
type Notifier interface {
	TryNotify(ctx context.Context, trig notify.Trigger, current geo.Point) (bool, error)
	TryNotifyOnce(ctx context.Context, tripID, subject string, recipients []string, payload any) (bool, error)
	NotifyDeparture(ctx context.Context, trip *model.Trip, recipients []string) error
	NotifyArrival(ctx context.Context, trip *model.Trip, recipients []string) error
}

// Rooms is the membership side of the hub.
type Rooms interface {
	Join(ctx context.Context, c *broadcast.Client, topic string) error
	Leave(c *broadcast.Client, topic string)
}

// Publisher is the fan-out side of the hub.
type Publisher interface {
	Publish(topic string, payload any) int
}

// Metrics is implemented by the host.
type Metrics interface {
	ProcessedInc()
	RejectedInc(reason string)
	ObserveUpdate(d time.Duration)
	TrackersSet(n int)
}

const persistTimeout = 2 * time.Second

type Gateway struct {
	catalog  Catalog
	writer   TripWriter
	history  History
	notifier Notifier
	rooms    Rooms
	pub      Publisher
	trackers *tracking.Store
	settings model.Settings
	metrics  Metrics
	now      func() time.Time

	limiter *rateLimiter
}

func New(catalog Catalog, writer TripWriter, history History, notifier Notifier, rooms Rooms, pub Publisher, trackers *tracking.Store, settings model.Settings) *Gateway {
	return &Gateway{
		catalog:  catalog,
		writer:   writer,
		history:  history,
		notifier: notifier,
		rooms:    rooms,
		pub:      pub,
		trackers: trackers,
		settings: settings,
		now:      time.Now,
		limiter:  newRateLimiter(settings.MinUpdateInterval),
	}
}

func (g *Gateway) SetMetrics(m Metrics) { g.metrics = m }

// HandleMessage implements broadcast.Handler. Every inbound message is
// normalized, dispatched and answered with an ack to the sender only.
func (g *Gateway) HandleMessage(c *broadcast.Client, data []byte) {
	ctx := context.Background()
	var env model.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		g.reply(c, g.rejectAck(model.AckCodeValidation, "malformed message"))
		return
	}
	switch NormalizeType(env.Type) {
	case TypePositionUpdate:
		var pu model.PositionUpdate
		if err := json.Unmarshal(env.Data, &pu); err != nil {
			g.reply(c, g.rejectAck(model.AckCodeValidation, "malformed position payload"))
			return
		}
		g.reply(c, g.HandlePositionUpdate(ctx, c.Principal(), pu))
	case TypeJoin, TypeLeave:
		var tr struct {
			Topic string `json:"topic"`
		}
		if err := json.Unmarshal(env.Data, &tr); err != nil || tr.Topic == "" {
			g.reply(c, g.rejectAck(model.AckCodeValidation, "missing topic"))
			return
		}
		if NormalizeType(env.Type) == TypeJoin {
			if err := g.rooms.Join(ctx, c, tr.Topic); err != nil {
				g.reply(c, g.rejectAck(codeForError(err), err.Error()))
				return
			}
		} else {
			g.rooms.Leave(c, tr.Topic)
		}
		g.reply(c, g.successAck(nil, nil))
	case TypeTripStarted:
		g.reply(c, g.handleLifecycle(ctx, c.Principal(), env.Data, true))
	case TypeTripCompleted:
		g.reply(c, g.handleLifecycle(ctx, c.Principal(), env.Data, false))
	default:
		g.reply(c, g.rejectAck(model.AckCodeValidation, fmt.Sprintf("unknown message type %q", env.Type)))
	}
}

// HandlePositionUpdate runs the full pipeline for one sample and returns the
// ack for the sender. Broadcast happens on every accepted update regardless
// of notification outcomes; persistence failures surface as diagnostics only.
func (g *Gateway) HandlePositionUpdate(ctx context.Context, sender auth.Principal, pu model.PositionUpdate) model.Ack {
	start := g.now()
	point := geo.Point{Lat: pu.Lat, Lng: pu.Lng}

	if pu.TripID == "" {
		return g.reject(model.AckCodeValidation, "tripId is required")
	}
	if err := geo.Validate(point); err != nil {
		return g.reject(model.AckCodeValidation, err.Error())
	}
	if pu.SpeedKph != nil && (*pu.SpeedKph < 0 || *pu.SpeedKph > 300) {
		return g.reject(model.AckCodeValidation, "speedKph out of range")
	}

	trip, err := g.catalog.Trip(ctx, pu.TripID)
	if err != nil {
		return g.reject(codeForError(err), err.Error())
	}
	if trip.Status == model.TripCompleted || trip.Status == model.TripCancelled {
		return g.reject(model.AckCodeValidation, fmt.Sprintf("trip %s is %s", trip.ID, trip.Status))
	}
	if sender.Role != auth.RoleDriver || trip.DriverID != sender.ID {
		return g.reject(model.AckCodeAuthorization, "sender is not the driver assigned to this trip")
	}
	if !g.limiter.allow(trip.ID, start) {
		return g.reject(model.AckCodeRateLimited, "updates arriving faster than the minimum interval")
	}

	receivedAt := start
	sampleTime := receivedAt
	if pu.ClientTime != nil {
		sampleTime = *pu.ClientTime
	}

	var triggered []string
	var diagnostics []string
	var speedKph float64

	// Per-trip lock covers the EMA read-modify-write and the geofence/dedup
	// checks; distinct trips proceed independently.
	_ = g.trackers.Do(trip.ID, func(tr *tracking.SpeedTracker) error {
		tr.Update(point, sampleTime, pu.SpeedKph)
		speedKph, _ = tr.SpeedKph()

		// Leaving the geofence of the stop we arrived at closes the visit.
		if left := lastArrivedStop(trip); left != nil {
			leftPoint := geo.Point{Lat: left.Lat, Lng: left.Lng}
			if !geo.WithinRadius(point, leftPoint, g.settings.GeofenceRadiusMeters) {
				wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
				if err := g.writer.MarkStopDeparture(wctx, trip.ID, left.StopID, g.now()); err != nil {
					diagnostics = append(diagnostics, fmt.Sprintf("stop departure write failed: %v", err))
				} else {
					left.ActualDeparture = ptrTime(g.now())
				}
				cancel()
			}
		}

		next := nextPendingStop(trip)
		if next == nil {
			return nil
		}
		stopPoint := geo.Point{Lat: next.Lat, Lng: next.Lng}
		estimate := eta.ComputeETA(point, stopPoint, tr, g.settings.FallbackSpeedKph)

		if geo.WithinRadius(point, stopPoint, g.settings.GeofenceRadiusMeters) {
			sent, diag := g.approachStop(ctx, trip, next, point, estimate)
			if sent {
				triggered = append(triggered, "approaching_stop:"+next.StopID)
			}
			diagnostics = append(diagnostics, diag...)
		}

		if estimate.Known {
			sent, diag := g.checkDelay(ctx, trip, next, estimate)
			if sent {
				triggered = append(triggered, "delay_alert")
			}
			diagnostics = append(diagnostics, diag...)
		}
		return nil
	})

	// Broadcast always happens once the update is accepted.
	pos := model.PositionBroadcast{
		Type:            TypePositionUpdate,
		TripID:          trip.ID,
		VehicleID:       trip.VehicleID,
		DriverID:        trip.DriverID,
		Lat:             pu.Lat,
		Lng:             pu.Lng,
		SpeedKph:        speedKph,
		HeadingDeg:      deref(pu.HeadingDeg),
		ServerTimestamp: receivedAt,
	}
	g.pub.Publish(broadcast.TripTopic(trip.ID), pos)
	g.pub.Publish(broadcast.VehicleTopic(trip.VehicleID), pos)

	sample := model.PositionSample{
		TripID:     trip.ID,
		Lat:        pu.Lat,
		Lng:        pu.Lng,
		SpeedKph:   pu.SpeedKph,
		HeadingDeg: pu.HeadingDeg,
		ClientTime: pu.ClientTime,
		ReceivedAt: receivedAt,
	}
	hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	if err := g.history.AppendPosition(hctx, sample); err != nil {
		log.Printf("position history append failed for trip %s: %v", trip.ID, err)
		diagnostics = append(diagnostics, fmt.Sprintf("history append failed: %v", err))
	}

	if g.metrics != nil {
		g.metrics.ProcessedInc()
		g.metrics.ObserveUpdate(g.now().Sub(start))
		g.metrics.TrackersSet(g.trackers.Len())
	}
	return g.successAck(triggered, diagnostics)
}

// approachStop handles a geofence entry for the next pending stop.
func (g *Gateway) approachStop(ctx context.Context, trip *model.Trip, stop *model.StopVisit, point geo.Point, estimate eta.ETA) (bool, []string) {
	var diagnostics []string

	recipients, err := g.catalog.StopGuardians(ctx, trip.ID, stop.StopID)
	if err != nil {
		diagnostics = append(diagnostics, fmt.Sprintf("stop guardians lookup failed: %v", err))
	}
	dist := geo.Distance(point, geo.Point{Lat: stop.Lat, Lng: stop.Lng})
	payload := model.ApproachingStop{
		Type:           "approaching_stop",
		TripID:         trip.ID,
		StopID:         stop.StopID,
		DistanceMeters: dist,
		EtaMinutes:     estimate.Minutes,
		Message:        fmt.Sprintf("bus is %s from stop %s", notify.HumanDistance(dist), stop.StopID),
	}
	sent, err := g.notifier.TryNotify(ctx, notify.Trigger{
		TripID:       trip.ID,
		Subject:      stop.StopID,
		Target:       geo.Point{Lat: stop.Lat, Lng: stop.Lng},
		RadiusMeters: g.settings.GeofenceRadiusMeters,
		Recipients:   recipients,
		Payload:      payload,
	}, point)
	if err != nil {
		diagnostics = append(diagnostics, fmt.Sprintf("approach notification failed: %v", err))
	}

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	if err := g.writer.MarkStopArrival(wctx, trip.ID, stop.StopID, g.now()); err != nil {
		diagnostics = append(diagnostics, fmt.Sprintf("stop arrival write failed: %v", err))
	} else {
		stop.ActualArrival = ptrTime(g.now())
	}
	return sent, diagnostics
}

// checkDelay classifies schedule deviation against the next stop and alerts
// at medium severity or above.
func (g *Gateway) checkDelay(ctx context.Context, trip *model.Trip, stop *model.StopVisit, estimate eta.ETA) (bool, []string) {
	delay, err := eta.CheckDelay(g.now(), stop.ScheduledTime, estimate.Minutes, g.settings.DelayThresholdMin)
	if err != nil {
		return false, []string{fmt.Sprintf("delay check failed: %v", err)}
	}
	if !delay.Severity.AtOrAbove(eta.SeverityMedium) {
		return false, nil
	}

	var diagnostics []string
	recipients, err := g.catalog.TripGuardians(ctx, trip.ID)
	if err != nil {
		diagnostics = append(diagnostics, fmt.Sprintf("trip guardians lookup failed: %v", err))
	}
	payload := model.DelayAlert{
		Type:         "delay_alert",
		TripID:       trip.ID,
		DelayMinutes: delay.Minutes,
		Severity:     string(delay.Severity),
		Message:      fmt.Sprintf("trip %s is running %d minutes late", trip.ID, delay.Minutes),
	}
	sent, err := g.notifier.TryNotifyOnce(ctx, trip.ID, notify.SubjectScheduleDelay, recipients, payload)
	if err != nil {
		diagnostics = append(diagnostics, fmt.Sprintf("delay notification failed: %v", err))
	}
	return sent, diagnostics
}

// handleLifecycle processes trip_started / trip_completed from the driver.
func (g *Gateway) handleLifecycle(ctx context.Context, sender auth.Principal, data []byte, start bool) model.Ack {
	var req struct {
		TripID string `json:"tripId"`
	}
	if err := json.Unmarshal(data, &req); err != nil || req.TripID == "" {
		return g.reject(model.AckCodeValidation, "tripId is required")
	}
	trip, err := g.catalog.Trip(ctx, req.TripID)
	if err != nil {
		return g.reject(codeForError(err), err.Error())
	}
	if sender.Role != auth.RoleDriver || trip.DriverID != sender.ID {
		return g.reject(model.AckCodeAuthorization, "sender is not the driver assigned to this trip")
	}

	now := g.now()
	var triggered []string
	var diagnostics []string

	if start {
		if trip.Status != model.TripScheduled {
			return g.reject(model.AckCodeValidation, fmt.Sprintf("trip %s is %s, cannot start", trip.ID, trip.Status))
		}
		if err := g.writer.StartTrip(ctx, trip.ID, now); err != nil {
			return g.reject(codeForError(err), err.Error())
		}
		trip.Status = model.TripInProgress
		triggered = append(triggered, "departure")
	} else {
		if trip.Status != model.TripInProgress {
			return g.reject(model.AckCodeValidation, fmt.Sprintf("trip %s is %s, cannot complete", trip.ID, trip.Status))
		}
		if err := g.writer.CompleteTrip(ctx, trip.ID, now); err != nil {
			return g.reject(codeForError(err), err.Error())
		}
		trip.Status = model.TripCompleted
		g.trackers.Remove(trip.ID)
		g.limiter.forget(trip.ID)
		triggered = append(triggered, "arrival")
	}

	recipients, err := g.catalog.TripGuardians(ctx, trip.ID)
	if err != nil {
		diagnostics = append(diagnostics, fmt.Sprintf("trip guardians lookup failed: %v", err))
	}
	if start {
		err = g.notifier.NotifyDeparture(ctx, trip, recipients)
	} else {
		err = g.notifier.NotifyArrival(ctx, trip, recipients)
	}
	if err != nil {
		diagnostics = append(diagnostics, fmt.Sprintf("lifecycle notification failed: %v", err))
	}

	status := model.TripStatusUpdate{Type: "trip_status", TripID: trip.ID, Status: trip.Status, Timestamp: now}
	g.pub.Publish(broadcast.TripTopic(trip.ID), status)
	g.pub.Publish(broadcast.VehicleTopic(trip.VehicleID), status)

	if g.metrics != nil {
		g.metrics.TrackersSet(g.trackers.Len())
	}
	return g.successAck(triggered, diagnostics)
}

func (g *Gateway) reply(c *broadcast.Client, ack model.Ack) {
	if err := c.Send(ack); err != nil {
		log.Printf("ack send failed for %s: %v", c.Principal().ID, err)
	}
}

func (g *Gateway) successAck(triggered, diagnostics []string) model.Ack {
	if triggered == nil {
		triggered = []string{}
	}
	return model.Ack{
		Type:            "ack",
		Success:         true,
		ServerTimestamp: g.now(),
		TriggeredEvents: triggered,
		Diagnostics:     diagnostics,
	}
}

func (g *Gateway) reject(code, message string) model.Ack {
	if g.metrics != nil {
		g.metrics.RejectedInc(code)
	}
	return g.rejectAck(code, message)
}

func (g *Gateway) rejectAck(code, message string) model.Ack {
	return model.Ack{
		Type:            "ack",
		Success:         false,
		ServerTimestamp: g.now(),
		TriggeredEvents: []string{},
		Error:           &model.AckError{Code: code, Message: message},
	}
}

// lastArrivedStop is the most recent stop the vehicle arrived at but has not
// departed from.
func lastArrivedStop(trip *model.Trip) *model.StopVisit {
	for i := len(trip.Stops) - 1; i >= 0; i-- {
		sv := &trip.Stops[i]
		if sv.ActualArrival != nil {
			if sv.ActualDeparture == nil {
				return sv
			}
			return nil
		}
	}
	return nil
}

func nextPendingStop(trip *model.Trip) *model.StopVisit {
	for i := range trip.Stops {
		if trip.Stops[i].Pending() {
			return &trip.Stops[i]
		}
	}
	return nil
}

func codeForError(err error) string {
	var nf *model.NotFoundError
	var az *model.AuthorizationError
	var vd *model.ValidationError
	switch {
	case errors.As(err, &nf):
		return model.AckCodeNotFound
	case errors.As(err, &az):
		return model.AckCodeAuthorization
	case errors.As(err, &vd):
		return model.AckCodeValidation
	default:
		return model.AckCodeInternal
	}
}

func deref(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}

func ptrTime(t time.Time) *time.Time { return &t }
