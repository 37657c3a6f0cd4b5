// Package notify decides whether a condition warrants a notification,
// persists each event exactly once per (trip, subject, day) and hands the
// payload to the broadcast fabric.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"bus-tracker/internal/broadcast"
	"bus-tracker/internal/geo"
	"bus-tracker/internal/model"
)

const SubjectScheduleDelay = "schedule_delay"

// EventStore is the notification-event collaborator.
type EventStore interface {
	EventExists(ctx context.Context, tripID, subject string, day time.Time) (bool, error)
	CreateEvent(ctx context.Context, ev model.NotificationEvent) error
}

// Publisher is the topic fan-out side, satisfied by broadcast.Hub.
type Publisher interface {
	Publish(topic string, payload any) int
}

// Metrics is implemented by the host.
type Metrics interface {
	SentInc(kind string)
	DedupedInc()
}

type Notifier struct {
	events  EventStore
	pub     Publisher
	metrics Metrics
	tz      *time.Location
	now     func() time.Time
}

func New(events EventStore, pub Publisher, tz *time.Location) *Notifier {
	if tz == nil {
		tz = time.Local
	}
	return &Notifier{events: events, pub: pub, tz: tz, now: time.Now}
}

func (n *Notifier) SetMetrics(m Metrics) { n.metrics = m }

// Trigger is one notifiable proximity condition.
type Trigger struct {
	TripID       string
	Subject      string // dedup subject, a stop id for proximity triggers
	Target       geo.Point
	RadiusMeters float64
	Recipients   []string // guardian user ids
	Payload      any      // broadcast body, also sent to trip-<id>
}

// TryNotify fires at most one notification per (trip, subject, day). Returns
// whether a notification was sent. Outside the geofence nothing happens.
func (n *Notifier) TryNotify(ctx context.Context, trig Trigger, current geo.Point) (bool, error) {
	if !geo.WithinRadius(current, trig.Target, trig.RadiusMeters) {
		return false, nil
	}
	return n.notifyOnce(ctx, trig.TripID, trig.Subject, trig.Recipients, trig.Payload,
		HumanDistance(geo.Distance(current, trig.Target)))
}

// TryNotifyOnce is the non-proximity variant used for delay alerts: dedup
// only, no geofence gate.
func (n *Notifier) TryNotifyOnce(ctx context.Context, tripID, subject string, recipients []string, payload any) (bool, error) {
	return n.notifyOnce(ctx, tripID, subject, recipients, payload, "")
}

func (n *Notifier) notifyOnce(ctx context.Context, tripID, subject string, recipients []string, payload any, message string) (bool, error) {
	day := n.dayBucket()
	exists, err := n.events.EventExists(ctx, tripID, subject, day)
	if err != nil {
		return false, &model.PersistenceError{Op: "notification exists check", Err: err}
	}
	if exists {
		if n.metrics != nil {
			n.metrics.DedupedInc()
		}
		return false, nil
	}
	ev := model.NotificationEvent{
		ID:         uuid.NewString(),
		TripID:     tripID,
		Subject:    subject,
		DayBucket:  day,
		Recipients: recipients,
		Message:    message,
		CreatedAt:  n.now(),
	}
	if err := n.events.CreateEvent(ctx, ev); err != nil {
		return false, &model.PersistenceError{Op: "notification create", Err: err}
	}
	n.dispatch(tripID, recipients, payload)
	if n.metrics != nil {
		n.metrics.SentInc(subject)
	}
	return true, nil
}

// NotifyDeparture creates one event per recipient when a trip starts. Not
// proximity-gated and not deduped; the caller invokes it once per lifecycle
// transition.
func (n *Notifier) NotifyDeparture(ctx context.Context, trip *model.Trip, recipients []string) error {
	return n.lifecycle(ctx, trip, recipients, "departure", model.TripInProgress)
}

// NotifyArrival mirrors NotifyDeparture for trip completion.
func (n *Notifier) NotifyArrival(ctx context.Context, trip *model.Trip, recipients []string) error {
	return n.lifecycle(ctx, trip, recipients, "arrival", model.TripCompleted)
}

func (n *Notifier) lifecycle(ctx context.Context, trip *model.Trip, recipients []string, subject string, status model.TripStatus) error {
	now := n.now()
	for _, rcpt := range recipients {
		ev := model.NotificationEvent{
			ID:         uuid.NewString(),
			TripID:     trip.ID,
			Subject:    subject,
			DayBucket:  n.dayBucket(),
			Recipients: []string{rcpt},
			CreatedAt:  now,
		}
		if err := n.events.CreateEvent(ctx, ev); err != nil {
			return &model.PersistenceError{Op: fmt.Sprintf("%s event create", subject), Err: err}
		}
	}
	n.dispatch(trip.ID, recipients, model.TripStatusUpdate{
		Type:      "trip_status",
		TripID:    trip.ID,
		Status:    status,
		Timestamp: now,
	})
	if n.metrics != nil {
		n.metrics.SentInc(subject)
	}
	return nil
}

func (n *Notifier) dispatch(tripID string, recipients []string, payload any) {
	if n.pub == nil {
		return
	}
	n.pub.Publish(broadcast.TripTopic(tripID), payload)
	for _, rcpt := range recipients {
		n.pub.Publish(broadcast.UserTopic(rcpt), payload)
	}
}

func (n *Notifier) dayBucket() time.Time {
	now := n.now().In(n.tz)
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, n.tz)
}

// HumanDistance renders a distance for message bodies, e.g. "850 m" or "1.2 km".
func HumanDistance(meters float64) string {
	if meters < 1000 {
		return fmt.Sprintf("%.0f m", meters)
	}
	return fmt.Sprintf("%.1f km", meters/1000)
}
