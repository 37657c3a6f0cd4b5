package notify

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"bus-tracker/internal/geo"
	"bus-tracker/internal/model"
)

type fakeEventStore struct {
	events    []model.NotificationEvent
	existsErr error
	createErr error
}

func (s *fakeEventStore) EventExists(ctx context.Context, tripID, subject string, day time.Time) (bool, error) {
	if s.existsErr != nil {
		return false, s.existsErr
	}
	for _, ev := range s.events {
		if ev.TripID == tripID && ev.Subject == subject && ev.DayBucket.Equal(day) {
			return true, nil
		}
	}
	return false, nil
}

func (s *fakeEventStore) CreateEvent(ctx context.Context, ev model.NotificationEvent) error {
	if s.createErr != nil {
		return s.createErr
	}
	s.events = append(s.events, ev)
	return nil
}

type fakePublisher struct {
	published map[string]int
}

func (p *fakePublisher) Publish(topic string, payload any) int {
	if p.published == nil {
		p.published = make(map[string]int)
	}
	p.published[topic]++
	return 1
}

var (
	stopPoint = geo.Point{Lat: 41.39, Lng: 2.18}
	nearStop  = geo.Point{Lat: 41.3901, Lng: 2.1801} // a few meters away
	farAway   = geo.Point{Lat: 41.50, Lng: 2.30}
)

func trigger(store *fakeEventStore, pub *fakePublisher) (*Notifier, Trigger) {
	n := New(store, pub, time.UTC)
	return n, Trigger{
		TripID:       "trip-1",
		Subject:      "stop-3",
		Target:       stopPoint,
		RadiusMeters: 60,
		Recipients:   []string{"guardian-1", "guardian-2"},
		Payload:      map[string]any{"type": "approaching_stop"},
	}
}

func TestTryNotifyOutsideRadiusNoop(t *testing.T) {
	store := &fakeEventStore{}
	pub := &fakePublisher{}
	n, trig := trigger(store, pub)

	sent, err := n.TryNotify(context.Background(), trig, farAway)
	if err != nil || sent {
		t.Fatalf("TryNotify = %v,%v, want false,nil", sent, err)
	}
	if len(store.events) != 0 || len(pub.published) != 0 {
		t.Fatalf("outside radius must have no side effect")
	}
}

func TestTryNotifyDedupExactlyOnce(t *testing.T) {
	store := &fakeEventStore{}
	pub := &fakePublisher{}
	n, trig := trigger(store, pub)
	ctx := context.Background()

	first, err := n.TryNotify(ctx, trig, nearStop)
	if err != nil || !first {
		t.Fatalf("first TryNotify = %v,%v, want true,nil", first, err)
	}
	second, err := n.TryNotify(ctx, trig, nearStop)
	if err != nil || second {
		t.Fatalf("second TryNotify = %v,%v, want false,nil", second, err)
	}
	if len(store.events) != 1 {
		t.Fatalf("persisted %d events, want exactly 1", len(store.events))
	}
	ev := store.events[0]
	if ev.TripID != "trip-1" || ev.Subject != "stop-3" || ev.Message == "" {
		t.Errorf("event = %+v", ev)
	}
	if pub.published["trip-trip-1"] != 1 || pub.published["user-guardian-1"] != 1 || pub.published["user-guardian-2"] != 1 {
		t.Errorf("published = %v", pub.published)
	}
}

func TestTryNotifyNewDayNewEvent(t *testing.T) {
	store := &fakeEventStore{}
	pub := &fakePublisher{}
	n, trig := trigger(store, pub)
	ctx := context.Background()

	day1 := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	n.now = func() time.Time { return day1 }
	if sent, _ := n.TryNotify(ctx, trig, nearStop); !sent {
		t.Fatalf("day 1 notification not sent")
	}
	n.now = func() time.Time { return day1.AddDate(0, 0, 1) }
	if sent, _ := n.TryNotify(ctx, trig, nearStop); !sent {
		t.Fatalf("same subject on a new day must notify again")
	}
	if len(store.events) != 2 {
		t.Fatalf("persisted %d events, want 2", len(store.events))
	}
}

func TestTryNotifyStoreErrors(t *testing.T) {
	ctx := context.Background()

	n, trig := trigger(&fakeEventStore{existsErr: fmt.Errorf("db down")}, &fakePublisher{})
	if sent, err := n.TryNotify(ctx, trig, nearStop); sent || err == nil {
		t.Fatalf("exists error: got %v,%v", sent, err)
	}

	store := &fakeEventStore{createErr: fmt.Errorf("db down")}
	pub := &fakePublisher{}
	n, trig = trigger(store, pub)
	sent, err := n.TryNotify(ctx, trig, nearStop)
	if sent || err == nil {
		t.Fatalf("create error: got %v,%v", sent, err)
	}
	var perr *model.PersistenceError
	if !errors.As(err, &perr) {
		t.Fatalf("error %T is not a PersistenceError", err)
	}
	if len(pub.published) != 0 {
		t.Fatalf("failed create must not publish")
	}
}

func TestTryNotifyOnceSkipsGeofence(t *testing.T) {
	store := &fakeEventStore{}
	pub := &fakePublisher{}
	n := New(store, pub, time.UTC)
	ctx := context.Background()

	sent, err := n.TryNotifyOnce(ctx, "trip-1", SubjectScheduleDelay, []string{"guardian-1"},
		model.DelayAlert{Type: "delay_alert", TripID: "trip-1", DelayMinutes: 8, Severity: "medium"})
	if err != nil || !sent {
		t.Fatalf("TryNotifyOnce = %v,%v", sent, err)
	}
	if sent, _ := n.TryNotifyOnce(ctx, "trip-1", SubjectScheduleDelay, nil, nil); sent {
		t.Fatalf("delay alert must dedup per day")
	}
}

func TestLifecycleEventsPerRecipient(t *testing.T) {
	store := &fakeEventStore{}
	pub := &fakePublisher{}
	n := New(store, pub, time.UTC)
	trip := &model.Trip{ID: "trip-1"}
	recipients := []string{"guardian-1", "guardian-2", "guardian-3"}

	if err := n.NotifyDeparture(context.Background(), trip, recipients); err != nil {
		t.Fatalf("NotifyDeparture: %v", err)
	}
	if len(store.events) != len(recipients) {
		t.Fatalf("persisted %d events, want one per recipient (%d)", len(store.events), len(recipients))
	}
	if pub.published["trip-trip-1"] != 1 {
		t.Errorf("trip topic publishes = %d, want 1", pub.published["trip-trip-1"])
	}
	for _, r := range recipients {
		if pub.published["user-"+r] != 1 {
			t.Errorf("recipient %s publishes = %d, want 1", r, pub.published["user-"+r])
		}
	}
}

func TestHumanDistance(t *testing.T) {
	if got := HumanDistance(850); got != "850 m" {
		t.Errorf("HumanDistance(850) = %q", got)
	}
	if got := HumanDistance(1230); got != "1.2 km" {
		t.Errorf("HumanDistance(1230) = %q", got)
	}
}
