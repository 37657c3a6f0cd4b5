package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"bus-tracker/internal/auth"
)

type allowAll struct{}

func (allowAll) CanJoin(ctx context.Context, p auth.Principal, topic string) error { return nil }

type denyAll struct{}

func (denyAll) CanJoin(ctx context.Context, p auth.Principal, topic string) error {
	return fmt.Errorf("join %s denied", topic)
}

func newTestHub(authz Authorizer) *Hub {
	r, _ := auth.NewResolver([]byte("test-secret"))
	return NewHub(r, authz, Options{SendBuffer: 8})
}

func connect(h *Hub, id string, role auth.Role) *Client {
	return h.register(auth.Principal{ID: id, Role: role}, nil)
}

func receive(t *testing.T, c *Client) map[string]any {
	t.Helper()
	select {
	case data := <-c.send:
		var m map[string]any
		if err := json.Unmarshal(data, &m); err != nil {
			t.Fatalf("unmarshal delivered message: %v", err)
		}
		return m
	case <-time.After(time.Second):
		t.Fatalf("no message delivered")
		return nil
	}
}

func assertEmpty(t *testing.T, c *Client) {
	t.Helper()
	select {
	case data := <-c.send:
		t.Fatalf("unexpected delivery: %s", data)
	default:
	}
}

func TestAutoSubscribeOnConnect(t *testing.T) {
	h := newTestHub(allowAll{})
	c := connect(h, "driver-1", auth.RoleDriver)
	if h.Subscribers(UserTopic("driver-1")) != 1 {
		t.Errorf("not subscribed to own user topic")
	}
	if h.Subscribers(RoleTopic("driver")) != 1 {
		t.Errorf("not subscribed to own role topic")
	}
	h.Publish(UserTopic("driver-1"), map[string]any{"type": "ping"})
	if got := receive(t, c); got["type"] != "ping" {
		t.Errorf("delivered %v", got)
	}
}

func TestPublishReachesExactlyMembers(t *testing.T) {
	h := newTestHub(allowAll{})
	a := connect(h, "guardian-1", auth.RoleGuardian)
	b := connect(h, "guardian-2", auth.RoleGuardian)
	c := connect(h, "guardian-3", auth.RoleGuardian)

	if err := h.Join(context.Background(), a, TripTopic("42")); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := h.Join(context.Background(), b, TripTopic("42")); err != nil {
		t.Fatalf("join: %v", err)
	}

	n := h.Publish(TripTopic("42"), map[string]any{"type": "position_update"})
	if n != 2 {
		t.Fatalf("delivered to %d members, want 2", n)
	}
	receive(t, a)
	receive(t, b)
	assertEmpty(t, c)
}

func TestLeaveStopsDelivery(t *testing.T) {
	h := newTestHub(allowAll{})
	a := connect(h, "guardian-1", auth.RoleGuardian)
	if err := h.Join(context.Background(), a, TripTopic("42")); err != nil {
		t.Fatalf("join: %v", err)
	}
	h.Leave(a, TripTopic("42"))
	if n := h.Publish(TripTopic("42"), map[string]any{"type": "x"}); n != 0 {
		t.Fatalf("delivered to %d after leave", n)
	}
	assertEmpty(t, a)
}

func TestUnauthorizedJoinRejected(t *testing.T) {
	h := newTestHub(denyAll{})
	a := connect(h, "guardian-1", auth.RoleGuardian)
	if err := h.Join(context.Background(), a, TripTopic("42")); err == nil {
		t.Fatalf("join should be rejected")
	}
	if h.Subscribers(TripTopic("42")) != 0 {
		t.Fatalf("rejected join still added membership")
	}
}

func TestMalformedTopicRejected(t *testing.T) {
	h := newTestHub(allowAll{})
	a := connect(h, "u1", auth.RoleAdmin)
	for _, topic := range []string{"", "trip", "bus-42", "trip-"} {
		if err := h.Join(context.Background(), a, topic); err == nil {
			t.Errorf("Join(%q) should fail", topic)
		}
	}
}

func TestUnregisterRemovesAllMemberships(t *testing.T) {
	h := newTestHub(allowAll{})
	a := connect(h, "guardian-1", auth.RoleGuardian)
	if err := h.Join(context.Background(), a, TripTopic("42")); err != nil {
		t.Fatalf("join: %v", err)
	}
	h.unregister(a)
	if h.Subscribers(TripTopic("42")) != 0 || h.Subscribers(UserTopic("guardian-1")) != 0 {
		t.Fatalf("unregister left memberships behind")
	}
	if n := h.Publish(TripTopic("42"), map[string]any{"type": "x"}); n != 0 {
		t.Fatalf("delivered to %d after unregister", n)
	}
	if err := h.Join(context.Background(), a, TripTopic("43")); err == nil {
		t.Fatalf("join after unregister should fail")
	}
}

func TestSlowClientIsDropped(t *testing.T) {
	h := newTestHub(allowAll{})
	a := connect(h, "guardian-1", auth.RoleGuardian)
	topic := UserTopic("guardian-1")
	for i := 0; i < cap(a.send); i++ {
		h.Publish(topic, map[string]any{"i": i})
	}
	// Buffer now full; next publish prunes the client instead of blocking.
	if n := h.Publish(topic, map[string]any{"overflow": true}); n != 0 {
		t.Fatalf("delivered %d, want 0 (drop)", n)
	}
	if h.Subscribers(topic) != 0 {
		t.Fatalf("slow client still subscribed")
	}
}

type captureMirror struct{ topics []string }

func (m *captureMirror) Mirror(topic string, data []byte) { m.topics = append(m.topics, topic) }

func TestMirrorReceivesEntityTopicsOnly(t *testing.T) {
	h := newTestHub(allowAll{})
	m := &captureMirror{}
	h.SetMirror(m)
	connect(h, "guardian-1", auth.RoleGuardian)

	h.Publish(TripTopic("42"), map[string]any{"type": "x"})
	h.Publish(VehicleTopic("7"), map[string]any{"type": "x"})
	h.Publish(UserTopic("guardian-1"), map[string]any{"type": "x"})

	if len(m.topics) != 2 || m.topics[0] != "trip-42" || m.topics[1] != "vehicle-7" {
		t.Fatalf("mirrored %v, want [trip-42 vehicle-7]", m.topics)
	}
}
