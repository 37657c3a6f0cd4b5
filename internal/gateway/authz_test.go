package gateway

import (
	"context"
	"errors"
	"testing"

	"bus-tracker/internal/auth"
	"bus-tracker/internal/model"
)

func authzFixture() *TopicAuthorizer {
	return NewTopicAuthorizer(&fakeCatalog{
		trips: map[string]*model.Trip{
			"trip-1": {ID: "trip-1", VehicleID: "bus-7", DriverID: "driver-1", Status: model.TripInProgress},
			"trip-2": {ID: "trip-2", VehicleID: "bus-8", DriverID: "driver-2", Status: model.TripScheduled},
		},
		enrolled: map[string]bool{"guardian-1|trip-1": true},
	})
}

func TestCanJoin(t *testing.T) {
	a := authzFixture()
	admin := auth.Principal{ID: "ops-1", Role: auth.RoleAdmin}
	drv := auth.Principal{ID: "driver-1", Role: auth.RoleDriver}
	grd := auth.Principal{ID: "guardian-1", Role: auth.RoleGuardian}

	tests := []struct {
		name  string
		p     auth.Principal
		topic string
		want  bool
	}{
		{"admin joins any trip", admin, "trip-trip-2", true},
		{"admin joins any vehicle", admin, "vehicle-bus-7", true},
		{"driver joins own trip", drv, "trip-trip-1", true},
		{"driver joins other trip", drv, "trip-trip-2", false},
		{"driver joins own vehicle via active trip", drv, "vehicle-bus-7", true},
		{"driver joins idle vehicle", drv, "vehicle-bus-8", false},
		{"guardian with enrolled rider", grd, "trip-trip-1", true},
		{"guardian without enrollment", grd, "trip-trip-2", false},
		{"guardian joins vehicle via active trip", grd, "vehicle-bus-7", true},
		{"own user topic", grd, "user-guardian-1", true},
		{"another user's topic", grd, "user-driver-1", false},
		{"own role topic", drv, "role-driver", true},
		{"another role topic", drv, "role-admin", false},
		{"unknown trip", drv, "trip-ghost", false},
	}
	for _, tc := range tests {
		err := a.CanJoin(context.Background(), tc.p, tc.topic)
		if tc.want && err != nil {
			t.Errorf("%s: unexpected error %v", tc.name, err)
		}
		if !tc.want && err == nil {
			t.Errorf("%s: join allowed", tc.name)
		}
	}
}

func TestCanJoinHidesMissingEntities(t *testing.T) {
	a := authzFixture()
	drv := auth.Principal{ID: "driver-1", Role: auth.RoleDriver}
	err := a.CanJoin(context.Background(), drv, "trip-ghost")
	var az *model.AuthorizationError
	if !errors.As(err, &az) {
		t.Fatalf("missing trip surfaced as %T, want AuthorizationError", err)
	}
}
