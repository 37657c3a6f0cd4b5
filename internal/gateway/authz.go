package gateway

import (
	"context"
	"errors"
	"fmt"

	"bus-tracker/internal/auth"
	"bus-tracker/internal/broadcast"
	"bus-tracker/internal/model"
)

// AuthzCatalog is the read surface topic authorization needs.
type AuthzCatalog interface {
	Trip(ctx context.Context, tripID string) (*model.Trip, error)
	GuardianOnTrip(ctx context.Context, guardianID, tripID string) (bool, error)
	ActiveTripForVehicle(ctx context.Context, vehicleID string) (*model.Trip, error)
}

// TopicAuthorizer enforces the join rules: admins join anything, everyone
// else only topics they have a relationship with. Guardians need an enrolled
// rider on the trip, drivers need the assignment.
type TopicAuthorizer struct {
	catalog AuthzCatalog
}

func NewTopicAuthorizer(catalog AuthzCatalog) *TopicAuthorizer {
	return &TopicAuthorizer{catalog: catalog}
}

func (a *TopicAuthorizer) CanJoin(ctx context.Context, p auth.Principal, topic string) error {
	kind, id, err := broadcast.ParseTopic(topic)
	if err != nil {
		return err
	}
	if p.Role == auth.RoleAdmin {
		return nil
	}
	switch kind {
	case broadcast.KindUser:
		if id != p.ID {
			return &model.AuthorizationError{Reason: "cannot join another user's topic"}
		}
		return nil
	case broadcast.KindRole:
		if id != string(p.Role) {
			return &model.AuthorizationError{Reason: "cannot join another role's topic"}
		}
		return nil
	case broadcast.KindTrip:
		trip, err := a.catalog.Trip(ctx, id)
		if err != nil {
			return joinErr(err, topic)
		}
		return a.tripRule(ctx, p, trip)
	case broadcast.KindVehicle:
		trip, err := a.catalog.ActiveTripForVehicle(ctx, id)
		if err != nil {
			return joinErr(err, topic)
		}
		return a.tripRule(ctx, p, trip)
	}
	return &model.AuthorizationError{Reason: fmt.Sprintf("topic %q not joinable", topic)}
}

func (a *TopicAuthorizer) tripRule(ctx context.Context, p auth.Principal, trip *model.Trip) error {
	switch p.Role {
	case auth.RoleDriver:
		if trip.DriverID == p.ID {
			return nil
		}
		return &model.AuthorizationError{Reason: "driver is not assigned to this trip"}
	case auth.RoleGuardian:
		ok, err := a.catalog.GuardianOnTrip(ctx, p.ID, trip.ID)
		if err != nil {
			return fmt.Errorf("enrollment check: %w", err)
		}
		if !ok {
			return &model.AuthorizationError{Reason: "guardian has no enrolled rider on this trip"}
		}
		return nil
	}
	return &model.AuthorizationError{Reason: fmt.Sprintf("role %q may not join trip topics", p.Role)}
}

func joinErr(err error, topic string) error {
	var nf *model.NotFoundError
	if errors.As(err, &nf) {
		return &model.AuthorizationError{Reason: fmt.Sprintf("no joinable entity behind %q", topic)}
	}
	return err
}
