package broadcast

import (
	"fmt"
	"strings"
)

// Topic kinds. A topic is "<kind>-<id>".
const (
	KindTrip    = "trip"
	KindVehicle = "vehicle"
	KindUser    = "user"
	KindRole    = "role"
)

func TripTopic(tripID string) string       { return KindTrip + "-" + tripID }
func VehicleTopic(vehicleID string) string { return KindVehicle + "-" + vehicleID }
func UserTopic(userID string) string       { return KindUser + "-" + userID }
func RoleTopic(role string) string         { return KindRole + "-" + role }

// ParseTopic splits a topic name into kind and entity id.
func ParseTopic(topic string) (kind, id string, err error) {
	kind, id, ok := strings.Cut(topic, "-")
	if !ok || id == "" {
		return "", "", fmt.Errorf("malformed topic %q", topic)
	}
	switch kind {
	case KindTrip, KindVehicle, KindUser, KindRole:
		return kind, id, nil
	}
	return "", "", fmt.Errorf("unknown topic kind %q", kind)
}
