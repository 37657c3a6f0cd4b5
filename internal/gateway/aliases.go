package gateway

// Canonical inbound message types.
const (
	TypePositionUpdate = "position_update"
	TypeJoin           = "join"
	TypeLeave          = "leave"
	TypeTripStarted    = "trip_started"
	TypeTripCompleted  = "trip_completed"
)

// aliases maps legacy client message names onto the canonical types so
// handler logic exists once.
var aliases = map[string]string{
	"location_update": TypePositionUpdate,
	"driver:location": TypePositionUpdate,
	"updateLocation":  TypePositionUpdate,
	"subscribe":       TypeJoin,
	"join_room":       TypeJoin,
	"unsubscribe":     TypeLeave,
	"leave_room":      TypeLeave,
	"start_trip":      TypeTripStarted,
	"end_trip":        TypeTripCompleted,
}

// NormalizeType resolves a possibly-legacy message name to its canonical
// type. Unknown names pass through unchanged.
func NormalizeType(t string) string {
	if canonical, ok := aliases[t]; ok {
		return canonical
	}
	return t
}
