package models

// EventType identifies a ride state-change notification.
type EventType string

const (
	EventRideRequested     EventType = "RIDE_REQUESTED"
	EventNewRideRequest    EventType = "NEW_RIDE_REQUEST"
	EventRideAssigned      EventType = "RIDE_ASSIGNED"
	EventOnRouteToPickup   EventType = "RIDE_ON_ROUTE_TO_PICKUP"
	EventDriverArrived     EventType = "DRIVER_ARRIVED"
	EventRideStarted       EventType = "RIDE_STARTED"
	EventRideCompleted     EventType = "RIDE_COMPLETED"
	EventCancelledByRider  EventType = "RIDE_CANCELLED_BY_RIDER"
	EventCancelledByDriver EventType = "RIDE_CANCELLED_BY_DRIVER"
	EventNoDriverFound     EventType = "NO_DRIVER_FOUND"
	EventRequestExpired    EventType = "RIDE_REQUEST_EXPIRED"
	EventDriverLocation    EventType = "DRIVER_LOCATION_UPDATE"
)

// DriversGroup is the shared broadcast group every online driver subscribes to.
const DriversGroup = "drivers"

// UserGroup is the per-user broadcast group key.
func UserGroup(userID string) string { return "user:" + userID }

// NotificationEvent is one state-change message addressed to a broadcast
// group and, when TargetUserID is set, to that user's push destination.
// It is transient: produced by a transition, consumed by the fanout.
type NotificationEvent struct {
	Type   EventType         `json:"type"`
	Title  string            `json:"title"`
	Body   string            `json:"body"`
	RideID string            `json:"ride_id"`
	Group  string            `json:"-"`
	Data   map[string]string `json:"data,omitempty"`

	// TargetUserID selects the mobile-push destination. Empty for
	// group-only events such as the all-drivers broadcast.
	TargetUserID string `json:"-"`
}
