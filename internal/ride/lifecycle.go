package ride

import (
	"fmt"
	"time"

	"github.com/example/ride-dispatch/internal/models"
)

// Role of the actor driving a transition.
type Role string

const (
	RoleRider  Role = "rider"
	RoleDriver Role = "driver"
	// RoleSystem covers the expiry reaper and other internal callers.
	RoleSystem Role = "system"
)

// Actor is the authenticated identity behind an operation. The identity
// provider is trusted; no authentication happens here.
type Actor struct {
	ID   string
	Role Role
}

// forwardEdges is the happy-path edge table. Side terminals are handled
// separately because their validity depends on driver assignment.
var forwardEdges = map[models.RideStatus]models.RideStatus{
	models.StatusRequested:       models.StatusAccepted,
	models.StatusAccepted:        models.StatusOnRouteToPickup,
	models.StatusOnRouteToPickup: models.StatusArrivedAtPickup,
	models.StatusArrivedAtPickup: models.StatusOnTrip,
	models.StatusOnTrip:          models.StatusCompleted,
}

// CanTransition reports whether (from, to) is a valid edge for a ride with
// the given driver assignment.
func CanTransition(from, to models.RideStatus, driverAssigned bool) bool {
	if from.Terminal() {
		return false
	}
	switch to {
	case models.StatusCancelledByRider:
		return true
	case models.StatusCancelledByDriver:
		return driverAssigned
	case models.StatusNoDriverFound:
		return from == models.StatusRequested && !driverAssigned
	default:
		return forwardEdges[from] == to
	}
}

// Transition advances r to the requested state, stamps the matching
// timestamp and returns the notification events to publish. Any pair outside
// the edge table fails with *InvalidTransitionError and mutates nothing; the
// caller must hold the ride's critical section.
func Transition(r *models.Ride, to models.RideStatus, actor Actor, now time.Time) ([]models.NotificationEvent, error) {
	if !to.Valid() {
		return nil, &ValidationError{Field: "status", Reason: fmt.Sprintf("unknown state %q", to)}
	}
	if !CanTransition(r.Status, to, r.DriverID != nil) {
		return nil, &InvalidTransitionError{From: r.Status, To: to}
	}

	r.Status = to
	switch to {
	case models.StatusAccepted:
		t := now
		r.AcceptedAt = &t
	case models.StatusArrivedAtPickup:
		t := now
		r.ArrivedAtPickupAt = &t
	case models.StatusOnTrip:
		t := now
		r.TripStartedAt = &t
	case models.StatusCompleted:
		t := now
		r.CompletedAt = &t
	case models.StatusCancelledByRider, models.StatusCancelledByDriver, models.StatusNoDriverFound:
		t := now
		r.CancelledAt = &t
	}

	return eventsFor(r, to, actor), nil
}

// CreatedEvents are the notifications published for a freshly requested ride:
// a receipt for the rider and a broadcast to all online drivers.
func CreatedEvents(r *models.Ride) []models.NotificationEvent {
	return []models.NotificationEvent{
		{
			Type:         models.EventRideRequested,
			Title:        "Ride Requested",
			Body:         fmt.Sprintf("Your ride %s is now requested.", r.ID),
			RideID:       r.ID,
			Group:        models.UserGroup(r.RiderID),
			TargetUserID: r.RiderID,
		},
		{
			Type:   models.EventNewRideRequest,
			Title:  "New Ride Request",
			Body:   "A rider nearby is looking for a driver.",
			RideID: r.ID,
			Group:  models.DriversGroup,
			Data: map[string]string{
				"pickup_lat": fmt.Sprintf("%.7f", r.Pickup.Lat),
				"pickup_lng": fmt.Sprintf("%.7f", r.Pickup.Lng),
			},
		},
	}
}

func eventsFor(r *models.Ride, to models.RideStatus, actor Actor) []models.NotificationEvent {
	rider := func(typ models.EventType, title, body string) models.NotificationEvent {
		return models.NotificationEvent{
			Type:         typ,
			Title:        title,
			Body:         body,
			RideID:       r.ID,
			Group:        models.UserGroup(r.RiderID),
			TargetUserID: r.RiderID,
		}
	}

	switch to {
	case models.StatusAccepted:
		return []models.NotificationEvent{
			rider(models.EventRideAssigned, "Driver Assigned", "A driver accepted your ride and is on the way."),
		}
	case models.StatusOnRouteToPickup:
		return []models.NotificationEvent{
			rider(models.EventOnRouteToPickup, "Driver On The Way", "Your driver is heading to your pickup location."),
		}
	case models.StatusArrivedAtPickup:
		return []models.NotificationEvent{
			rider(models.EventDriverArrived, "Driver Arrived", "Your driver has arrived at the pickup location."),
		}
	case models.StatusOnTrip:
		return []models.NotificationEvent{
			rider(models.EventRideStarted, "Ride Started", "Enjoy your trip!"),
		}
	case models.StatusCompleted:
		evs := []models.NotificationEvent{
			rider(models.EventRideCompleted, "Ride Completed", fmt.Sprintf("Your ride %s is complete. Thanks for riding!", r.ID)),
		}
		if r.DriverID != nil {
			evs = append(evs, models.NotificationEvent{
				Type:         models.EventRideCompleted,
				Title:        "Trip Completed",
				Body:         "Trip completed. The fare has been recorded.",
				RideID:       r.ID,
				Group:        models.UserGroup(*r.DriverID),
				TargetUserID: *r.DriverID,
			})
		}
		return evs
	case models.StatusCancelledByRider:
		evs := []models.NotificationEvent{
			rider(models.EventCancelledByRider, "Ride Cancelled", "You've cancelled your ride request."),
		}
		if r.DriverID != nil {
			evs = append(evs, models.NotificationEvent{
				Type:         models.EventCancelledByRider,
				Title:        "Ride Cancelled",
				Body:         "The rider cancelled this ride.",
				RideID:       r.ID,
				Group:        models.UserGroup(*r.DriverID),
				TargetUserID: *r.DriverID,
			})
		}
		return evs
	case models.StatusCancelledByDriver:
		return []models.NotificationEvent{
			rider(models.EventCancelledByDriver, "Ride Cancelled", "Your driver cancelled the ride. Try again?"),
		}
	case models.StatusNoDriverFound:
		return []models.NotificationEvent{
			rider(models.EventNoDriverFound, "No Driver Found", "We couldn't find a driver for your ride request. Please try again."),
		}
	}
	return nil
}
