package ride

import (
	"errors"
	"testing"
	"time"

	"github.com/example/ride-dispatch/internal/models"
)

func newRequestedRide() *models.Ride {
	return &models.Ride{
		ID:          "ride1",
		RiderID:     "rider1",
		Pickup:      models.Coord{Lat: 5.60, Lng: -0.18},
		Destination: models.Coord{Lat: 5.65, Lng: -0.19},
		Status:      models.StatusRequested,
		RequestedAt: time.Now(),
	}
}

func assign(r *models.Ride, driverID string) {
	r.DriverID = &driverID
}

func TestHappyPathStampsEachTimestampOnce(t *testing.T) {
	r := newRequestedRide()
	assign(r, "drv1")
	driver := Actor{ID: "drv1", Role: RoleDriver}

	steps := []models.RideStatus{
		models.StatusAccepted,
		models.StatusOnRouteToPickup,
		models.StatusArrivedAtPickup,
		models.StatusOnTrip,
		models.StatusCompleted,
	}
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	for i, to := range steps {
		evs, err := Transition(r, to, driver, base.Add(time.Duration(i)*time.Minute))
		if err != nil {
			t.Fatalf("step %s: %v", to, err)
		}
		if len(evs) == 0 {
			t.Fatalf("step %s produced no events", to)
		}
	}

	if r.AcceptedAt == nil || !r.AcceptedAt.Equal(base) {
		t.Fatalf("accepted_at = %v", r.AcceptedAt)
	}
	if r.ArrivedAtPickupAt == nil || !r.ArrivedAtPickupAt.Equal(base.Add(2*time.Minute)) {
		t.Fatalf("arrived_at_pickup_at = %v", r.ArrivedAtPickupAt)
	}
	if r.TripStartedAt == nil || !r.TripStartedAt.Equal(base.Add(3*time.Minute)) {
		t.Fatalf("trip_started_at = %v", r.TripStartedAt)
	}
	if r.CompletedAt == nil || !r.CompletedAt.Equal(base.Add(4*time.Minute)) {
		t.Fatalf("completed_at = %v", r.CompletedAt)
	}
	if r.CancelledAt != nil {
		t.Fatalf("cancelled_at set on completed ride")
	}
}

func TestInvalidEdgeMutatesNothing(t *testing.T) {
	r := newRequestedRide()
	_, err := Transition(r, models.StatusOnTrip, Actor{ID: "drv1", Role: RoleDriver}, time.Now())
	var terr *InvalidTransitionError
	if !errors.As(err, &terr) {
		t.Fatalf("expected InvalidTransitionError, got %v", err)
	}
	if r.Status != models.StatusRequested || r.TripStartedAt != nil {
		t.Fatalf("failed transition mutated the ride: %+v", r)
	}
}

func TestTerminalStatesAdmitNoEdges(t *testing.T) {
	for _, from := range []models.RideStatus{
		models.StatusCompleted, models.StatusCancelledByRider,
		models.StatusCancelledByDriver, models.StatusNoDriverFound,
	} {
		if CanTransition(from, models.StatusAccepted, true) {
			t.Fatalf("%s -> ACCEPTED allowed", from)
		}
		if CanTransition(from, models.StatusCancelledByRider, true) {
			t.Fatalf("%s -> CANCELLED_BY_RIDER allowed", from)
		}
	}
}

func TestRiderCanCancelFromAnyActiveState(t *testing.T) {
	for _, from := range []models.RideStatus{
		models.StatusRequested, models.StatusAccepted, models.StatusOnRouteToPickup,
		models.StatusArrivedAtPickup, models.StatusOnTrip,
	} {
		if !CanTransition(from, models.StatusCancelledByRider, true) {
			t.Fatalf("rider cancel from %s rejected", from)
		}
	}
}

func TestDriverCancelRequiresAssignment(t *testing.T) {
	if CanTransition(models.StatusRequested, models.StatusCancelledByDriver, false) {
		t.Fatal("driver cancel allowed on driverless ride")
	}
	if !CanTransition(models.StatusOnTrip, models.StatusCancelledByDriver, true) {
		t.Fatal("driver cancel rejected on assigned ride")
	}
}

func TestNoDriverFoundOnlyFromDriverlessRequested(t *testing.T) {
	if !CanTransition(models.StatusRequested, models.StatusNoDriverFound, false) {
		t.Fatal("expiry rejected on driverless REQUESTED")
	}
	if CanTransition(models.StatusRequested, models.StatusNoDriverFound, true) {
		t.Fatal("expiry allowed on assigned ride")
	}
	if CanTransition(models.StatusAccepted, models.StatusNoDriverFound, false) {
		t.Fatal("expiry allowed past matching")
	}
}

func TestCancelEventNotifiesBothParties(t *testing.T) {
	r := newRequestedRide()
	assign(r, "drv1")
	r.Status = models.StatusAccepted
	evs, err := Transition(r, models.StatusCancelledByRider, Actor{ID: "rider1", Role: RoleRider}, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if len(evs) != 2 {
		t.Fatalf("expected rider + driver events, got %d", len(evs))
	}
	if evs[0].Group != models.UserGroup("rider1") || evs[1].Group != models.UserGroup("drv1") {
		t.Fatalf("unexpected groups %q, %q", evs[0].Group, evs[1].Group)
	}
}

func TestCreatedEventsTargetRiderAndDriverPool(t *testing.T) {
	r := newRequestedRide()
	evs := CreatedEvents(r)
	if len(evs) != 2 {
		t.Fatalf("expected 2 events, got %d", len(evs))
	}
	if evs[0].Group != models.UserGroup("rider1") || evs[0].TargetUserID != "rider1" {
		t.Fatalf("rider receipt misaddressed: %+v", evs[0])
	}
	if evs[1].Group != models.DriversGroup || evs[1].TargetUserID != "" {
		t.Fatalf("driver broadcast misaddressed: %+v", evs[1])
	}
}
