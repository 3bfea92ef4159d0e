package models

import "time"

type Coord struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// RideStatus is the ride lifecycle state.
type RideStatus string

const (
	StatusRequested         RideStatus = "REQUESTED"
	StatusAccepted          RideStatus = "ACCEPTED"
	StatusOnRouteToPickup   RideStatus = "ON_ROUTE_TO_PICKUP"
	StatusArrivedAtPickup   RideStatus = "ARRIVED_AT_PICKUP"
	StatusOnTrip            RideStatus = "ON_TRIP"
	StatusCompleted         RideStatus = "COMPLETED"
	StatusCancelledByRider  RideStatus = "CANCELLED_BY_RIDER"
	StatusCancelledByDriver RideStatus = "CANCELLED_BY_DRIVER"
	StatusNoDriverFound     RideStatus = "NO_DRIVER_FOUND"
)

// Terminal reports whether s admits no further transitions.
func (s RideStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCancelledByRider, StatusCancelledByDriver, StatusNoDriverFound:
		return true
	}
	return false
}

// Valid reports whether s is a known lifecycle state.
func (s RideStatus) Valid() bool {
	switch s {
	case StatusRequested, StatusAccepted, StatusOnRouteToPickup, StatusArrivedAtPickup,
		StatusOnTrip, StatusCompleted, StatusCancelledByRider, StatusCancelledByDriver,
		StatusNoDriverFound:
		return true
	}
	return false
}

// PaymentStatus tracks payment separately from the ride lifecycle.
type PaymentStatus string

const (
	PaymentPending    PaymentStatus = "PENDING"
	PaymentProcessing PaymentStatus = "PROCESSING"
	PaymentCompleted  PaymentStatus = "COMPLETED"
	PaymentFailed     PaymentStatus = "FAILED"
	PaymentRefunded   PaymentStatus = "REFUNDED"
)

// Ride is one rider's transport request, tracked through a fixed lifecycle.
// Pointer fields are nil until the corresponding milestone is reached.
type Ride struct {
	ID      string
	RiderID string
	// DriverID stays nil strictly until acceptance wins; once set it is
	// immutable for the life of the ride.
	DriverID *string

	Pickup             Coord
	PickupAddress      string
	Destination        Coord
	DestinationAddress string

	Status        RideStatus
	PaymentStatus PaymentStatus

	RequestedAt       time.Time
	AcceptedAt        *time.Time
	ArrivedAtPickupAt *time.Time
	TripStartedAt     *time.Time
	CompletedAt       *time.Time
	CancelledAt       *time.Time

	DistanceKm      *float64
	DurationSeconds *int

	EstimatedFare *float64
	BaseFare      *float64
	DistanceFare  *float64
	DurationFare  *float64
	TotalFare     *float64

	// CancellationFee stays 0.00: no fee schedule is specified.
	CancellationFee    float64
	CancellationReason string
}

// Clone returns a deep copy so stores can hand rides across goroutines.
func (r *Ride) Clone() *Ride {
	c := *r
	c.DriverID = cloneStr(r.DriverID)
	c.AcceptedAt = cloneTime(r.AcceptedAt)
	c.ArrivedAtPickupAt = cloneTime(r.ArrivedAtPickupAt)
	c.TripStartedAt = cloneTime(r.TripStartedAt)
	c.CompletedAt = cloneTime(r.CompletedAt)
	c.CancelledAt = cloneTime(r.CancelledAt)
	c.DistanceKm = cloneF64(r.DistanceKm)
	c.DurationSeconds = cloneInt(r.DurationSeconds)
	c.EstimatedFare = cloneF64(r.EstimatedFare)
	c.BaseFare = cloneF64(r.BaseFare)
	c.DistanceFare = cloneF64(r.DistanceFare)
	c.DurationFare = cloneF64(r.DurationFare)
	c.TotalFare = cloneF64(r.TotalFare)
	return &c
}

func cloneStr(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneTime(p *time.Time) *time.Time {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneF64(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// AvailabilityStatus is a driver's dispatch-relevant presence.
type AvailabilityStatus string

const (
	DriverOnline      AvailabilityStatus = "ONLINE"
	DriverOffline     AvailabilityStatus = "OFFLINE"
	DriverBusy        AvailabilityStatus = "BUSY"
	DriverBreak       AvailabilityStatus = "BREAK"
	DriverMaintenance AvailabilityStatus = "MAINTENANCE"
	DriverUnavailable AvailabilityStatus = "UNAVAILABLE"
)

// PlannedRoute captures where a driver is already heading, so the matcher can
// opportunistically offer pickups along the way.
type PlannedRoute struct {
	Destination Coord     `json:"destination"`
	DepartBy    time.Time `json:"depart_by"`
	ArriveBy    time.Time `json:"arrive_by"`
}

// DriverAvailability is the single dispatch record kept per driver.
// Created lazily on the first go-online call, toggled but never deleted.
type DriverAvailability struct {
	DriverID          string
	Status            AvailabilityStatus
	Location          *Coord
	LocationAddress   string
	LocationUpdatedAt time.Time
	ServiceArea       string
	MaxPickupKm       float64
	PlannedRoute      *PlannedRoute
	Rating            float64
	CompletedRides    int
	PushToken         string
}

// DriverSummary is a matcher result row, ordered by distance.
type DriverSummary struct {
	DriverID   string  `json:"driver_id"`
	Location   Coord   `json:"location"`
	DistanceKm float64 `json:"distance_km"`
	Rating     float64 `json:"rating"`
}

// RideRating is one participant's rating of the other; at most one per rater
// for a given ride.
type RideRating struct {
	ID          string
	RideID      string
	RaterID     string
	RatedUserID string
	Rating      int
	Comment     string
	CreatedAt   time.Time
}
