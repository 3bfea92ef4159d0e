package storage

import (
	"context"
	"errors"
	"time"

	"github.com/example/ride-dispatch/internal/models"
)

var (
	// ErrNotFound is returned for unknown ride/driver/rating lookups.
	ErrNotFound = errors.New("storage: not found")

	// ErrDuplicateRating enforces at most one rating per (ride, rater).
	ErrDuplicateRating = errors.New("storage: rating already exists")
)

// RideStore persists rides and owns the per-ride mutual-exclusion boundary
// used for acceptance arbitration and all lifecycle transitions.
type RideStore interface {
	CreateRide(ctx context.Context, r *models.Ride) error
	GetRide(ctx context.Context, id string) (*models.Ride, error)

	// Mutate loads the ride, runs fn on it inside the ride's exclusive
	// critical section (row lock or store mutex) and persists the result
	// when fn returns nil. fn must not do I/O: the hold time is the
	// ordering boundary for every transition on the ride.
	Mutate(ctx context.Context, id string, fn func(*models.Ride) error) (*models.Ride, error)

	// ListExpiredRequests returns rides still REQUESTED and driverless
	// whose requested_at is older than cutoff.
	ListExpiredRequests(ctx context.Context, cutoff time.Time, limit int) ([]*models.Ride, error)

	// ActiveRideForDriver returns the driver's ride currently between
	// acceptance and completion, or ErrNotFound.
	ActiveRideForDriver(ctx context.Context, driverID string) (*models.Ride, error)
}

// AvailabilityStore keeps one dispatch record per driver.
type AvailabilityStore interface {
	GetAvailability(ctx context.Context, driverID string) (*models.DriverAvailability, error)
	UpsertAvailability(ctx context.Context, a *models.DriverAvailability) error
	SetStatus(ctx context.Context, driverID string, status models.AvailabilityStatus) error
	RecordCompletedRide(ctx context.Context, driverID string) error
	ApplyRating(ctx context.Context, driverID string, rating float64, count int) error
}

// TokenStore maps users to their mobile-push destinations. Clearing a token
// makes future sends fail fast instead of retrying a dead destination.
type TokenStore interface {
	PushToken(ctx context.Context, userID string) (string, error)
	SetPushToken(ctx context.Context, userID, token string) error
	ClearPushToken(ctx context.Context, userID string) error
}

// RatingStore persists ride ratings, unique per (ride, rater).
type RatingStore interface {
	SaveRating(ctx context.Context, r *models.RideRating) error
	RatingStats(ctx context.Context, userID string) (avg float64, count int, err error)
}
