package ride

import (
	"errors"
	"fmt"

	"github.com/example/ride-dispatch/internal/models"
)

var (
	// ErrNotFound means the ride (or driver) does not exist at all.
	ErrNotFound = errors.New("ride not found")

	// ErrPermissionDenied means the actor is not a participant or has the
	// wrong role for the operation.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrRideUnavailable means the ride can no longer be accepted: it moved
	// past matching (cancelled, expired, completed).
	ErrRideUnavailable = errors.New("ride no longer available for acceptance")

	// ErrConflict means the acceptance race was lost: another driver won
	// moments earlier. Callers should re-poll other opportunities, not retry.
	ErrConflict = errors.New("ride already accepted by another driver")

	// ErrAlreadyRated means this rater has already rated the ride.
	ErrAlreadyRated = errors.New("ride already rated by this user")
)

// InvalidTransitionError reports a (current, requested) pair outside the
// lifecycle edge table. The ride is left untouched.
type InvalidTransitionError struct {
	From models.RideStatus
	To   models.RideStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid ride transition %s -> %s", e.From, e.To)
}

// ValidationError rejects malformed input synchronously, before anything is
// persisted.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}
