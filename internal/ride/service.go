package ride

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/example/ride-dispatch/internal/fare"
	"github.com/example/ride-dispatch/internal/geo"
	"github.com/example/ride-dispatch/internal/match"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
	"github.com/example/ride-dispatch/internal/storage"
)

// EventPublisher fans out domain events. Implementations must be
// fire-and-forget: a delivery failure never fails or rolls back the
// state mutation that produced the event.
type EventPublisher interface {
	Publish(ctx context.Context, ev models.NotificationEvent)
	PublishAll(ctx context.Context, evs []models.NotificationEvent)
}

// StreamProducer mirrors ride lifecycle events onto the event stream,
// best effort.
type StreamProducer interface {
	PublishRideEvent(ctx context.Context, r *models.Ride, typ models.EventType) error
}

// Charger starts payment capture for a completed trip.
type Charger interface {
	Hold(ctx context.Context, amountMinor int64, currency, customerID string) (string, error)
}

// Service drives rides through their lifecycle. All mutations run inside the
// store's per-ride critical section, so transitions on a single ride are
// totally ordered; events are published only after the mutation commits.
type Service struct {
	Store   storage.RideStore
	Avail   storage.AvailabilityStore
	Tokens  storage.TokenStore
	Ratings storage.RatingStore
	Geo     geo.Source
	Matcher *match.Matcher
	Fare    *fare.Calculator
	Fanout  EventPublisher
	Stream  StreamProducer
	Charger Charger
	Logger  *slog.Logger

	// Currency for payment holds; fares themselves are currency-agnostic.
	Currency string

	Now   func() time.Time
	NewID func() string
}

func NewService(store storage.RideStore, avail storage.AvailabilityStore, ratings storage.RatingStore,
	src geo.Source, m *match.Matcher, calc *fare.Calculator, fanout EventPublisher, logger *slog.Logger) *Service {
	return &Service{
		Store:    store,
		Avail:    avail,
		Ratings:  ratings,
		Geo:      src,
		Matcher:  m,
		Fare:     calc,
		Fanout:   fanout,
		Logger:   logger,
		Currency: "ghs",
		Now:      time.Now,
		NewID:    uuid.NewString,
	}
}

// CreateRequest is the validated input for a new ride.
type CreateRequest struct {
	Pickup             models.Coord
	PickupAddress      string
	Destination        models.Coord
	DestinationAddress string
}

// CreateRide opens a new REQUESTED ride for the rider, estimates the fare
// (geodesic fallback if the routing provider is down) and notifies the rider
// plus the online-driver pool.
func (s *Service) CreateRide(ctx context.Context, actor Actor, req CreateRequest) (*models.Ride, error) {
	if actor.Role != RoleRider {
		return nil, ErrPermissionDenied
	}
	if err := validateCoord("pickup", req.Pickup); err != nil {
		return nil, err
	}
	if err := validateCoord("destination", req.Destination); err != nil {
		return nil, err
	}

	est := s.Fare.Estimate(ctx, req.Pickup, req.Destination)
	now := s.Now()
	r := &models.Ride{
		ID:                 s.NewID(),
		RiderID:            actor.ID,
		Pickup:             req.Pickup,
		PickupAddress:      req.PickupAddress,
		Destination:        req.Destination,
		DestinationAddress: req.DestinationAddress,
		Status:             models.StatusRequested,
		PaymentStatus:      models.PaymentPending,
		RequestedAt:        now,
		EstimatedFare:      &est.Total,
	}
	if err := s.Store.CreateRide(ctx, r); err != nil {
		return nil, err
	}
	observability.RidesCreatedTotal.Inc()

	s.Fanout.PublishAll(ctx, CreatedEvents(r))
	s.offerToNearestDrivers(ctx, r)
	s.mirror(ctx, r, models.EventRideRequested)
	return r, nil
}

// offerToNearestDrivers pushes the new request to the closest online drivers
// individually, on top of the shared-group broadcast. Best effort.
func (s *Service) offerToNearestDrivers(ctx context.Context, r *models.Ride) {
	if s.Matcher == nil {
		return
	}
	nearest, err := s.Matcher.FindNearbyDrivers(ctx, r.Pickup, match.Constraints{Limit: 10})
	if err != nil {
		s.Logger.Warn("nearby-driver prefilter failed, broadcast only", "ride_id", r.ID, "error", err)
		return
	}
	for _, d := range nearest {
		s.Fanout.Publish(ctx, models.NotificationEvent{
			Type:         models.EventNewRideRequest,
			Title:        "New Ride Request",
			Body:         "A pickup near you is waiting for a driver.",
			RideID:       r.ID,
			TargetUserID: d.DriverID,
		})
	}
}

// AcceptRide arbitrates concurrent acceptance attempts: at most one driver
// wins. Losers get ErrConflict, rides past matching get ErrRideUnavailable;
// both are distinct from ErrNotFound.
func (s *Service) AcceptRide(ctx context.Context, actor Actor, rideID string) (*models.Ride, error) {
	if actor.Role != RoleDriver {
		return nil, ErrPermissionDenied
	}
	var events []models.NotificationEvent
	updated, err := s.Store.Mutate(ctx, rideID, func(r *models.Ride) error {
		// re-check under the lock: the read outside means nothing
		switch {
		case r.Status == models.StatusRequested && r.DriverID == nil:
			id := actor.ID
			r.DriverID = &id
			evs, err := Transition(r, models.StatusAccepted, actor, s.Now())
			if err != nil {
				return err
			}
			events = evs
			return nil
		case r.Status == models.StatusAccepted:
			return ErrConflict
		default:
			return ErrRideUnavailable
		}
	})
	if err != nil {
		observability.AcceptAttemptsTotal.WithLabelValues(acceptOutcome(err)).Inc()
		return nil, mapStoreErr(err)
	}
	observability.AcceptAttemptsTotal.WithLabelValues("won").Inc()

	if err := s.Avail.SetStatus(ctx, actor.ID, models.DriverBusy); err != nil && !errors.Is(err, storage.ErrNotFound) {
		s.Logger.Warn("failed marking winning driver busy", "driver_id", actor.ID, "error", err)
	}
	s.Fanout.PublishAll(ctx, events)
	s.mirror(ctx, updated, models.EventRideAssigned)
	return updated, nil
}

func acceptOutcome(err error) string {
	switch {
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrRideUnavailable):
		return "unavailable"
	case errors.Is(err, storage.ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}

// UpdateStatus moves the ride along the happy path (en-route, arrived,
// trip started). Only the assigned driver may call it; completion and
// cancellation have their own operations.
func (s *Service) UpdateStatus(ctx context.Context, actor Actor, rideID string, to models.RideStatus) (*models.Ride, error) {
	if actor.Role != RoleDriver {
		return nil, ErrPermissionDenied
	}
	switch to {
	case models.StatusOnRouteToPickup, models.StatusArrivedAtPickup, models.StatusOnTrip:
	default:
		return nil, &ValidationError{Field: "status", Reason: "not a driver-updatable state"}
	}
	var events []models.NotificationEvent
	updated, err := s.Store.Mutate(ctx, rideID, func(r *models.Ride) error {
		if r.DriverID == nil || *r.DriverID != actor.ID {
			return ErrPermissionDenied
		}
		evs, err := Transition(r, to, actor, s.Now())
		if err != nil {
			return err
		}
		events = evs
		return nil
	})
	if err != nil {
		return nil, mapStoreErr(err)
	}
	s.Fanout.PublishAll(ctx, events)
	s.mirror(ctx, updated, statusEventType(to))
	return updated, nil
}

// CancelRide cancels on behalf of the rider or the assigned driver. The
// cancellation fee stays zero.
func (s *Service) CancelRide(ctx context.Context, actor Actor, rideID, reason string) (*models.Ride, error) {
	target := models.StatusCancelledByRider
	if actor.Role == RoleDriver {
		target = models.StatusCancelledByDriver
	}
	var events []models.NotificationEvent
	updated, err := s.Store.Mutate(ctx, rideID, func(r *models.Ride) error {
		if !s.isParticipant(r, actor) {
			return ErrPermissionDenied
		}
		evs, err := Transition(r, target, actor, s.Now())
		if err != nil {
			return err
		}
		r.CancellationReason = reason
		r.CancellationFee = 0
		events = evs
		return nil
	})
	if err != nil {
		return nil, mapStoreErr(err)
	}
	if updated.DriverID != nil {
		if err := s.Avail.SetStatus(ctx, *updated.DriverID, models.DriverOnline); err != nil && !errors.Is(err, storage.ErrNotFound) {
			s.Logger.Warn("failed releasing driver after cancel", "driver_id", *updated.DriverID, "error", err)
		}
	}
	s.Fanout.PublishAll(ctx, events)
	s.mirror(ctx, updated, statusEventType(target))
	return updated, nil
}

// CompleteTrip finishes an ON_TRIP ride, computes the final fare from the
// driver-reported actuals (or the geodesic estimate when absent) and kicks
// off payment capture asynchronously.
func (s *Service) CompleteTrip(ctx context.Context, actor Actor, rideID string, finalKm *float64, finalDurationSec *int) (*models.Ride, error) {
	if actor.Role != RoleDriver {
		return nil, ErrPermissionDenied
	}
	var events []models.NotificationEvent
	updated, err := s.Store.Mutate(ctx, rideID, func(r *models.Ride) error {
		if r.DriverID == nil || *r.DriverID != actor.ID {
			return ErrPermissionDenied
		}
		evs, err := Transition(r, models.StatusCompleted, actor, s.Now())
		if err != nil {
			return err
		}

		km, durMin := s.actuals(r, finalKm, finalDurationSec)
		b := s.Fare.Price(km, durMin)
		durSec := int(durMin * 60)
		r.DistanceKm = &km
		r.DurationSeconds = &durSec
		r.BaseFare = &b.Base
		r.DistanceFare = &b.DistanceFare
		r.DurationFare = &b.DurationFare
		r.TotalFare = &b.Total
		r.PaymentStatus = models.PaymentPending
		events = evs
		return nil
	})
	if err != nil {
		return nil, mapStoreErr(err)
	}

	if err := s.Avail.RecordCompletedRide(ctx, actor.ID); err != nil {
		s.Logger.Warn("failed bumping completed-rides counter", "driver_id", actor.ID, "error", err)
	}
	if err := s.Avail.SetStatus(ctx, actor.ID, models.DriverOnline); err != nil && !errors.Is(err, storage.ErrNotFound) {
		s.Logger.Warn("failed releasing driver after completion", "driver_id", actor.ID, "error", err)
	}

	s.Fanout.PublishAll(ctx, events)
	s.mirror(ctx, updated, models.EventRideCompleted)
	s.startPayment(updated)
	return updated, nil
}

// actuals resolves final distance/duration: driver-reported values win, then
// anything already on the ride, then the offline estimate.
func (s *Service) actuals(r *models.Ride, finalKm *float64, finalDurationSec *int) (km, durMin float64) {
	switch {
	case finalKm != nil:
		km = *finalKm
	case r.DistanceKm != nil:
		km = *r.DistanceKm
	default:
		km = geo.HaversineKm(r.Pickup, r.Destination)
	}
	switch {
	case finalDurationSec != nil:
		durMin = float64(*finalDurationSec) / 60
	case r.DurationSeconds != nil:
		durMin = float64(*r.DurationSeconds) / 60
	case r.TripStartedAt != nil:
		durMin = s.Now().Sub(*r.TripStartedAt).Minutes()
	default:
		durMin = km * 2.4
	}
	return km, durMin
}

// startPayment holds the fare against the rider, off the request path.
// Payment failures never undo the completed ride.
func (s *Service) startPayment(r *models.Ride) {
	if s.Charger == nil || r.TotalFare == nil {
		return
	}
	rideID, riderID, amountMinor := r.ID, r.RiderID, int64(*r.TotalFare*100+0.5)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if _, err := s.Charger.Hold(ctx, amountMinor, s.Currency, riderID); err != nil {
			s.Logger.Error("payment hold failed", "ride_id", rideID, "error", err)
			return
		}
		if _, err := s.Store.Mutate(ctx, rideID, func(r *models.Ride) error {
			r.PaymentStatus = models.PaymentProcessing
			return nil
		}); err != nil {
			s.Logger.Error("failed recording payment status", "ride_id", rideID, "error", err)
		}
	}()
}

// ExpireRequest moves a stale unmatched request to NO_DRIVER_FOUND. It is
// idempotent: a ride accepted a moment earlier is skipped, not failed.
func (s *Service) ExpireRequest(ctx context.Context, rideID string, cutoff time.Time) (bool, error) {
	var events []models.NotificationEvent
	updated, err := s.Store.Mutate(ctx, rideID, func(r *models.Ride) error {
		if r.Status != models.StatusRequested || r.DriverID != nil || !r.RequestedAt.Before(cutoff) {
			return errSkipExpiry
		}
		evs, err := Transition(r, models.StatusNoDriverFound, Actor{Role: RoleSystem}, s.Now())
		if err != nil {
			return err
		}
		events = evs
		return nil
	})
	if errors.Is(err, errSkipExpiry) {
		return false, nil
	}
	if err != nil {
		return false, mapStoreErr(err)
	}
	observability.RidesExpiredTotal.Inc()
	// group-only companion event so live clients can distinguish timeout
	// from an explicit no-driver outcome; the push is the NO_DRIVER_FOUND one
	events = append(events, models.NotificationEvent{
		Type:   models.EventRequestExpired,
		RideID: updated.ID,
		Group:  models.UserGroup(updated.RiderID),
	})
	s.Fanout.PublishAll(ctx, events)
	s.mirror(ctx, updated, models.EventNoDriverFound)
	return true, nil
}

var errSkipExpiry = errors.New("ride no longer expirable")

// GetRide returns the ride to a participant.
func (s *Service) GetRide(ctx context.Context, actor Actor, rideID string) (*models.Ride, error) {
	r, err := s.Store.GetRide(ctx, rideID)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	if !s.isParticipant(r, actor) {
		return nil, ErrPermissionDenied
	}
	return r, nil
}

// EstimateFare prices a prospective trip.
func (s *Service) EstimateFare(ctx context.Context, origin, dest models.Coord) (fare.Breakdown, error) {
	if err := validateCoord("pickup", origin); err != nil {
		return fare.Breakdown{}, err
	}
	if err := validateCoord("destination", dest); err != nil {
		return fare.Breakdown{}, err
	}
	return s.Fare.Estimate(ctx, origin, dest), nil
}

// RateRide records one participant's rating of the other for a completed
// ride and refreshes the rated driver's aggregate.
func (s *Service) RateRide(ctx context.Context, actor Actor, rideID string, rating int, comment string) (*models.RideRating, error) {
	if rating < 1 || rating > 5 {
		return nil, &ValidationError{Field: "rating", Reason: "must be between 1 and 5"}
	}
	r, err := s.Store.GetRide(ctx, rideID)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	if r.Status != models.StatusCompleted {
		return nil, &InvalidTransitionError{From: r.Status, To: r.Status}
	}

	var ratedUser string
	switch {
	case actor.ID == r.RiderID && r.DriverID != nil:
		ratedUser = *r.DriverID
	case r.DriverID != nil && actor.ID == *r.DriverID:
		ratedUser = r.RiderID
	default:
		return nil, ErrPermissionDenied
	}

	rr := &models.RideRating{
		ID:          s.NewID(),
		RideID:      rideID,
		RaterID:     actor.ID,
		RatedUserID: ratedUser,
		Rating:      rating,
		Comment:     comment,
		CreatedAt:   s.Now(),
	}
	if err := s.Ratings.SaveRating(ctx, rr); err != nil {
		if errors.Is(err, storage.ErrDuplicateRating) {
			return nil, ErrAlreadyRated
		}
		return nil, err
	}

	if r.DriverID != nil && ratedUser == *r.DriverID {
		if avg, count, err := s.Ratings.RatingStats(ctx, ratedUser); err == nil {
			if err := s.Avail.ApplyRating(ctx, ratedUser, avg, count); err != nil && !errors.Is(err, storage.ErrNotFound) {
				s.Logger.Warn("failed refreshing driver aggregate rating", "driver_id", ratedUser, "error", err)
			}
		}
	}
	return rr, nil
}

func (s *Service) isParticipant(r *models.Ride, actor Actor) bool {
	if actor.ID == r.RiderID {
		return true
	}
	return r.DriverID != nil && actor.ID == *r.DriverID
}

// mirror copies the lifecycle event onto the stream, best effort.
func (s *Service) mirror(ctx context.Context, r *models.Ride, typ models.EventType) {
	if s.Stream == nil {
		return
	}
	if err := s.Stream.PublishRideEvent(ctx, r, typ); err != nil {
		s.Logger.Warn("ride event stream publish failed", "ride_id", r.ID, "type", typ, "error", err)
	}
}

func statusEventType(to models.RideStatus) models.EventType {
	switch to {
	case models.StatusOnRouteToPickup:
		return models.EventOnRouteToPickup
	case models.StatusArrivedAtPickup:
		return models.EventDriverArrived
	case models.StatusOnTrip:
		return models.EventRideStarted
	case models.StatusCompleted:
		return models.EventRideCompleted
	case models.StatusCancelledByRider:
		return models.EventCancelledByRider
	case models.StatusCancelledByDriver:
		return models.EventCancelledByDriver
	case models.StatusNoDriverFound:
		return models.EventNoDriverFound
	}
	return models.EventRideRequested
}

func mapStoreErr(err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return ErrNotFound
	}
	return err
}

func validateCoord(field string, c models.Coord) error {
	if c.Lat < -90 || c.Lat > 90 {
		return &ValidationError{Field: field, Reason: "latitude out of range"}
	}
	if c.Lng < -180 || c.Lng > 180 {
		return &ValidationError{Field: field, Reason: "longitude out of range"}
	}
	if c.Lat == 0 && c.Lng == 0 {
		return &ValidationError{Field: field, Reason: "coordinates required"}
	}
	return nil
}
