package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/example/ride-dispatch/internal/match"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/ride"
	"github.com/example/ride-dispatch/internal/storage"
	"github.com/example/ride-dispatch/internal/stream"
)

type createRideRequest struct {
	Pickup             *models.Coord `json:"pickup" validate:"required"`
	PickupAddress      string        `json:"pickup_address" validate:"max=255"`
	Destination        *models.Coord `json:"destination" validate:"required"`
	DestinationAddress string        `json:"destination_address" validate:"max=255"`
}

type estimateRequest struct {
	Pickup      *models.Coord `json:"pickup" validate:"required"`
	Destination *models.Coord `json:"destination" validate:"required"`
}

type statusRequest struct {
	Status models.RideStatus `json:"status" validate:"required"`
}

type cancelRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

type completeRequest struct {
	DistanceKm      *float64 `json:"distance_km" validate:"omitempty,gt=0"`
	DurationSeconds *int     `json:"duration_seconds" validate:"omitempty,gt=0"`
}

type rateRequest struct {
	Rating  int    `json:"rating" validate:"required,min=1,max=5"`
	Comment string `json:"comment" validate:"max=500"`
}

type availabilityRequest struct {
	Status       models.AvailabilityStatus `json:"status"`
	Location     *models.Coord             `json:"location"`
	Address      string                    `json:"address" validate:"max=255"`
	ServiceArea  string                    `json:"service_area" validate:"max=100"`
	MaxPickupKm  float64                   `json:"max_pickup_km" validate:"omitempty,gt=0,lte=100"`
	PlannedRoute *models.PlannedRoute      `json:"planned_route"`
	ClearRoute   bool                      `json:"clear_route"`
	PushToken    string                    `json:"push_token" validate:"max=512"`
}

// rideResponse is the wire shape of a ride. Nil milestone fields are omitted
// rather than serialized as null to keep mobile payloads small.
type rideResponse struct {
	ID                 string               `json:"id"`
	RiderID            string               `json:"rider_id"`
	DriverID           *string              `json:"driver_id,omitempty"`
	Pickup             models.Coord         `json:"pickup"`
	PickupAddress      string               `json:"pickup_address,omitempty"`
	Destination        models.Coord         `json:"destination"`
	DestinationAddress string               `json:"destination_address,omitempty"`
	Status             models.RideStatus    `json:"status"`
	PaymentStatus      models.PaymentStatus `json:"payment_status"`
	RequestedAt        time.Time            `json:"requested_at"`
	AcceptedAt         *time.Time           `json:"accepted_at,omitempty"`
	ArrivedAtPickupAt  *time.Time           `json:"arrived_at_pickup_at,omitempty"`
	TripStartedAt      *time.Time           `json:"trip_started_at,omitempty"`
	CompletedAt        *time.Time           `json:"completed_at,omitempty"`
	CancelledAt        *time.Time           `json:"cancelled_at,omitempty"`
	DistanceKm         *float64             `json:"distance_km,omitempty"`
	DurationSeconds    *int                 `json:"duration_seconds,omitempty"`
	EstimatedFare      *float64             `json:"estimated_fare,omitempty"`
	BaseFare           *float64             `json:"base_fare,omitempty"`
	DistanceFare       *float64             `json:"distance_fare,omitempty"`
	DurationFare       *float64             `json:"duration_fare,omitempty"`
	TotalFare          *float64             `json:"total_fare,omitempty"`
	CancellationFee    float64              `json:"cancellation_fee"`
	CancellationReason string               `json:"cancellation_reason,omitempty"`
}

func toRideResponse(r *models.Ride) rideResponse {
	return rideResponse{
		ID:                 r.ID,
		RiderID:            r.RiderID,
		DriverID:           r.DriverID,
		Pickup:             r.Pickup,
		PickupAddress:      r.PickupAddress,
		Destination:        r.Destination,
		DestinationAddress: r.DestinationAddress,
		Status:             r.Status,
		PaymentStatus:      r.PaymentStatus,
		RequestedAt:        r.RequestedAt,
		AcceptedAt:         r.AcceptedAt,
		ArrivedAtPickupAt:  r.ArrivedAtPickupAt,
		TripStartedAt:      r.TripStartedAt,
		CompletedAt:        r.CompletedAt,
		CancelledAt:        r.CancelledAt,
		DistanceKm:         r.DistanceKm,
		DurationSeconds:    r.DurationSeconds,
		EstimatedFare:      r.EstimatedFare,
		BaseFare:           r.BaseFare,
		DistanceFare:       r.DistanceFare,
		DurationFare:       r.DurationFare,
		TotalFare:          r.TotalFare,
		CancellationFee:    r.CancellationFee,
		CancellationReason: r.CancellationReason,
	}
}

func (s *Server) handleCreateRide(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromRequest(r)
	if !ok {
		s.writeJSON(w, http.StatusUnauthorized, errorBody{Code: "UNAUTHENTICATED", Detail: "missing identity headers"})
		return
	}
	var req createRideRequest
	if !s.decode(w, r, &req) {
		return
	}
	created, err := s.Rides.CreateRide(r.Context(), actor, ride.CreateRequest{
		Pickup:             *req.Pickup,
		PickupAddress:      req.PickupAddress,
		Destination:        *req.Destination,
		DestinationAddress: req.DestinationAddress,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, toRideResponse(created))
}

func (s *Server) handleEstimateFare(w http.ResponseWriter, r *http.Request) {
	var req estimateRequest
	if !s.decode(w, r, &req) {
		return
	}
	b, err := s.Rides.EstimateFare(r.Context(), *req.Pickup, *req.Destination)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleGetRide(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromRequest(r)
	if !ok {
		s.writeJSON(w, http.StatusUnauthorized, errorBody{Code: "UNAUTHENTICATED", Detail: "missing identity headers"})
		return
	}
	got, err := s.Rides.GetRide(r.Context(), actor, mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toRideResponse(got))
}

func (s *Server) handleAcceptRide(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromRequest(r)
	if !ok {
		s.writeJSON(w, http.StatusUnauthorized, errorBody{Code: "UNAUTHENTICATED", Detail: "missing identity headers"})
		return
	}
	accepted, err := s.Rides.AcceptRide(r.Context(), actor, mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toRideResponse(accepted))
}

func (s *Server) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromRequest(r)
	if !ok {
		s.writeJSON(w, http.StatusUnauthorized, errorBody{Code: "UNAUTHENTICATED", Detail: "missing identity headers"})
		return
	}
	var req statusRequest
	if !s.decode(w, r, &req) {
		return
	}
	updated, err := s.Rides.UpdateStatus(r.Context(), actor, mux.Vars(r)["id"], req.Status)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toRideResponse(updated))
}

func (s *Server) handleCancelRide(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromRequest(r)
	if !ok {
		s.writeJSON(w, http.StatusUnauthorized, errorBody{Code: "UNAUTHENTICATED", Detail: "missing identity headers"})
		return
	}
	var req cancelRequest
	if !s.decodeOptional(w, r, &req) {
		return
	}
	cancelled, err := s.Rides.CancelRide(r.Context(), actor, mux.Vars(r)["id"], req.Reason)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toRideResponse(cancelled))
}

func (s *Server) handleCompleteTrip(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromRequest(r)
	if !ok {
		s.writeJSON(w, http.StatusUnauthorized, errorBody{Code: "UNAUTHENTICATED", Detail: "missing identity headers"})
		return
	}
	var req completeRequest
	if !s.decodeOptional(w, r, &req) {
		return
	}
	completed, err := s.Rides.CompleteTrip(r.Context(), actor, mux.Vars(r)["id"], req.DistanceKm, req.DurationSeconds)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toRideResponse(completed))
}

func (s *Server) handleRateRide(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromRequest(r)
	if !ok {
		s.writeJSON(w, http.StatusUnauthorized, errorBody{Code: "UNAUTHENTICATED", Detail: "missing identity headers"})
		return
	}
	var req rateRequest
	if !s.decode(w, r, &req) {
		return
	}
	rr, err := s.Rides.RateRide(r.Context(), actor, mux.Vars(r)["id"], req.Rating, req.Comment)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]any{
		"id":            rr.ID,
		"ride_id":       rr.RideID,
		"rated_user_id": rr.RatedUserID,
		"rating":        rr.Rating,
		"comment":       rr.Comment,
		"created_at":    rr.CreatedAt,
	})
}

func (s *Server) handleNearbyDrivers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lat, errLat := strconv.ParseFloat(q.Get("lat"), 64)
	lng, errLng := strconv.ParseFloat(q.Get("lng"), 64)
	if errLat != nil || errLng != nil {
		s.writeError(w, r, &ride.ValidationError{Field: "lat/lng", Reason: "required float query parameters"})
		return
	}
	c := match.Constraints{}
	if v := q.Get("max_distance_km"); v != "" {
		c.MaxDistanceKm, _ = strconv.ParseFloat(v, 64)
	}
	if v := q.Get("min_rating"); v != "" {
		c.MinRating, _ = strconv.ParseFloat(v, 64)
	}
	c.ServiceArea = q.Get("service_area")
	if v := q.Get("limit"); v != "" {
		c.Limit, _ = strconv.Atoi(v)
	}

	pickup := models.Coord{Lat: lat, Lng: lng}
	var (
		drivers []models.DriverSummary
		err     error
	)
	if q.Get("on_route") == "true" {
		drivers, err = s.Matcher.FindDriversOnRoute(r.Context(), pickup, c)
	} else {
		drivers, err = s.Matcher.FindNearbyDrivers(r.Context(), pickup, c)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"drivers": drivers, "count": len(drivers)})
}

func (s *Server) handleAvailability(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromRequest(r)
	if !ok {
		s.writeJSON(w, http.StatusUnauthorized, errorBody{Code: "UNAUTHENTICATED", Detail: "missing identity headers"})
		return
	}
	var req availabilityRequest
	if !s.decode(w, r, &req) {
		return
	}
	a, err := s.Rides.UpdateAvailability(r.Context(), actor, ride.AvailabilityUpdate{
		Status:       req.Status,
		Location:     req.Location,
		Address:      req.Address,
		ServiceArea:  req.ServiceArea,
		MaxPickupKm:  req.MaxPickupKm,
		PlannedRoute: req.PlannedRoute,
		ClearRoute:   req.ClearRoute,
		PushToken:    req.PushToken,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	// mirror the position onto the stream for offline consumers
	if s.LocProd != nil && a.Location != nil {
		u := stream.LocationUpdate{
			DriverID:    a.DriverID,
			Status:      a.Status,
			Location:    *a.Location,
			Rating:      a.Rating,
			ServiceArea: a.ServiceArea,
			UpdatedAt:   a.LocationUpdatedAt,
		}
		if err := s.LocProd.PublishLocation(r.Context(), u); err != nil {
			s.logger.Warn("location stream publish failed", "driver_id", a.DriverID, "error", err)
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"driver_id":       a.DriverID,
		"status":          a.Status,
		"location":        a.Location,
		"service_area":    a.ServiceArea,
		"max_pickup_km":   a.MaxPickupKm,
		"planned_route":   a.PlannedRoute,
		"rating":          a.Rating,
		"completed_rides": a.CompletedRides,
	})
}

// handleGetAvailability returns the caller's own dispatch record.
func (s *Server) handleGetAvailability(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromRequest(r)
	if !ok || actor.Role != ride.RoleDriver {
		s.writeJSON(w, http.StatusUnauthorized, errorBody{Code: "UNAUTHENTICATED", Detail: "missing identity headers"})
		return
	}
	a, err := s.Avail.GetAvailability(r.Context(), actor.ID)
	if errors.Is(err, storage.ErrNotFound) {
		s.writeError(w, r, ride.ErrNotFound)
		return
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"driver_id":       a.DriverID,
		"status":          a.Status,
		"location":        a.Location,
		"service_area":    a.ServiceArea,
		"max_pickup_km":   a.MaxPickupKm,
		"planned_route":   a.PlannedRoute,
		"rating":          a.Rating,
		"completed_rides": a.CompletedRides,
	})
}

var upgrader = websocket.Upgrader{}

// handleWS subscribes the caller to their live notification groups: the
// personal user:<id> group, plus the shared drivers group for drivers.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromRequest(r)
	if !ok {
		s.writeJSON(w, http.StatusUnauthorized, errorBody{Code: "UNAUTHENTICATED", Detail: "missing identity headers"})
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		http.Error(w, "upgrade failed", http.StatusBadRequest)
		return
	}
	groups := []string{models.UserGroup(actor.ID)}
	if actor.Role == ride.RoleDriver {
		groups = append(groups, models.DriversGroup)
	}
	sess := s.Hub.Subscribe(conn, groups...)

	// drain inbound frames until the client hangs up, then forget the session
	go func() {
		defer func() {
			s.Hub.Unsubscribe(sess)
			sess.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// decodeOptional is decode for endpoints where an empty body is legal.
func (s *Server) decodeOptional(w http.ResponseWriter, r *http.Request, dst any) bool {
	if r.Body == nil || r.ContentLength == 0 {
		return true
	}
	err := json.NewDecoder(r.Body).Decode(dst)
	if errors.Is(err, io.EOF) {
		return true
	}
	if err != nil {
		s.writeError(w, r, &ride.ValidationError{Field: "body", Reason: "malformed JSON"})
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		s.writeError(w, r, &ride.ValidationError{Field: "body", Reason: err.Error()})
		return false
	}
	return true
}
