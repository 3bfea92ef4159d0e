package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/ride-dispatch/internal/match"
	"github.com/example/ride-dispatch/internal/notify"
	"github.com/example/ride-dispatch/internal/ride"
	"github.com/example/ride-dispatch/internal/storage"
	"github.com/example/ride-dispatch/internal/stream"
)

// Server exposes the dispatch core over HTTP and WebSocket. Identity arrives
// on trusted headers; authentication itself lives upstream.
type Server struct {
	Rides   *ride.Service
	Matcher *match.Matcher
	Hub     *notify.Hub
	Avail   storage.AvailabilityStore
	LocProd *stream.LocationProducer

	logger   *slog.Logger
	validate *validator.Validate
	mux      *mux.Router
}

func New(rides *ride.Service, matcher *match.Matcher, hub *notify.Hub, avail storage.AvailabilityStore,
	locProd *stream.LocationProducer, logger *slog.Logger) *Server {
	s := &Server{
		Rides:    rides,
		Matcher:  matcher,
		Hub:      hub,
		Avail:    avail,
		LocProd:  locProd,
		logger:   logger,
		validate: validator.New(),
		mux:      mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	api := s.mux.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/rides", s.handleCreateRide).Methods(http.MethodPost)
	api.HandleFunc("/rides/estimate", s.handleEstimateFare).Methods(http.MethodPost)
	api.HandleFunc("/rides/{id}", s.handleGetRide).Methods(http.MethodGet)
	api.HandleFunc("/rides/{id}/accept", s.handleAcceptRide).Methods(http.MethodPost)
	api.HandleFunc("/rides/{id}/status", s.handleUpdateStatus).Methods(http.MethodPost)
	api.HandleFunc("/rides/{id}/cancel", s.handleCancelRide).Methods(http.MethodPost)
	api.HandleFunc("/rides/{id}/complete", s.handleCompleteTrip).Methods(http.MethodPost)
	api.HandleFunc("/rides/{id}/rate", s.handleRateRide).Methods(http.MethodPost)
	api.HandleFunc("/drivers/nearby", s.handleNearbyDrivers).Methods(http.MethodGet)
	api.HandleFunc("/drivers/availability", s.handleAvailability).Methods(http.MethodPost)
	api.HandleFunc("/drivers/availability", s.handleGetAvailability).Methods(http.MethodGet)

	s.mux.HandleFunc("/ws", s.handleWS)
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	s.mux.Handle("/metrics", promhttp.Handler())
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

// actorFromRequest trusts the identity headers stamped by the session layer.
func actorFromRequest(r *http.Request) (ride.Actor, bool) {
	id := r.Header.Get("X-User-ID")
	role := ride.Role(r.Header.Get("X-User-Role"))
	if id == "" || (role != ride.RoleRider && role != ride.RoleDriver) {
		return ride.Actor{}, false
	}
	return ride.Actor{ID: id, Role: role}, true
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		s.writeError(w, r, &ride.ValidationError{Field: "body", Reason: "malformed JSON"})
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			s.writeError(w, r, &ride.ValidationError{Field: verrs[0].Field(), Reason: "failed " + verrs[0].Tag() + " validation"})
		} else {
			s.writeError(w, r, &ride.ValidationError{Field: "body", Reason: err.Error()})
		}
		return false
	}
	return true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("response encode failed", "error", err)
	}
}

type errorBody struct {
	Code   string `json:"code"`
	Detail string `json:"detail"`
}

// writeError maps the domain error taxonomy onto status codes. A lost
// acceptance race must stay distinguishable from a bad request so clients
// re-poll other rides instead of retrying this one.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		verr  *ride.ValidationError
		terr  *ride.InvalidTransitionError
		code  string
		state int
	)
	switch {
	case errors.As(err, &verr):
		code, state = "VALIDATION_ERROR", http.StatusBadRequest
	case errors.As(err, &terr):
		code, state = "INVALID_TRANSITION", http.StatusUnprocessableEntity
	case errors.Is(err, ride.ErrPermissionDenied):
		code, state = "PERMISSION_DENIED", http.StatusForbidden
	case errors.Is(err, ride.ErrNotFound):
		code, state = "NOT_FOUND", http.StatusNotFound
	case errors.Is(err, ride.ErrConflict):
		code, state = "RIDE_TAKEN", http.StatusConflict
	case errors.Is(err, ride.ErrRideUnavailable):
		code, state = "RIDE_UNAVAILABLE", http.StatusConflict
	case errors.Is(err, ride.ErrAlreadyRated):
		code, state = "ALREADY_RATED", http.StatusConflict
	case errors.Is(err, context.Canceled):
		code, state = "CANCELLED", 499
	default:
		s.logger.Error("request failed", "path", r.URL.Path, "error", err)
		code, state = "INTERNAL", http.StatusInternalServerError
	}
	s.writeJSON(w, state, errorBody{Code: code, Detail: err.Error()})
}
