package ride

import (
	"context"
	"errors"
	"strconv"

	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
	"github.com/example/ride-dispatch/internal/storage"
)

// AvailabilityUpdate is a driver's own status/location push. Nil fields keep
// the current value.
type AvailabilityUpdate struct {
	Status       models.AvailabilityStatus
	Location     *models.Coord
	Address      string
	ServiceArea  string
	MaxPickupKm  float64
	PlannedRoute *models.PlannedRoute
	ClearRoute   bool
	PushToken    string
}

// UpdateAvailability upserts the driver's dispatch record. The record is
// created lazily on the first go-online call and only ever toggled after
// that; ONLINE drivers enter the geo candidate index, everyone else leaves it.
func (s *Service) UpdateAvailability(ctx context.Context, actor Actor, upd AvailabilityUpdate) (*models.DriverAvailability, error) {
	if actor.Role != RoleDriver {
		return nil, ErrPermissionDenied
	}
	if upd.Status != "" && !validAvailabilityStatus(upd.Status) {
		return nil, &ValidationError{Field: "status", Reason: "unknown availability status"}
	}
	if upd.Location != nil {
		if err := validateCoord("location", *upd.Location); err != nil {
			return nil, err
		}
	}

	a, err := s.Avail.GetAvailability(ctx, actor.ID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		a = &models.DriverAvailability{DriverID: actor.ID, Status: models.DriverOffline, MaxPickupKm: 15}
	case err != nil:
		return nil, err
	}

	wasOnline := a.Status == models.DriverOnline
	if upd.Status != "" {
		a.Status = upd.Status
	}
	if upd.Location != nil {
		a.Location = upd.Location
		a.LocationUpdatedAt = s.Now()
	}
	if upd.Address != "" {
		a.LocationAddress = upd.Address
	}
	if upd.ServiceArea != "" {
		a.ServiceArea = upd.ServiceArea
	}
	if upd.MaxPickupKm > 0 {
		a.MaxPickupKm = upd.MaxPickupKm
	}
	if upd.PlannedRoute != nil {
		a.PlannedRoute = upd.PlannedRoute
	}
	if upd.ClearRoute {
		a.PlannedRoute = nil
	}

	if err := s.Avail.UpsertAvailability(ctx, a); err != nil {
		return nil, err
	}
	if upd.PushToken != "" && s.Tokens != nil {
		if err := s.Tokens.SetPushToken(ctx, actor.ID, upd.PushToken); err != nil {
			s.Logger.Warn("failed storing push token", "driver_id", actor.ID, "error", err)
		}
	}

	s.syncGeoIndex(ctx, a)
	switch {
	case !wasOnline && a.Status == models.DriverOnline:
		observability.DriversOnline.Inc()
	case wasOnline && a.Status != models.DriverOnline:
		observability.DriversOnline.Dec()
	}

	if upd.Location != nil {
		s.relayLocationToRider(ctx, actor.ID, *upd.Location)
	}
	return a, nil
}

func (s *Service) syncGeoIndex(ctx context.Context, a *models.DriverAvailability) {
	if s.Geo == nil {
		return
	}
	if a.Status == models.DriverOnline && a.Location != nil {
		if err := s.Geo.Upsert(ctx, *a); err != nil {
			s.Logger.Warn("geo index update failed", "driver_id", a.DriverID, "error", err)
		}
		return
	}
	type remover interface {
		Remove(ctx context.Context, driverID string) error
	}
	if rm, ok := s.Geo.(remover); ok {
		if err := rm.Remove(ctx, a.DriverID); err != nil {
			s.Logger.Warn("geo index removal failed", "driver_id", a.DriverID, "error", err)
		}
	}
}

// relayLocationToRider forwards a driver's live position to the rider of
// their active ride. Live channel only, no push for a moving dot.
func (s *Service) relayLocationToRider(ctx context.Context, driverID string, loc models.Coord) {
	r, err := s.Store.ActiveRideForDriver(ctx, driverID)
	if err != nil {
		return
	}
	s.Fanout.Publish(ctx, models.NotificationEvent{
		Type:   models.EventDriverLocation,
		RideID: r.ID,
		Group:  models.UserGroup(r.RiderID),
		Data: map[string]string{
			"lat": formatCoord(loc.Lat),
			"lng": formatCoord(loc.Lng),
		},
	})
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', 7, 64)
}

func validAvailabilityStatus(st models.AvailabilityStatus) bool {
	switch st {
	case models.DriverOnline, models.DriverOffline, models.DriverBusy,
		models.DriverBreak, models.DriverMaintenance, models.DriverUnavailable:
		return true
	}
	return false
}
