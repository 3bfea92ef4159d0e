package match

import (
	"context"
	"sort"
	"time"

	"github.com/example/ride-dispatch/internal/geo"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
)

// MaxResults caps any single matcher query.
const MaxResults = 50

// DefaultRadiusKm applies when a query sets no pickup distance bound.
const DefaultRadiusKm = 15

// Constraints narrow a nearby-driver query.
type Constraints struct {
	MaxDistanceKm float64
	MinRating     float64
	ServiceArea   string
	Limit         int
}

// Matcher ranks currently-available drivers by proximity to a pickup point.
type Matcher struct {
	Source geo.Source
	Now    func() time.Time
}

func New(src geo.Source) *Matcher {
	return &Matcher{Source: src, Now: time.Now}
}

// FindNearbyDrivers returns ONLINE drivers with a known location within
// MaxDistanceKm of pickup, ascending by distance with ties broken by
// descending rating. Zero eligible drivers is an empty list, never an error.
func (m *Matcher) FindNearbyDrivers(ctx context.Context, pickup models.Coord, c Constraints) ([]models.DriverSummary, error) {
	return m.find(ctx, pickup, c, false)
}

// FindDriversOnRoute additionally requires an active planned route: the
// current time must fall inside the driver's departure/arrival window.
// Ranking stays proximity-to-pickup; no route-corridor geometry is attempted.
func (m *Matcher) FindDriversOnRoute(ctx context.Context, pickup models.Coord, c Constraints) ([]models.DriverSummary, error) {
	return m.find(ctx, pickup, c, true)
}

func (m *Matcher) find(ctx context.Context, pickup models.Coord, c Constraints, onRouteOnly bool) ([]models.DriverSummary, error) {
	radius := c.MaxDistanceKm
	if radius <= 0 {
		radius = DefaultRadiusKm
	}
	limit := c.Limit
	if limit <= 0 || limit > MaxResults {
		limit = MaxResults
	}

	// Over-fetch so post-filters (rating, service area, route window) can
	// still fill the page.
	cands, err := m.Source.Near(ctx, pickup, radius, MaxResults)
	if err != nil {
		return nil, err
	}
	now := m.now()

	out := make([]models.DriverSummary, 0, len(cands))
	for _, a := range cands {
		if a.Status != models.DriverOnline || a.Location == nil {
			continue
		}
		dist := geo.HaversineKm(pickup, *a.Location)
		if dist > radius {
			continue
		}
		if c.MinRating > 0 && a.Rating < c.MinRating {
			continue
		}
		if c.ServiceArea != "" && a.ServiceArea != c.ServiceArea {
			continue
		}
		if onRouteOnly {
			pr := a.PlannedRoute
			if pr == nil || now.Before(pr.DepartBy) || now.After(pr.ArriveBy) {
				continue
			}
		}
		out = append(out, models.DriverSummary{
			DriverID:   a.DriverID,
			Location:   *a.Location,
			DistanceKm: dist,
			Rating:     a.Rating,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].DistanceKm != out[j].DistanceKm {
			return out[i].DistanceKm < out[j].DistanceKm
		}
		return out[i].Rating > out[j].Rating
	})
	if len(out) > limit {
		out = out[:limit]
	}
	observability.MatchQueriesTotal.Inc()
	return out, nil
}

func (m *Matcher) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}
