package fare

import (
	"context"
	"log/slog"
	"math"

	"github.com/example/ride-dispatch/internal/geo"
	"github.com/example/ride-dispatch/internal/models"
)

// Router is the optional road-network provider. On any error the calculator
// degrades to the geodesic estimate rather than blocking the request.
type Router interface {
	Directions(ctx context.Context, origin, dest models.Coord) (distanceMeters, durationSeconds float64, err error)
}

// minutesPerKm converts a geodesic distance into a rough trip duration when
// no routing provider is reachable (~25 km/h city speed).
const minutesPerKm = 2.4

// Breakdown is the fully computed fare for one trip.
type Breakdown struct {
	DistanceKm      float64 `json:"distance_km"`
	DurationMinutes float64 `json:"duration_minutes"`
	Base            float64 `json:"base_fare"`
	DistanceFare    float64 `json:"distance_fare"`
	DurationFare    float64 `json:"duration_fare"`
	Total           float64 `json:"total_fare"`
}

/// Calculator prices trips: total = max(base + km*perKm + min*perMinute, minimum).
type Calculator struct {
	Base        float64
	PerKm       float64
	PerMinute   float64
	MinimumFare float64
	Router      Router
	Logger      *slog.Logger
}

// Estimate prices the trip from origin to dest, preferring routed
// distance/duration and falling back to the great-circle estimate.
func (c *Calculator) Estimate(ctx context.Context, origin, dest models.Coord) Breakdown {
	distanceKm, durationMin := c.measure(ctx, origin, dest)
	return c.Price(distanceKm, durationMin)
}

// Price computes the fare for known actuals, rounding each component
// half-up to currency precision.
func (c *Calculator) Price(distanceKm, durationMin float64) Breakdown {
	b := Breakdown{
		DistanceKm:      distanceKm,
		DurationMinutes: durationMin,
		Base:            c.Base,
		DistanceFare:    RoundCurrency(distanceKm * c.PerKm),
		DurationFare:    RoundCurrency(durationMin * c.PerMinute),
	}
	total := b.Base + b.DistanceFare + b.DurationFare
	if total < c.MinimumFare {
		total = c.MinimumFare
	}
	b.Total = RoundCurrency(total)
	return b
}

func (c *Calculator) measure(ctx context.Context, origin, dest models.Coord) (km, minutes float64) {
	if c.Router != nil {
		meters, seconds, err := c.Router.Directions(ctx, origin, dest)
		if err == nil && meters > 0 {
			return meters / 1000.0, seconds / 60.0
		}
		if c.Logger != nil {
			c.Logger.Warn("routing provider failed, using geodesic estimate", "error", err)
		}
	}
	km = geo.HaversineKm(origin, dest)
	return km, km * minutesPerKm
}

// RoundCurrency rounds half-up to 2 decimal places.
func RoundCurrency(v float64) float64 {
	return math.Floor(v*100+0.5) / 100
}
