package fare

import (
	"context"
	"errors"
	"testing"

	"github.com/example/ride-dispatch/internal/geo"
	"github.com/example/ride-dispatch/internal/models"
)

func testCalculator() *Calculator {
	return &Calculator{Base: 5.00, PerKm: 1.50, PerMinute: 0.20, MinimumFare: 10.00}
}

func TestEstimateFallsBackToGeodesic(t *testing.T) {
	origin := models.Coord{Lat: 5.60, Lng: -0.18}
	dest := models.Coord{Lat: 5.65, Lng: -0.19}

	b := testCalculator().Estimate(context.Background(), origin, dest)

	km := geo.HaversineKm(origin, dest)
	if b.DistanceKm != km {
		t.Fatalf("distance = %v, want %v", b.DistanceKm, km)
	}
	if b.DurationMinutes != km*minutesPerKm {
		t.Fatalf("duration = %v", b.DurationMinutes)
	}
	want := RoundCurrency(5.00 + RoundCurrency(km*1.50) + RoundCurrency(km*minutesPerKm*0.20))
	if b.Total != want {
		t.Fatalf("total = %v, want %v", b.Total, want)
	}
	if b.Total <= 10.00 {
		t.Fatalf("trip of %.2f km should exceed the minimum fare, got %v", km, b.Total)
	}
}

func TestShortTripPinsToMinimumFare(t *testing.T) {
	b := testCalculator().Price(0.5, 2)
	// 5.00 + 0.75 + 0.40 = 6.15, below the floor
	if b.Total != 10.00 {
		t.Fatalf("total = %v, want minimum 10.00", b.Total)
	}
	if b.DistanceFare != 0.75 || b.DurationFare != 0.40 {
		t.Fatalf("components = %v / %v", b.DistanceFare, b.DurationFare)
	}
}

func TestPriceUsesComponentRounding(t *testing.T) {
	b := testCalculator().Price(3.333, 8.005)
	// 3.333*1.50 = 4.9995 -> 5.00; 8.005*0.20 = 1.601 -> 1.60
	if b.DistanceFare != 5.00 {
		t.Fatalf("distance fare = %v", b.DistanceFare)
	}
	if b.DurationFare != 1.60 {
		t.Fatalf("duration fare = %v", b.DurationFare)
	}
	if b.Total != 11.60 {
		t.Fatalf("total = %v", b.Total)
	}
}

func TestRoundCurrencyHalfUp(t *testing.T) {
	cases := map[float64]float64{
		1.004: 1.00,
		1.125: 1.13, // exact binary half rounds up
		1.006: 1.01,
		2.375: 2.38,
	}
	for in, want := range cases {
		if got := RoundCurrency(in); got != want {
			t.Fatalf("RoundCurrency(%v) = %v, want %v", in, got, want)
		}
	}
}

type failingRouter struct{}

func (failingRouter) Directions(context.Context, models.Coord, models.Coord) (float64, float64, error) {
	return 0, 0, errors.New("osrm unreachable")
}

type fixedRouter struct{ meters, seconds float64 }

func (r fixedRouter) Directions(context.Context, models.Coord, models.Coord) (float64, float64, error) {
	return r.meters, r.seconds, nil
}

func TestRouterErrorDegradesToEstimate(t *testing.T) {
	origin := models.Coord{Lat: 5.60, Lng: -0.18}
	dest := models.Coord{Lat: 5.65, Lng: -0.19}

	c := testCalculator()
	c.Router = failingRouter{}
	degraded := c.Estimate(context.Background(), origin, dest)

	c.Router = nil
	offline := c.Estimate(context.Background(), origin, dest)

	if degraded != offline {
		t.Fatalf("degraded %+v != offline %+v", degraded, offline)
	}
}

func TestRouterResultPreferredOverGeodesic(t *testing.T) {
	c := testCalculator()
	c.Router = fixedRouter{meters: 9000, seconds: 1200}
	b := c.Estimate(context.Background(), models.Coord{Lat: 5.60, Lng: -0.18}, models.Coord{Lat: 5.65, Lng: -0.19})
	if b.DistanceKm != 9 || b.DurationMinutes != 20 {
		t.Fatalf("routed measure = %v km / %v min", b.DistanceKm, b.DurationMinutes)
	}
	// 5.00 + 13.50 + 4.00
	if b.Total != 22.50 {
		t.Fatalf("total = %v", b.Total)
	}
}
