package match

import (
	"context"
	"testing"
	"time"

	"github.com/example/ride-dispatch/internal/geo"
	"github.com/example/ride-dispatch/internal/models"
)

var pickup = models.Coord{Lat: 5.6037, Lng: -0.1870} // Accra

func coordAtKm(km float64) *models.Coord {
	// ~111 km per degree of latitude
	return &models.Coord{Lat: pickup.Lat + km/111.0, Lng: pickup.Lng}
}

func seed(t *testing.T, idx *geo.Index, drivers ...models.DriverAvailability) {
	t.Helper()
	for _, d := range drivers {
		if err := idx.Upsert(context.Background(), d); err != nil {
			t.Fatal(err)
		}
	}
}

func TestNearbyFiltersStatusAndDistance(t *testing.T) {
	idx := geo.NewIndex()
	seed(t, idx,
		models.DriverAvailability{DriverID: "near", Status: models.DriverOnline, Location: coordAtKm(6)},
		models.DriverAvailability{DriverID: "far", Status: models.DriverOnline, Location: coordAtKm(20)},
		models.DriverAvailability{DriverID: "offline", Status: models.DriverOffline, Location: coordAtKm(1)},
		models.DriverAvailability{DriverID: "busy", Status: models.DriverBusy, Location: coordAtKm(2)},
		models.DriverAvailability{DriverID: "nowhere", Status: models.DriverOnline},
	)

	got, err := New(idx).FindNearbyDrivers(context.Background(), pickup, Constraints{MaxDistanceKm: 15})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].DriverID != "near" {
		t.Fatalf("got %v", got)
	}
}

func TestNearbyOrdersByDistanceThenRating(t *testing.T) {
	idx := geo.NewIndex()
	seed(t, idx,
		models.DriverAvailability{DriverID: "far-good", Status: models.DriverOnline, Location: coordAtKm(8), Rating: 5.0},
		models.DriverAvailability{DriverID: "close-low", Status: models.DriverOnline, Location: coordAtKm(2), Rating: 3.0},
		models.DriverAvailability{DriverID: "tied-high", Status: models.DriverOnline, Location: coordAtKm(5), Rating: 4.9},
		models.DriverAvailability{DriverID: "tied-low", Status: models.DriverOnline, Location: coordAtKm(5), Rating: 4.1},
	)

	got, err := New(idx).FindNearbyDrivers(context.Background(), pickup, Constraints{})
	if err != nil {
		t.Fatal(err)
	}
	order := make([]string, len(got))
	for i, d := range got {
		order[i] = d.DriverID
	}
	want := []string{"close-low", "tied-high", "tied-low", "far-good"}
	for i := range want {
		if i >= len(order) || order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
	for i := 1; i < len(got); i++ {
		if got[i].DistanceKm < got[i-1].DistanceKm {
			t.Fatalf("distances not non-decreasing: %v", got)
		}
	}
}

func TestNearbyHonorsRatingAreaAndLimit(t *testing.T) {
	idx := geo.NewIndex()
	seed(t, idx,
		models.DriverAvailability{DriverID: "a", Status: models.DriverOnline, Location: coordAtKm(1), Rating: 4.8, ServiceArea: "accra"},
		models.DriverAvailability{DriverID: "b", Status: models.DriverOnline, Location: coordAtKm(2), Rating: 4.5, ServiceArea: "accra"},
		models.DriverAvailability{DriverID: "c", Status: models.DriverOnline, Location: coordAtKm(3), Rating: 3.0, ServiceArea: "accra"},
		models.DriverAvailability{DriverID: "d", Status: models.DriverOnline, Location: coordAtKm(1), Rating: 5.0, ServiceArea: "tema"},
	)

	m := New(idx)
	got, err := m.FindNearbyDrivers(context.Background(), pickup,
		Constraints{MinRating: 4.0, ServiceArea: "accra", Limit: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].DriverID != "a" {
		t.Fatalf("got %v", got)
	}

	// oversized limits clamp instead of failing
	if _, err := m.FindNearbyDrivers(context.Background(), pickup, Constraints{Limit: 500}); err != nil {
		t.Fatal(err)
	}
}

func TestOnRouteRequiresActiveWindow(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	idx := geo.NewIndex()
	seed(t, idx,
		models.DriverAvailability{DriverID: "active", Status: models.DriverOnline, Location: coordAtKm(2),
			PlannedRoute: &models.PlannedRoute{DepartBy: now.Add(-time.Hour), ArriveBy: now.Add(time.Hour)}},
		models.DriverAvailability{DriverID: "past", Status: models.DriverOnline, Location: coordAtKm(2),
			PlannedRoute: &models.PlannedRoute{DepartBy: now.Add(-3 * time.Hour), ArriveBy: now.Add(-time.Hour)}},
		models.DriverAvailability{DriverID: "none", Status: models.DriverOnline, Location: coordAtKm(2)},
	)

	m := New(idx)
	m.Now = func() time.Time { return now }
	got, err := m.FindDriversOnRoute(context.Background(), pickup, Constraints{})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].DriverID != "active" {
		t.Fatalf("got %v", got)
	}
}

func TestNoEligibleDriversIsEmptyNotError(t *testing.T) {
	got, err := New(geo.NewIndex()).FindNearbyDrivers(context.Background(), pickup, Constraints{})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Fatalf("got %v", got)
	}
}
