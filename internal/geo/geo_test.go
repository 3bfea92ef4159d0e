package geo

import (
	"context"
	"math"
	"testing"

	"github.com/example/ride-dispatch/internal/models"
)

func TestHaversineZero(t *testing.T) {
	p := models.Coord{Lat: 5.6, Lng: -0.18}
	if d := HaversineKm(p, p); d != 0 {
		t.Fatalf("expected 0, got %f", d)
	}
}

func TestHaversineKnownDistance(t *testing.T) {
	// Accra to Kumasi, roughly 200 km great-circle
	accra := models.Coord{Lat: 5.6037, Lng: -0.1870}
	kumasi := models.Coord{Lat: 6.6885, Lng: -1.6244}
	d := HaversineKm(accra, kumasi)
	if math.Abs(d-199) > 5 {
		t.Fatalf("Accra-Kumasi = %f km", d)
	}
}

func TestHaversineSymmetric(t *testing.T) {
	a := models.Coord{Lat: 5.60, Lng: -0.18}
	b := models.Coord{Lat: 5.65, Lng: -0.19}
	if HaversineKm(a, b) != HaversineKm(b, a) {
		t.Fatal("distance not symmetric")
	}
}

func TestIndexNearOrdersAndLimits(t *testing.T) {
	idx := NewIndex()
	center := models.Coord{Lat: 5.60, Lng: -0.18}
	for i, lat := range []float64{5.70, 5.62, 5.66} {
		ids := []string{"far", "close", "mid"}
		if err := idx.Upsert(context.Background(), models.DriverAvailability{
			DriverID: ids[i],
			Status:   models.DriverOnline,
			Location: &models.Coord{Lat: lat, Lng: -0.18},
		}); err != nil {
			t.Fatal(err)
		}
	}

	got, err := idx.Near(context.Background(), center, 50, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].DriverID != "close" || got[1].DriverID != "mid" {
		t.Fatalf("got %v", got)
	}
}

func TestIndexRemoveAndStatusFilter(t *testing.T) {
	idx := NewIndex()
	center := models.Coord{Lat: 5.60, Lng: -0.18}
	loc := models.Coord{Lat: 5.61, Lng: -0.18}
	if err := idx.Upsert(context.Background(), models.DriverAvailability{
		DriverID: "d1", Status: models.DriverOnline, Location: &loc,
	}); err != nil {
		t.Fatal(err)
	}
	if err := idx.Upsert(context.Background(), models.DriverAvailability{
		DriverID: "d2", Status: models.DriverBusy, Location: &loc,
	}); err != nil {
		t.Fatal(err)
	}

	got, _ := idx.Near(context.Background(), center, 50, 10)
	if len(got) != 1 || got[0].DriverID != "d1" {
		t.Fatalf("got %v", got)
	}

	if err := idx.Remove(context.Background(), "d1"); err != nil {
		t.Fatal(err)
	}
	got, _ = idx.Near(context.Background(), center, 50, 10)
	if len(got) != 0 {
		t.Fatalf("removed driver still returned: %v", got)
	}
}
