package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/example/ride-dispatch/internal/models"
)

func TestMutateDiscardedOnError(t *testing.T) {
	m := NewMemoryStore()
	r := &models.Ride{ID: "r1", RiderID: "u1", Status: models.StatusRequested, RequestedAt: time.Now()}
	if err := m.CreateRide(context.Background(), r); err != nil {
		t.Fatal(err)
	}

	boom := errors.New("boom")
	_, err := m.Mutate(context.Background(), "r1", func(r *models.Ride) error {
		r.Status = models.StatusAccepted
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
	got, _ := m.GetRide(context.Background(), "r1")
	if got.Status != models.StatusRequested {
		t.Fatalf("failed mutation leaked: %s", got.Status)
	}
}

func TestMutateReturnsCopies(t *testing.T) {
	m := NewMemoryStore()
	if err := m.CreateRide(context.Background(), &models.Ride{ID: "r1", Status: models.StatusRequested, RequestedAt: time.Now()}); err != nil {
		t.Fatal(err)
	}
	got, _ := m.GetRide(context.Background(), "r1")
	got.Status = models.StatusCompleted

	again, _ := m.GetRide(context.Background(), "r1")
	if again.Status != models.StatusRequested {
		t.Fatal("caller mutation reached the store")
	}
}

func TestListExpiredRequestsFilters(t *testing.T) {
	m := NewMemoryStore()
	now := time.Now()
	drv := "d1"
	rides := []*models.Ride{
		{ID: "old", Status: models.StatusRequested, RequestedAt: now.Add(-20 * time.Minute)},
		{ID: "new", Status: models.StatusRequested, RequestedAt: now},
		{ID: "taken", Status: models.StatusRequested, DriverID: &drv, RequestedAt: now.Add(-20 * time.Minute)},
		{ID: "done", Status: models.StatusCompleted, RequestedAt: now.Add(-20 * time.Minute)},
	}
	for _, r := range rides {
		if err := m.CreateRide(context.Background(), r); err != nil {
			t.Fatal(err)
		}
	}

	got, err := m.ListExpiredRequests(context.Background(), now.Add(-10*time.Minute), 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != "old" {
		t.Fatalf("got %v", got)
	}
}

func TestSaveRatingRejectsDuplicates(t *testing.T) {
	m := NewMemoryStore()
	rr := &models.RideRating{ID: "x1", RideID: "r1", RaterID: "u1", RatedUserID: "d1", Rating: 5, CreatedAt: time.Now()}
	if err := m.SaveRating(context.Background(), rr); err != nil {
		t.Fatal(err)
	}
	dup := *rr
	dup.ID = "x2"
	dup.Rating = 1
	if err := m.SaveRating(context.Background(), &dup); !errors.Is(err, ErrDuplicateRating) {
		t.Fatalf("err = %v", err)
	}

	avg, count, err := m.RatingStats(context.Background(), "d1")
	if err != nil || avg != 5 || count != 1 {
		t.Fatalf("stats = %v %v %v", avg, count, err)
	}
}
