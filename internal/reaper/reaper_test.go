package reaper

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/example/ride-dispatch/internal/fare"
	"github.com/example/ride-dispatch/internal/geo"
	"github.com/example/ride-dispatch/internal/match"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/ride"
	"github.com/example/ride-dispatch/internal/storage"
)

type eventRecorder struct {
	mu     sync.Mutex
	events []models.NotificationEvent
}

func (r *eventRecorder) Publish(_ context.Context, ev models.NotificationEvent) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *eventRecorder) PublishAll(ctx context.Context, evs []models.NotificationEvent) {
	for _, ev := range evs {
		r.Publish(ctx, ev)
	}
}

func (r *eventRecorder) count(typ models.EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Type == typ {
			n++
		}
	}
	return n
}

func newTestReaper(t *testing.T) (*Reaper, *storage.MemoryStore, *eventRecorder) {
	t.Helper()
	store := storage.NewMemoryStore()
	idx := geo.NewIndex()
	rec := &eventRecorder{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := ride.NewService(store, store, store, idx, match.New(idx),
		&fare.Calculator{Base: 5, PerKm: 1.5, PerMinute: 0.2, MinimumFare: 10}, rec, logger)
	return New(store, svc, 10*time.Minute, time.Minute, logger), store, rec
}

func seedRide(t *testing.T, store *storage.MemoryStore, id string, age time.Duration, status models.RideStatus, driverID string) {
	t.Helper()
	r := &models.Ride{
		ID:          id,
		RiderID:     "rider-" + id,
		Pickup:      models.Coord{Lat: 5.60, Lng: -0.18},
		Destination: models.Coord{Lat: 5.65, Lng: -0.19},
		Status:      status,
		RequestedAt: time.Now().Add(-age),
	}
	if driverID != "" {
		r.DriverID = &driverID
	}
	if err := store.CreateRide(context.Background(), r); err != nil {
		t.Fatal(err)
	}
}

func TestSweepExpiresOnlyStaleDriverlessRequests(t *testing.T) {
	rp, store, _ := newTestReaper(t)
	seedRide(t, store, "stale", 15*time.Minute, models.StatusRequested, "")
	seedRide(t, store, "fresh", 2*time.Minute, models.StatusRequested, "")
	seedRide(t, store, "taken", 15*time.Minute, models.StatusAccepted, "drv1")

	if n := rp.Sweep(context.Background()); n != 1 {
		t.Fatalf("expired = %d, want 1", n)
	}

	got, _ := store.GetRide(context.Background(), "stale")
	if got.Status != models.StatusNoDriverFound {
		t.Fatalf("stale ride status = %s", got.Status)
	}
	if got.CancelledAt == nil {
		t.Fatal("expiry did not stamp cancelled_at")
	}
	for id, want := range map[string]models.RideStatus{
		"fresh": models.StatusRequested,
		"taken": models.StatusAccepted,
	} {
		got, _ := store.GetRide(context.Background(), id)
		if got.Status != want {
			t.Fatalf("%s status = %s, want %s", id, got.Status, want)
		}
	}
}

func TestSecondSweepDoesNotRenotify(t *testing.T) {
	rp, store, rec := newTestReaper(t)
	seedRide(t, store, "stale", 15*time.Minute, models.StatusRequested, "")

	if n := rp.Sweep(context.Background()); n != 1 {
		t.Fatalf("first sweep expired %d", n)
	}
	if n := rp.Sweep(context.Background()); n != 0 {
		t.Fatalf("second sweep expired %d", n)
	}
	if got := rec.count(models.EventNoDriverFound); got != 1 {
		t.Fatalf("rider notified %d times", got)
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	rp, _, _ := newTestReaper(t)
	rp.Interval = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		rp.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reaper did not stop")
	}
}
