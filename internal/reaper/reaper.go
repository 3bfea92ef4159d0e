package reaper

import (
	"context"
	"log/slog"
	"time"

	"github.com/example/ride-dispatch/internal/ride"
	"github.com/example/ride-dispatch/internal/storage"
)

// Reaper periodically expires stale unmatched ride requests. It runs on its
// own ticker, independent of request traffic; the ride service re-checks
// every candidate inside the ride's critical section, so a request accepted
// a moment before the sweep is skipped, not broken.
type Reaper struct {
	Store    storage.RideStore
	Service  *ride.Service
	TTL      time.Duration
	Interval time.Duration
	Batch    int
	Logger   *slog.Logger
	Now      func() time.Time
}

func New(store storage.RideStore, svc *ride.Service, ttl, interval time.Duration, logger *slog.Logger) *Reaper {
	return &Reaper{
		Store:    store,
		Service:  svc,
		TTL:      ttl,
		Interval: interval,
		Batch:    100,
		Logger:   logger,
		Now:      time.Now,
	}
}

// Run sweeps on every tick until ctx is done.
func (rp *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(rp.Interval)
	defer ticker.Stop()
	rp.Logger.Info("expiry reaper started", "ttl", rp.TTL, "interval", rp.Interval)
	for {
		select {
		case <-ctx.Done():
			rp.Logger.Info("expiry reaper stopped")
			return
		case <-ticker.C:
			rp.Sweep(ctx)
		}
	}
}

// Sweep expires every ride that is still REQUESTED, driverless and older
// than the TTL. Rides are processed independently: one failure is logged
// and the sweep moves on.
func (rp *Reaper) Sweep(ctx context.Context) (expired int) {
	cutoff := rp.Now().Add(-rp.TTL)
	candidates, err := rp.Store.ListExpiredRequests(ctx, cutoff, rp.Batch)
	if err != nil {
		rp.Logger.Error("expiry scan failed", "error", err)
		return 0
	}
	for _, r := range candidates {
		ok, err := rp.Service.ExpireRequest(ctx, r.ID, cutoff)
		if err != nil {
			rp.Logger.Error("failed expiring ride", "ride_id", r.ID, "error", err)
			continue
		}
		if ok {
			expired++
		}
	}
	if expired > 0 {
		rp.Logger.Info("expired stale ride requests", "count", expired)
	}
	return expired
}
