package storage

import (
	"context"
	"sync"
	"time"

	"github.com/example/ride-dispatch/internal/models"
)

// MemoryStore backs all store interfaces for tests and single-process runs.
// One mutex guards everything; Mutate callbacks do no I/O so the hold time
// stays short even under accept contention.
type MemoryStore struct {
	mu        sync.Mutex
	rides     map[string]*models.Ride
	drivers   map[string]*models.DriverAvailability
	tokens    map[string]string
	ratings   map[string]*models.RideRating // keyed rideID + ":" + raterID
	ratingLog map[string][]int              // per rated user
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rides:     make(map[string]*models.Ride),
		drivers:   make(map[string]*models.DriverAvailability),
		tokens:    make(map[string]string),
		ratings:   make(map[string]*models.RideRating),
		ratingLog: make(map[string][]int),
	}
}

func (m *MemoryStore) CreateRide(_ context.Context, r *models.Ride) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rides[r.ID] = r.Clone()
	return nil
}

func (m *MemoryStore) GetRide(_ context.Context, id string) (*models.Ride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rides[id]
	if !ok {
		return nil, ErrNotFound
	}
	return r.Clone(), nil
}

func (m *MemoryStore) Mutate(_ context.Context, id string, fn func(*models.Ride) error) (*models.Ride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rides[id]
	if !ok {
		return nil, ErrNotFound
	}
	work := r.Clone()
	if err := fn(work); err != nil {
		return nil, err
	}
	m.rides[id] = work
	return work.Clone(), nil
}

func (m *MemoryStore) ListExpiredRequests(_ context.Context, cutoff time.Time, limit int) ([]*models.Ride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.Ride, 0)
	for _, r := range m.rides {
		if r.Status != models.StatusRequested || r.DriverID != nil {
			continue
		}
		if !r.RequestedAt.Before(cutoff) {
			continue
		}
		out = append(out, r.Clone())
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *MemoryStore) ActiveRideForDriver(_ context.Context, driverID string) (*models.Ride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rides {
		if r.DriverID == nil || *r.DriverID != driverID {
			continue
		}
		switch r.Status {
		case models.StatusAccepted, models.StatusOnRouteToPickup, models.StatusArrivedAtPickup, models.StatusOnTrip:
			return r.Clone(), nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) GetAvailability(_ context.Context, driverID string) (*models.DriverAvailability, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.drivers[driverID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *MemoryStore) UpsertAvailability(_ context.Context, a *models.DriverAvailability) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *a
	m.drivers[a.DriverID] = &cp
	return nil
}

func (m *MemoryStore) SetStatus(_ context.Context, driverID string, status models.AvailabilityStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.drivers[driverID]
	if !ok {
		return ErrNotFound
	}
	a.Status = status
	return nil
}

func (m *MemoryStore) RecordCompletedRide(_ context.Context, driverID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.drivers[driverID]; ok {
		a.CompletedRides++
	}
	return nil
}

func (m *MemoryStore) ApplyRating(_ context.Context, driverID string, rating float64, _ int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.drivers[driverID]; ok {
		a.Rating = rating
	}
	return nil
}

func (m *MemoryStore) PushToken(_ context.Context, userID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tokens[userID], nil
}

func (m *MemoryStore) SetPushToken(_ context.Context, userID, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[userID] = token
	return nil
}

func (m *MemoryStore) ClearPushToken(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tokens, userID)
	return nil
}

func (m *MemoryStore) SaveRating(_ context.Context, r *models.RideRating) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := r.RideID + ":" + r.RaterID
	if _, ok := m.ratings[key]; ok {
		return ErrDuplicateRating
	}
	cp := *r
	m.ratings[key] = &cp
	m.ratingLog[r.RatedUserID] = append(m.ratingLog[r.RatedUserID], r.Rating)
	return nil
}

func (m *MemoryStore) RatingStats(_ context.Context, userID string) (float64, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := m.ratingLog[userID]
	if len(all) == 0 {
		return 0, 0, nil
	}
	sum := 0
	for _, v := range all {
		sum += v
	}
	return float64(sum) / float64(len(all)), len(all), nil
}
