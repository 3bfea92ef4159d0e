package geo

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/example/ride-dispatch/internal/models"
)

// Source yields dispatch candidates near a point. Implementations must only
// return drivers whose availability status is ONLINE and whose location is
// known; distance filtering beyond radiusKm may be approximate, the matcher
// re-checks exactly.
type Source interface {
	Near(ctx context.Context, center models.Coord, radiusKm float64, limit int) ([]models.DriverAvailability, error)
	Upsert(ctx context.Context, a models.DriverAvailability) error
}

// Index is the in-memory Source used when Redis is not configured.
type Index struct {
	mu      sync.RWMutex
	drivers map[string]models.DriverAvailability
}

func NewIndex() *Index {
	return &Index{drivers: make(map[string]models.DriverAvailability)}
}

func (g *Index) Upsert(_ context.Context, a models.DriverAvailability) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	a.LocationUpdatedAt = time.Now()
	g.drivers[a.DriverID] = a
	return nil
}

// Remove drops a driver from the index, used when they go offline.
func (g *Index) Remove(_ context.Context, driverID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.drivers, driverID)
	return nil
}

// naive scan; at this scale a geo-hash or Redis GEO index takes over
func (g *Index) Near(_ context.Context, center models.Coord, radiusKm float64, limit int) ([]models.DriverAvailability, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	type pair struct {
		a    models.DriverAvailability
		dist float64
	}
	arr := make([]pair, 0, len(g.drivers))
	for _, a := range g.drivers {
		if a.Status != models.DriverOnline || a.Location == nil {
			continue
		}
		dist := HaversineKm(center, *a.Location)
		if dist > radiusKm {
			continue
		}
		arr = append(arr, pair{a, dist})
	}
	n := limit
	if n > len(arr) || n <= 0 {
		n = len(arr)
	}
	// partial selection sort for top-N
	for i := 0; i < n; i++ {
		minIdx := i
		for j := i + 1; j < len(arr); j++ {
			if arr[j].dist < arr[minIdx].dist {
				minIdx = j
			}
		}
		arr[i], arr[minIdx] = arr[minIdx], arr[i]
	}
	out := make([]models.DriverAvailability, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, arr[i].a)
	}
	return out, nil
}

// HaversineKm is the great-circle distance between two points in kilometers.
func HaversineKm(a, b models.Coord) float64 {
	const earthRadiusKm = 6371.0
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(a.Lat*math.Pi/180)*math.Cos(b.Lat*math.Pi/180)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return earthRadiusKm * c
}
