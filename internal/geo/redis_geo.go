package geo

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"

	"github.com/example/ride-dispatch/internal/models"
)

// RedisGeo implements Source on Redis GEO commands so every API process and
// the location consumer see the same candidate set.
type RedisGeo struct {
	client *redis.Client
	key    string
}

func NewRedisGeo(client *redis.Client, key string) *RedisGeo {
	return &RedisGeo{client: client, key: key}
}

func NewRedisGeoFromAddr(addr, password, key string) *RedisGeo {
	return NewRedisGeo(redis.NewClient(&redis.Options{Addr: addr, Password: password}), key)
}

func (r *RedisGeo) Upsert(ctx context.Context, a models.DriverAvailability) error {
	if a.Location != nil {
		loc := &redis.GeoLocation{Longitude: a.Location.Lng, Latitude: a.Location.Lat, Name: a.DriverID}
		if _, err := r.client.GeoAdd(ctx, r.key, loc).Result(); err != nil {
			return err
		}
	}
	b, err := json.Marshal(a)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, metaKey(a.DriverID), b, 0).Err()
}

// Remove takes a driver out of the GEO set; the metadata record stays so a
// later go-online call restores history (rating, counters).
func (r *RedisGeo) Remove(ctx context.Context, driverID string) error {
	return r.client.ZRem(ctx, r.key, driverID).Err()
}

func (r *RedisGeo) Near(ctx context.Context, center models.Coord, radiusKm float64, limit int) ([]models.DriverAvailability, error) {
	q := &redis.GeoRadiusQuery{
		Radius:    radiusKm,
		Unit:      "km",
		WithCoord: true,
		WithDist:  true,
		Count:     limit,
		Sort:      "ASC",
	}
	res, err := r.client.GeoRadius(ctx, r.key, center.Lng, center.Lat, q).Result()
	if err != nil {
		return nil, err
	}
	out := make([]models.DriverAvailability, 0, len(res))
	for _, g := range res {
		raw, err := r.client.Get(ctx, metaKey(g.Name)).Result()
		if err != nil {
			// stale GEO member without metadata, skip
			continue
		}
		var a models.DriverAvailability
		if err := json.Unmarshal([]byte(raw), &a); err != nil {
			continue
		}
		if a.Status != models.DriverOnline {
			continue
		}
		a.Location = &models.Coord{Lat: g.Latitude, Lng: g.Longitude}
		out = append(out, a)
	}
	return out, nil
}

func metaKey(id string) string { return "driver:avail:" + id }
