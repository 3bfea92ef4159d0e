package notify

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Deduper decides whether a push key is being sent for the first time inside
// the dedup window. FirstSend must be atomic check-and-record so the
// guarantee holds when several workers race on the same key.
type Deduper interface {
	FirstSend(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// RedisDeduper holds dedup keys in Redis so the window is visible to every
// process handling push tasks.
type RedisDeduper struct {
	Client *redis.Client
}

func (d *RedisDeduper) FirstSend(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return d.Client.SetNX(ctx, "push:dedup:"+key, 1, ttl).Result()
}

// MemoryDeduper is the single-process fallback. It is not sufficient for a
// horizontally scaled deployment; use RedisDeduper there.
type MemoryDeduper struct {
	mu   sync.Mutex
	seen map[string]time.Time
}

func NewMemoryDeduper() *MemoryDeduper {
	return &MemoryDeduper{seen: make(map[string]time.Time)}
}

func (d *MemoryDeduper) FirstSend(_ context.Context, key string, ttl time.Duration) (bool, error) {
	now := time.Now()
	d.mu.Lock()
	defer d.mu.Unlock()
	if exp, ok := d.seen[key]; ok && now.Before(exp) {
		return false, nil
	}
	d.seen[key] = now.Add(ttl)
	// opportunistic sweep keeps the map from growing unbounded
	if len(d.seen) > 4096 {
		for k, exp := range d.seen {
			if now.After(exp) {
				delete(d.seen, k)
			}
		}
	}
	return true, nil
}
