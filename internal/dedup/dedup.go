// Package dedup suppresses repeated webhook deliveries. Venmail retries a
// delivery until it sees a 2xx, so the same status update can arrive more than
// once.
package dedup

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/zeebo/blake3"
)

const (
	// DefaultTTL is how long a seen key is remembered.
	DefaultTTL = 24 * time.Hour

	// keyPrefix namespaces dedup keys in Redis.
	keyPrefix = "venhook:seen:"
)

// Filter tracks which deliveries have already been processed.
type Filter interface {
	// IsNew reports whether key has not been seen and marks it as seen.
	IsNew(ctx context.Context, key string) (bool, error)

	// Forget removes key so a later redelivery is processed again.
	Forget(ctx context.Context, key string) error
}

// Key derives a dedup key for a delivery. Status updates are keyed by message id
// and status; anything else by a blake3 fingerprint of the raw body.
func Key(messageID, status string, body []byte) string {
	if messageID != "" && status != "" {
		return messageID + ":" + status
	}
	sum := blake3.Sum256(body)
	return fmt.Sprintf("body:%x", sum[:])
}

// RedisFilter is a Filter backed by Redis SET NX with a TTL, shared across
// receiver instances.
type RedisFilter struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisFilter creates a Redis-backed filter. A non-positive ttl means DefaultTTL.
func NewRedisFilter(rdb *redis.Client, ttl time.Duration) *RedisFilter {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisFilter{rdb: rdb, ttl: ttl}
}

// IsNew marks key as seen atomically.
func (f *RedisFilter) IsNew(ctx context.Context, key string) (bool, error) {
	set, err := f.rdb.SetNX(ctx, keyPrefix+key, 1, f.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedup SETNX: %w", err)
	}
	return set, nil
}

// Forget deletes key.
func (f *RedisFilter) Forget(ctx context.Context, key string) error {
	if err := f.rdb.Del(ctx, keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("dedup DEL: %w", err)
	}
	return nil
}

// MemoryFilter is a process-local Filter for single-instance deployments.
type MemoryFilter struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	seen    map[string]time.Time
	checked int
}

// NewMemoryFilter creates an in-memory filter. A non-positive ttl means DefaultTTL.
func NewMemoryFilter(ttl time.Duration) *MemoryFilter {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryFilter{
		ttl:  ttl,
		now:  time.Now,
		seen: make(map[string]time.Time),
	}
}

// IsNew marks key as seen until the TTL elapses.
func (f *MemoryFilter) IsNew(_ context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := f.now()
	f.checked++
	if f.checked%1024 == 0 {
		f.sweepLocked(now)
	}

	if expires, ok := f.seen[key]; ok && now.Before(expires) {
		return false, nil
	}
	f.seen[key] = now.Add(f.ttl)
	return true, nil
}

// Forget deletes key.
func (f *MemoryFilter) Forget(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.seen, key)
	return nil
}

// Len returns the number of remembered keys, including expired ones not yet swept.
func (f *MemoryFilter) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.seen)
}

func (f *MemoryFilter) sweepLocked(now time.Time) {
	for k, expires := range f.seen {
		if !now.Before(expires) {
			delete(f.seen, k)
		}
	}
}

// NewFilter returns a RedisFilter when redisURL is set, otherwise a MemoryFilter.
// The returned close func releases the Redis client.
func NewFilter(ctx context.Context, redisURL string, ttl time.Duration) (Filter, func() error, error) {
	if redisURL == "" {
		return NewMemoryFilter(ttl), func() error { return nil }, nil
	}

	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid redis url: %w", err)
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewRedisFilter(rdb, ttl), rdb.Close, nil
}
