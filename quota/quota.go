// Package quota enforces per-user daily request limits on the proxy
// endpoints. Counts live in a 24-hour rolling window, either in process
// memory or in Redis when an address is configured.
package quota

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const window = 24 * time.Hour

// Counter increments and returns the running count for a user/provider pair
// within the current window.
type Counter interface {
	Incr(ctx context.Context, userID int, provider string) (int, error)
}

// MemoryCounter keeps counts in process memory. All counts share one window
// anchor; when it lapses every user starts fresh, matching a daily reset.
type MemoryCounter struct {
	mu     sync.Mutex
	counts map[string]int
	since  time.Time
}

func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{counts: map[string]int{}, since: time.Now()}
}

func (m *MemoryCounter) Incr(_ context.Context, userID int, provider string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if time.Since(m.since) >= window {
		m.counts = map[string]int{}
		m.since = time.Now()
	}
	key := fmt.Sprintf("%d:%s", userID, provider)
	m.counts[key]++
	return m.counts[key], nil
}

// RedisCounter keeps counts in Redis so they survive restarts and are shared
// across instances. Keys expire a window after first use.
type RedisCounter struct {
	rdb *redis.Client
}

func NewRedisCounter(rdb *redis.Client) *RedisCounter {
	return &RedisCounter{rdb: rdb}
}

func (r *RedisCounter) Incr(ctx context.Context, userID int, provider string) (int, error) {
	key := fmt.Sprintf("quota:%d:%s", userID, provider)
	n, err := r.rdb.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if n == 1 {
		if err := r.rdb.Expire(ctx, key, window).Err(); err != nil {
			return int(n), err
		}
	}
	return int(n), nil
}

// NewCounterFromEnv picks Redis when REDIS_ADDR is set, memory otherwise.
func NewCounterFromEnv() Counter {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		log.Printf("[quota] using in-memory counters")
		return NewMemoryCounter()
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       0,
	})
	log.Printf("[quota] using redis counters at %s", addr)
	return NewRedisCounter(rdb)
}
