package draft

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Envelope is the versioned wrapper stored in the local tier. Entries with a
// version other than the configured one are treated as misses, so the cache
// format can change without migrations.
type Envelope struct {
	Version int       `json:"version"`
	SavedAt time.Time `json:"savedAt"`
	Values  Values    `json:"values"`
}

// Cache is the Redis-backed local tier of the draft store. It is a
// performance and resilience overlay only; the Postgres row is the arbiter
// of truth and a fresher remote read always wins.
type Cache struct {
	client  *redis.Client
	version int
	ttl     time.Duration
}

// NewCache connects to Redis and verifies the connection.
func NewCache(redisURL string, version int, ttl time.Duration) (*Cache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &Cache{client: client, version: version, ttl: ttl}, nil
}

// NewCacheWithClient wraps an existing Redis client.
func NewCacheWithClient(client *redis.Client, version int, ttl time.Duration) *Cache {
	return &Cache{client: client, version: version, ttl: ttl}
}

// Get reads one entry. A missing key, an entry with a stale cache format
// version, or an all-blank value set all count as a miss.
func (c *Cache) Get(ctx context.Context, key Key) (Values, bool, error) {
	raw, err := c.client.Get(ctx, key.String()).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read draft cache: %w", err)
	}

	var env Envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return nil, false, fmt.Errorf("decode draft cache entry: %w", err)
	}
	if env.Version != c.version || env.Values.AllBlank() {
		return nil, false, nil
	}
	return env.Values, true, nil
}

// Seed tries the exact key first, then the order-less fallback key. The
// first non-empty hit wins.
func (c *Cache) Seed(ctx context.Context, key Key) (Values, bool, error) {
	values, ok, err := c.Get(ctx, key)
	if err != nil || ok {
		return values, ok, err
	}
	if key.OrderID == "" {
		return nil, false, nil
	}
	return c.Get(ctx, key.Fallback())
}

// Put writes the exact key and overwrites the fallback key. All-blank value
// sets are skipped entirely: an erased draft must not be cached as if it were
// real data.
func (c *Cache) Put(ctx context.Context, key Key, values Values) error {
	if values.AllBlank() {
		return nil
	}

	payload, err := json.Marshal(Envelope{
		Version: c.version,
		SavedAt: time.Now(),
		Values:  values,
	})
	if err != nil {
		return fmt.Errorf("encode draft cache entry: %w", err)
	}

	if err := c.client.Set(ctx, key.String(), payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("write draft cache: %w", err)
	}
	if key.OrderID != "" {
		if err := c.client.Set(ctx, key.Fallback().String(), payload, c.ttl).Err(); err != nil {
			return fmt.Errorf("write draft cache fallback: %w", err)
		}
	}
	return nil
}

// Purge removes the exact-key entry. Called after a successful confirm so
// finalized answers cannot resurrect as a draft on reopen.
func (c *Cache) Purge(ctx context.Context, key Key) error {
	if err := c.client.Del(ctx, key.String()).Err(); err != nil {
		return fmt.Errorf("purge draft cache: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (c *Cache) Close() error {
	return c.client.Close()
}

// Ping checks if Redis is reachable.
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
