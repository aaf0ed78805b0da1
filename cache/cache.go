// Package cache wraps the Redis keyspace shared by the query and update
// services. Reads fail open: a backend or decode failure is reported as a
// miss so the query path stays available while Redis is degraded. Set
// surfaces backend errors to the caller, and Delete is best-effort
// invalidation that swallows them.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// Cache is a thin client over a Redis keyspace with a default TTL.
// A nil Cache, or one that was never connected, behaves as an always-miss
// store whose writes are silently discarded.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// New builds a Cache from a redis:// URL. The connection is established
// lazily; Connect verifies reachability at startup.
func New(rawURL string, poolSize int, defaultTTL time.Duration) (*Cache, error) {
	var opts, err = redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	if poolSize > 0 {
		opts.PoolSize = poolSize
	}
	opts.DialTimeout = 5 * time.Second

	return &Cache{client: redis.NewClient(opts), ttl: defaultTTL}, nil
}

// Connect verifies the backend responds to PING.
func (c *Cache) Connect(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	log.WithField("defaultTTL", c.ttl).Info("connected to redis")
	return nil
}

// Get returns the string stored at |key|. A missing key or any backend
// error is a miss.
func (c *Cache) Get(ctx context.Context, key string) (string, bool) {
	if c == nil || c.client == nil {
		return "", false
	}
	var value, err = c.client.Get(ctx, key).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.WithFields(log.Fields{"key": key, "err": err}).
				Debug("cache read failed; treating as miss")
		}
		return "", false
	}
	return value, true
}

// Set stores |value| at |key| for |ttl|, or the default TTL when ttl <= 0.
func (c *Cache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if c == nil || c.client == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = c.ttl
	}
	if err := c.client.SetEx(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("setting cache key %q: %w", key, err)
	}
	return nil
}

// GetJSON decodes the JSON stored at |key| into |out|. A missing key,
// backend error, or malformed stored value is a miss.
func (c *Cache) GetJSON(ctx context.Context, key string, out interface{}) bool {
	var raw, ok = c.Get(ctx, key)
	if !ok {
		return false
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		log.WithFields(log.Fields{"key": key, "err": err}).
			Warn("malformed cached value; treating as miss")
		return false
	}
	return true
}

// SetJSON stores the JSON encoding of |v| at |key|.
func (c *Cache) SetJSON(ctx context.Context, key string, v interface{}, ttl time.Duration) error {
	var raw, err = json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding cache value for %q: %w", key, err)
	}
	return c.Set(ctx, key, string(raw), ttl)
}

// Delete removes |key|. Failures are logged and swallowed.
func (c *Cache) Delete(ctx context.Context, key string) {
	if c == nil || c.client == nil {
		return
	}
	if err := c.client.Del(ctx, key).Err(); err != nil {
		log.WithFields(log.Fields{"key": key, "err": err}).
			Warn("cache invalidation failed")
	}
}

// Healthy pings the backend.
func (c *Cache) Healthy(ctx context.Context) error {
	if c == nil || c.client == nil {
		return errors.New("not connected")
	}
	return c.client.Ping(ctx).Err()
}

// Close releases the connection pool. Safe to call more than once.
func (c *Cache) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	var err = c.client.Close()
	c.client = nil
	return err
}
