// Package readcache is a cache-aside layer for read-heavy endpoints.
//
// The store of record stays authoritative: a cache read that fails for any
// reason other than a plain miss is treated as a miss and the caller falls
// through to the database. Invalidation failures are logged and counted but
// never surfaced, so a write path can always be acknowledged; stale entries
// are then bounded by the TTL.
package readcache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-redis/cache/v9"
	"github.com/redis/go-redis/v9"
)

type Cache struct {
	data *cache.Cache
	log  *slog.Logger
}

// New connects to redis and layers an in-process TinyLFU cache in front of it
// for hot keys. `redisURL` carries all connection config.
func New(redisURL string, localSize int, localTTL time.Duration) (*Cache, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("could not configure redis read cache: %w", err)
	}
	rdb := redis.NewClient(opt)
	if _, err := rdb.Ping(context.TODO()).Result(); err != nil {
		return nil, fmt.Errorf("could not connect to redis read cache: %w", err)
	}
	return &Cache{
		data: cache.New(&cache.Options{
			Redis:      rdb,
			LocalCache: cache.NewTinyLFU(localSize, localTTL),
		}),
		log: slog.Default().With("system", "readcache"),
	}, nil
}

// NewLocal builds an in-process-only cache. Used by tests and by deployments
// that run without a redis instance.
func NewLocal(size int, ttl time.Duration) *Cache {
	return &Cache{
		data: cache.New(&cache.Options{
			LocalCache: cache.NewTinyLFU(size, ttl),
		}),
		log: slog.Default().With("system", "readcache"),
	}
}

// Read looks up key and unmarshals the snapshot into out, reporting whether
// it hit. Cache unavailability degrades to a miss; the caller is responsible
// for fetching from the store and calling Populate.
func (c *Cache) Read(ctx context.Context, key string, out any) bool {
	err := c.data.Get(ctx, key, out)
	if err == nil {
		cacheHits.Inc()
		return true
	}
	if !errors.Is(err, cache.ErrCacheMiss) {
		readFailures.Inc()
		c.log.Warn("cache read failed, treating as miss", "key", key, "err", err)
	}
	cacheMisses.Inc()
	return false
}

// Populate stores a snapshot against key with the given TTL. Best effort: a
// failed write only costs the next reader a store round trip.
func (c *Cache) Populate(ctx context.Context, key string, val any, ttl time.Duration) {
	err := c.data.Set(&cache.Item{
		Ctx:   ctx,
		Key:   key,
		Value: val,
		TTL:   ttl,
	})
	if err != nil {
		c.log.Warn("cache write failed", "key", key, "err", err)
	}
}

// Invalidate removes every key synchronously. Must be called before the
// underlying write is acknowledged. A delete that fails leaves the entry to
// expire by TTL; that degradation is logged and counted, never returned.
func (c *Cache) Invalidate(ctx context.Context, keys ...string) {
	for _, k := range keys {
		err := c.data.Delete(ctx, k)
		if err != nil && !errors.Is(err, cache.ErrCacheMiss) {
			degradedInvalidations.Inc()
			c.log.Error("cache invalidation failed, entry stale until TTL", "key", k, "err", err)
		}
	}
}
