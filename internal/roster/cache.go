package roster

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/roadbuddy/fleetwatch/internal/config"
)

const (
	cacheKeyDrivers      = "fleetwatch:roster:drivers"
	cacheKeyDriverPrefix = "fleetwatch:roster:driver:"
)

// NewRedisClient returns a client for cfg.
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// CachedSource serves roster reads from Redis and falls back to the wrapped
// source on a miss. Redis failures degrade to uncached reads.
type CachedSource struct {
	next   Source
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewCachedSource wraps next with a Redis read-through cache.
func NewCachedSource(next Source, client *redis.Client, ttl time.Duration, logger *zap.Logger) *CachedSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedSource{next: next, client: client, ttl: ttl, logger: logger.Named("roster.cache")}
}

// Drivers returns the cached roster or loads and caches it.
func (s *CachedSource) Drivers(ctx context.Context) ([]Driver, error) {
	var drivers []Driver
	if s.get(ctx, cacheKeyDrivers, &drivers) {
		return drivers, nil
	}

	drivers, err := s.next.Drivers(ctx)
	if err != nil {
		return nil, err
	}
	s.set(ctx, cacheKeyDrivers, drivers)
	return drivers, nil
}

// Driver returns the cached entry or loads and caches it. Misses are not
// cached.
func (s *CachedSource) Driver(ctx context.Context, vehicleID string) (Driver, error) {
	key := cacheKeyDriverPrefix + vehicleID

	var d Driver
	if s.get(ctx, key, &d) {
		return d, nil
	}

	d, err := s.next.Driver(ctx, vehicleID)
	if err != nil {
		return Driver{}, err
	}
	s.set(ctx, key, d)
	return d, nil
}

func (s *CachedSource) get(ctx context.Context, key string, dst any) bool {
	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.logger.Warn("cache read failed", zap.String("key", key), zap.Error(err))
		}
		return false
	}
	if err := json.Unmarshal(data, dst); err != nil {
		s.logger.Warn("cache entry corrupt", zap.String("key", key), zap.Error(err))
		return false
	}
	return true
}

func (s *CachedSource) set(ctx context.Context, key string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := s.client.Set(ctx, key, data, s.ttl).Err(); err != nil {
		s.logger.Warn("cache write failed", zap.String("key", key), zap.Error(err))
	}
}
