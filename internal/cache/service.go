// Package cache keeps hot read paths in Redis.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/NikhilSetiya/servermon/pkg/errors"
)

// Client is the subset of *redis.Client the cache uses
type Client interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// Service stores JSON values under prefixed keys
type Service struct {
	client     Client
	defaultTTL time.Duration
}

// NewService creates a cache service. Values set without a TTL use
// defaultTTL.
func NewService(client Client, defaultTTL time.Duration) *Service {
	if defaultTTL <= 0 {
		defaultTTL = 15 * time.Minute
	}
	return &Service{client: client, defaultTTL: defaultTTL}
}

// CacheKey generates cache keys with consistent prefixes
type CacheKey struct {
	Prefix string
	ID     string
}

// String returns the formatted cache key
func (ck CacheKey) String() string {
	return fmt.Sprintf("%s:%s", ck.Prefix, ck.ID)
}

// Cache key prefixes
const (
	PrefixLatestSample = "sample:latest"
)

// Set stores a value in cache with the specified TTL
func (s *Service) Set(ctx context.Context, key CacheKey, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return errors.NewInternalError("failed to serialize cache value").WithCause(err)
	}
	if ttl == 0 {
		ttl = s.defaultTTL
	}
	if err := s.client.Set(ctx, key.String(), data, ttl).Err(); err != nil {
		return errors.NewExternalError("redis", "failed to set cache value").WithCause(err)
	}
	return nil
}

// Get decodes a cached value into dest. A missing key is a not_found error.
func (s *Service) Get(ctx context.Context, key CacheKey, dest interface{}) error {
	data, err := s.client.Get(ctx, key.String()).Bytes()
	if err != nil {
		if err == redis.Nil {
			return errors.NewNotFoundError("cache key")
		}
		return errors.NewExternalError("redis", "failed to get cache value").WithCause(err)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return errors.NewInternalError("failed to deserialize cache value").WithCause(err)
	}
	return nil
}

// Delete removes a value from cache
func (s *Service) Delete(ctx context.Context, key CacheKey) error {
	if err := s.client.Del(ctx, key.String()).Err(); err != nil {
		return errors.NewExternalError("redis", "failed to delete cache key").WithCause(err)
	}
	return nil
}
