package cache

import (
	"context"
	"strconv"
	"time"

	"github.com/NikhilSetiya/servermon/pkg/errors"
	"github.com/NikhilSetiya/servermon/pkg/logging"
	"github.com/NikhilSetiya/servermon/pkg/types"
)

// SampleStore is the persistent store behind the cache
type SampleStore interface {
	Append(ctx context.Context, sample *types.Sample) error
	LatestByTarget(ctx context.Context, targetID int64) (types.Sample, bool, error)
}

// LatestSampleCache writes the newest sample of each target through to
// Redis and serves LatestByTarget from there. Redis failures fall back to
// the store and never fail a call.
type LatestSampleCache struct {
	store   SampleStore
	service *Service
	ttl     time.Duration
	logger  *logging.Logger
}

// NewLatestSampleCache decorates store
func NewLatestSampleCache(store SampleStore, service *Service, ttl time.Duration) *LatestSampleCache {
	return &LatestSampleCache{store: store, service: service, ttl: ttl, logger: logging.GetLogger()}
}

func latestKey(targetID int64) CacheKey {
	return CacheKey{Prefix: PrefixLatestSample, ID: strconv.FormatInt(targetID, 10)}
}

// Append stores sample and then caches it as the target's latest
func (c *LatestSampleCache) Append(ctx context.Context, sample *types.Sample) error {
	if err := c.store.Append(ctx, sample); err != nil {
		return err
	}
	if err := c.service.Set(ctx, latestKey(sample.TargetID), sample, c.ttl); err != nil {
		c.logger.WithContext(ctx).WithError(err).Warn("Failed to cache latest sample")
		// A stale entry would shadow the sample just written.
		c.invalidate(ctx, sample.TargetID)
	}
	return nil
}

// LatestByTarget reads the cache first and the store on a miss
func (c *LatestSampleCache) LatestByTarget(ctx context.Context, targetID int64) (types.Sample, bool, error) {
	var cached types.Sample
	err := c.service.Get(ctx, latestKey(targetID), &cached)
	if err == nil {
		return cached, true, nil
	}
	if !errors.IsNotFound(err) {
		c.logger.WithContext(ctx).WithError(err).Warn("Latest sample cache unavailable, reading store")
	}

	sample, found, err := c.store.LatestByTarget(ctx, targetID)
	if err != nil || !found {
		return sample, found, err
	}
	if err := c.service.Set(ctx, latestKey(targetID), sample, c.ttl); err != nil {
		c.logger.WithContext(ctx).WithError(err).Debug("Failed to backfill latest sample cache")
	}
	return sample, true, nil
}

func (c *LatestSampleCache) invalidate(ctx context.Context, targetID int64) {
	if err := c.service.Delete(ctx, latestKey(targetID)); err != nil {
		c.logger.WithContext(ctx).WithError(err).Warn("Failed to invalidate latest sample")
	}
}
