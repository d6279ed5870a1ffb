package geocoding

import (
	"context"
	"time"

	"rental-sync/internal/domain/listing"
	"rental-sync/internal/infrastructure/cache"

	"go.uber.org/zap"
)

type Provider interface {
	Geocode(ctx context.Context, address string) (*listing.GeocodeResult, error)
}

type jsonCache interface {
	GetJSON(ctx context.Context, key string, out any) (bool, error)
	SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error
}

// Cached memoizes successful lookups. Misses and errors are not cached so a
// later run can retry them.
type Cached struct {
	next   Provider
	cache  jsonCache
	ttl    time.Duration
	logger *zap.Logger
}

func NewCached(next Provider, c jsonCache, ttl time.Duration, logger *zap.Logger) *Cached {
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cached{next: next, cache: c, ttl: ttl, logger: logger}
}

// LookupCached answers from the cache alone. A read error counts as a miss.
func (c *Cached) LookupCached(ctx context.Context, address string) (*listing.GeocodeResult, bool) {
	if c.cache == nil {
		return nil, false
	}
	key := cache.GeocodeKey(address)
	var hit listing.GeocodeResult
	found, err := c.cache.GetJSON(ctx, key, &hit)
	if err != nil {
		c.logger.Debug("geocode cache read failed", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	if !found {
		return nil, false
	}
	return &hit, true
}

func (c *Cached) Geocode(ctx context.Context, address string) (*listing.GeocodeResult, error) {
	if res, ok := c.LookupCached(ctx, address); ok {
		return res, nil
	}

	res, err := c.next.Geocode(ctx, address)
	if err != nil || res == nil || c.cache == nil {
		return res, err
	}
	key := cache.GeocodeKey(address)
	if err := c.cache.SetJSON(ctx, key, res, c.ttl); err != nil {
		c.logger.Debug("geocode cache write failed", zap.String("key", key), zap.Error(err))
	}
	return res, nil
}
