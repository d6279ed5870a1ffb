package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"rental-sync/internal/config"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var ErrCacheUnavailable = errors.New("redis unavailable")

// releaseScript deletes a lock only when it is still held by the caller.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// refreshScript extends a lock's TTL only when it is still held by the caller.
var refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

type Redis struct {
	client redis.UniversalClient
	logger *zap.Logger

	warnedUnavailable atomic.Bool
}

// NewRedis connects and pings once. When Redis is unreachable the returned
// value is usable but every call bypasses the cache.
func NewRedis(ctx context.Context, cfg config.RedisConfig, logger *zap.Logger) *Redis {
	if logger == nil {
		logger = zap.NewNop()
	}
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       0,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis unavailable, bypassing cache", zap.Error(err))
		_ = client.Close()
		return &Redis{logger: logger}
	}
	return &Redis{client: client, logger: logger}
}

func NewRedisFromClient(client redis.UniversalClient, logger *zap.Logger) *Redis {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Redis{client: client, logger: logger}
}

func (r *Redis) isUnavailable() bool {
	return r == nil || r.client == nil
}

func (r *Redis) warnUnavailableOnce(err error) {
	if r == nil || r.logger == nil {
		return
	}
	if r.warnedUnavailable.CompareAndSwap(false, true) {
		r.logger.Warn("redis unavailable, bypassing cache", zap.Error(err))
	}
}

func (r *Redis) Ping(ctx context.Context) error {
	if r.isUnavailable() {
		return ErrCacheUnavailable
	}
	return r.client.Ping(ctx).Err()
}

func (r *Redis) Close() error {
	if r.isUnavailable() {
		return nil
	}
	return r.client.Close()
}

func (r *Redis) GetJSON(ctx context.Context, key string, out any) (bool, error) {
	if r.isUnavailable() {
		return false, nil
	}
	b, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		r.warnUnavailableOnce(err)
		return false, err
	}
	if len(b) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(b, out); err != nil {
		return false, err
	}
	return true, nil
}

func (r *Redis) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	if r.isUnavailable() {
		return nil
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, key, b, ttl).Err(); err != nil {
		r.warnUnavailableOnce(err)
		return err
	}
	return nil
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	if r.isUnavailable() {
		return nil
	}
	if err := r.client.Del(ctx, key).Err(); err != nil {
		r.warnUnavailableOnce(err)
		return err
	}
	return nil
}

func (r *Redis) DeleteByPattern(ctx context.Context, pattern string) error {
	if r.isUnavailable() {
		return nil
	}
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return nil
	}
	iter := r.client.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		k := iter.Val()
		if err := r.client.Del(ctx, k).Err(); err != nil {
			r.logger.Warn("redis delete failed", zap.String("key", k), zap.String("pattern", pattern), zap.Error(err))
		}
	}
	return iter.Err()
}

// InvalidateMarket drops cached listing pages and counts for one market.
func (r *Redis) InvalidateMarket(ctx context.Context, market string) error {
	if r.isUnavailable() {
		return nil
	}
	market = strings.TrimSpace(market)
	if market == "" {
		return nil
	}

	var firstErr error
	for _, p := range MarketPatterns(market) {
		if err := r.DeleteByPattern(ctx, p); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := r.Delete(ctx, MarketStatsKey(market)); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// AcquireLock takes key for owner with SET NX. It returns ErrCacheUnavailable
// when Redis cannot be reached so callers can decide whether to proceed.
func (r *Redis) AcquireLock(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	if r.isUnavailable() {
		return false, ErrCacheUnavailable
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	ok, err := r.client.SetNX(ctx, key, owner, ttl).Result()
	if err != nil {
		r.warnUnavailableOnce(err)
		return false, fmt.Errorf("%w: %w", ErrCacheUnavailable, err)
	}
	return ok, nil
}

func (r *Redis) ReleaseLock(ctx context.Context, key, owner string) error {
	if r.isUnavailable() {
		return nil
	}
	if err := releaseScript.Run(ctx, r.client, []string{key}, owner).Err(); err != nil && !errors.Is(err, redis.Nil) {
		r.warnUnavailableOnce(err)
		return err
	}
	return nil
}

// RefreshLock pushes the expiry of a lock held by owner out to ttl. It
// reports false when the lock expired or passed to another owner.
func (r *Redis) RefreshLock(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	if r.isUnavailable() {
		return false, ErrCacheUnavailable
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	n, err := refreshScript.Run(ctx, r.client, []string{key}, owner, ttl.Milliseconds()).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		r.warnUnavailableOnce(err)
		return false, fmt.Errorf("%w: %w", ErrCacheUnavailable, err)
	}
	return n == 1, nil
}

func LockKey(kind, market string) string {
	return "rentsync:lock:" + kind + ":" + strings.ToLower(strings.TrimSpace(market))
}

// MarketPatterns are the search page keys the marketplace web app caches per
// market. This service never writes them; it only drops them after a job
// changes the market's listings.
func MarketPatterns(market string) []string {
	m := strings.ToLower(strings.TrimSpace(market))
	return []string{
		"listings:" + m + ":*",
		"search:" + m + ":*",
	}
}

// MarketStatsKey is the web app's cached listing count for a market.
func MarketStatsKey(market string) string {
	return "stats:" + strings.ToLower(strings.TrimSpace(market))
}

func GeocodeKey(address string) string {
	return "geocode:" + strings.ToLower(strings.Join(strings.Fields(address), " "))
}
