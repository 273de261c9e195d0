package cache

import (
	"context"
	"sync/atomic"
	"time"

	"blogcore/internal/config"
	"blogcore/internal/metrics"
	"blogcore/pkg/logger"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// KeyPrefix namespaces every cache key in the shared Redis instance.
const KeyPrefix = "blog:cache:"

// nullSentinel is the stored marker for "the source of truth has no value",
// used for penetration protection.
const nullSentinel = "NULL"

// compareAndDeleteScript deletes the key only when it still holds the
// expected value. Running it server-side keeps release atomic, so a lock
// that expired and was re-acquired by another owner is never deleted here.
var compareAndDeleteScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
    return redis.call("del", KEYS[1])
end
return 0
`)

// Store is the two-tier key/value store: Redis as the networked primary
// tier and an in-process bounded map as the fallback tier. A periodic probe
// flips the availability flag; every operation consults the flag instead of
// retrying against a tier already known to be down. Writes mirror into the
// local tier for read-after-write within the current process; reads consult
// the local tier only while Redis is marked unavailable.
type Store struct {
	rdb           *redis.Client
	local         *localStore
	available     *atomic.Bool
	prefix        string
	opTimeout     time.Duration
	probeInterval time.Duration
}

func NewStore(rdb *redis.Client, cfg config.CacheConfig) *Store {
	opTimeout := cfg.OpTimeout
	if opTimeout <= 0 {
		opTimeout = 500 * time.Millisecond
	}
	probeInterval := cfg.ProbeInterval
	if probeInterval <= 0 {
		probeInterval = 10 * time.Second
	}
	return &Store{
		rdb:           rdb,
		local:         newLocalStore(cfg.LocalCapacity),
		available:     &atomic.Bool{},
		prefix:        KeyPrefix,
		opTimeout:     opTimeout,
		probeInterval: probeInterval,
	}
}

// WithPrefix returns a view of the store under a different key namespace.
// The view shares the Redis client, the local tier and the availability
// flag, so separately namespaced consumers (the idempotency guard) ride the
// same health probe.
func (s *Store) WithPrefix(prefix string) *Store {
	view := *s
	view.prefix = prefix
	return &view
}

// Run probes the networked tier until the context is cancelled. The first
// probe fires immediately, so availability is settled shortly after startup.
func (s *Store) Run(ctx context.Context) {
	if s.rdb == nil {
		logger.Warn("redis not configured, cache runs local-only")
		return
	}

	s.probe(ctx)

	ticker := time.NewTicker(s.probeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.probe(ctx)
		}
	}
}

func (s *Store) probe(ctx context.Context) {
	opCtx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	err := s.rdb.Ping(opCtx).Err()
	was := s.available.Swap(err == nil)
	if err != nil {
		if was {
			logger.Warn("redis marked unavailable, falling back to local cache", zap.Error(err))
		}
		return
	}
	if !was {
		logger.Info("redis marked available")
	}
}

// Available reports whether the networked tier is currently usable.
func (s *Store) Available() bool {
	return s.available.Load()
}

func (s *Store) key(k string) string {
	return s.prefix + k
}

func (s *Store) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.opTimeout)
}

func (s *Store) Set(ctx context.Context, key, value string, ttl time.Duration) {
	k := s.key(key)

	if s.available.Load() {
		opCtx, cancel := s.opCtx(ctx)
		err := s.rdb.Set(opCtx, k, value, ttl).Err()
		cancel()
		if err != nil {
			logger.Warn("redis set failed, writing local only", zap.String("key", k), zap.Error(err))
			metrics.RecordCacheFallback()
		}
	}

	s.local.Set(k, value, ttl)
}

func (s *Store) Get(ctx context.Context, key string) (string, bool) {
	k := s.key(key)

	if s.available.Load() {
		opCtx, cancel := s.opCtx(ctx)
		val, err := s.rdb.Get(opCtx, k).Result()
		cancel()
		if err == nil {
			metrics.RecordCacheHit("redis")
			return val, true
		}
		if err == redis.Nil {
			metrics.RecordCacheMiss()
			return "", false
		}
		logger.Warn("redis get failed, trying local cache", zap.String("key", k), zap.Error(err))
		metrics.RecordCacheFallback()
	}

	if val, ok := s.local.Get(k); ok {
		metrics.RecordCacheHit("local")
		return val, true
	}
	metrics.RecordCacheMiss()
	return "", false
}

func (s *Store) Delete(ctx context.Context, key string) {
	k := s.key(key)

	if s.available.Load() {
		opCtx, cancel := s.opCtx(ctx)
		err := s.rdb.Del(opCtx, k).Err()
		cancel()
		if err != nil {
			logger.Warn("redis delete failed", zap.String("key", k), zap.Error(err))
		}
	}

	s.local.Delete(k)
}

// DeleteByPrefix removes every key under the given sub-namespace, e.g. all
// cached entries of one aggregate after a write.
func (s *Store) DeleteByPrefix(ctx context.Context, prefix string) {
	p := s.key(prefix)

	if s.available.Load() {
		opCtx, cancel := s.opCtx(ctx)
		iter := s.rdb.Scan(opCtx, 0, p+"*", 100).Iterator()
		for iter.Next(opCtx) {
			if err := s.rdb.Del(opCtx, iter.Val()).Err(); err != nil {
				logger.Warn("redis delete failed during prefix scan", zap.String("key", iter.Val()), zap.Error(err))
				break
			}
		}
		if err := iter.Err(); err != nil {
			logger.Warn("redis prefix scan failed", zap.String("prefix", p), zap.Error(err))
		}
		cancel()
	}

	s.local.DeleteByPrefix(p)
}

func (s *Store) Exists(ctx context.Context, key string) bool {
	k := s.key(key)

	if s.available.Load() {
		opCtx, cancel := s.opCtx(ctx)
		n, err := s.rdb.Exists(opCtx, k).Result()
		cancel()
		if err == nil {
			return n > 0
		}
		logger.Warn("redis exists failed, trying local cache", zap.String("key", k), zap.Error(err))
		metrics.RecordCacheFallback()
	}

	return s.local.Exists(k)
}

func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) {
	k := s.key(key)

	if s.available.Load() {
		opCtx, cancel := s.opCtx(ctx)
		err := s.rdb.Expire(opCtx, k, ttl).Err()
		cancel()
		if err != nil {
			logger.Warn("redis expire failed", zap.String("key", k), zap.Error(err))
		}
	}

	s.local.Expire(k, ttl)
}

// RemainingTTL reports how long the entry has left to live. The second
// return value is false when the key is absent, has no expiry, or the TTL
// could not be determined.
func (s *Store) RemainingTTL(ctx context.Context, key string) (time.Duration, bool) {
	k := s.key(key)

	if s.available.Load() {
		opCtx, cancel := s.opCtx(ctx)
		d, err := s.rdb.TTL(opCtx, k).Result()
		cancel()
		if err == nil {
			if d < 0 {
				return 0, false
			}
			return d, true
		}
		logger.Warn("redis ttl failed, trying local cache", zap.String("key", k), zap.Error(err))
		metrics.RecordCacheFallback()
	}

	return s.local.RemainingTTL(k)
}

// SetIfAbsent atomically inserts the value only when the key does not exist.
// This is the acquire primitive for the distributed lock.
func (s *Store) SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) bool {
	k := s.key(key)

	if s.available.Load() {
		opCtx, cancel := s.opCtx(ctx)
		ok, err := s.rdb.SetNX(opCtx, k, value, ttl).Result()
		cancel()
		if err == nil {
			if ok {
				s.local.Set(k, value, ttl)
			}
			return ok
		}
		logger.Warn("redis setnx failed, falling back to local", zap.String("key", k), zap.Error(err))
		metrics.RecordCacheFallback()
	}

	// Process-local exclusion only. Documented degradation, not an error.
	return s.local.SetIfAbsent(k, value, ttl)
}

// CompareAndDelete removes the key only if it still holds the expected
// value, atomically on the server side. This is the release primitive for
// the distributed lock.
func (s *Store) CompareAndDelete(ctx context.Context, key, expected string) bool {
	k := s.key(key)

	if s.available.Load() {
		opCtx, cancel := s.opCtx(ctx)
		n, err := compareAndDeleteScript.Run(opCtx, s.rdb, []string{k}, expected).Int()
		cancel()
		if err == nil {
			s.local.CompareAndDelete(k, expected)
			return n == 1
		}
		logger.Warn("redis compare-and-delete failed, falling back to local", zap.String("key", k), zap.Error(err))
		metrics.RecordCacheFallback()
	}

	return s.local.CompareAndDelete(k, expected)
}

// SetNullValue caches the absence of a value so repeated lookups for a
// missing key stop hitting the source of truth.
func (s *Store) SetNullValue(ctx context.Context, key string, ttl time.Duration) {
	s.Set(ctx, key, nullSentinel, ttl)
}

func (s *Store) IsNullValue(ctx context.Context, key string) bool {
	val, ok := s.Get(ctx, key)
	return ok && val == nullSentinel
}
