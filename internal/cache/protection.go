package cache

import (
	"context"
	"math/rand"
	"time"

	"blogcore/internal/config"
	"blogcore/internal/metrics"
	"blogcore/pkg/logger"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// breakdownLockPrefix namespaces the per-key reload locks.
const breakdownLockPrefix = "breakdown:"

// refreshTimeout bounds a background stale-ahead reload so it never holds
// resources past a reasonable loader round-trip.
const refreshTimeout = 5 * time.Second

// Loader fetches a value from the source of truth. The second return value
// is false when the source has no value for the key. Loaders must be
// side-effect-free reads, safe to invoke more than once.
type Loader func(ctx context.Context) (string, bool, error)

// ProtectionCoordinator wraps the store and the distributed lock with the
// three classic cache defenses: penetration (caching "not found"), breakdown
// (single-flight reload of a hot key under lock) and avalanche (randomized
// TTL jitter). It must never be the reason a request fails: every internal
// failure degrades to calling the loader directly.
type ProtectionCoordinator struct {
	store   *Store
	lock    *DistributedLock
	nullTTL time.Duration
	lockTTL time.Duration
	refresh singleflight.Group
}

func NewProtectionCoordinator(store *Store, cfg config.CacheConfig) *ProtectionCoordinator {
	nullTTL := cfg.NullValueTTL
	if nullTTL <= 0 {
		nullTTL = 5 * time.Minute
	}
	lockTTL := cfg.LockTTL
	if lockTTL <= 0 {
		lockTTL = 10 * time.Second
	}
	return &ProtectionCoordinator{
		store:   store,
		lock:    NewDistributedLock(store),
		nullTTL: nullTTL,
		lockTTL: lockTTL,
	}
}

// GetOrLoad returns the cached value for key, loading it under breakdown
// protection on a miss. A cached null sentinel is returned as "absent"
// without invoking the loader. The boolean is false when the source of
// truth has no value.
func (p *ProtectionCoordinator) GetOrLoad(ctx context.Context, key string, ttl time.Duration, loader Loader) (string, bool, error) {
	if val, ok, hit := p.lookup(ctx, key); hit {
		return val, ok, nil
	}

	token := NewOwnerToken()
	if p.lock.TryAcquire(ctx, breakdownLockPrefix+key, token, p.lockTTL) {
		defer p.lock.Release(ctx, breakdownLockPrefix+key, token)

		// Double check: another holder may have just populated the cache
		// while this caller was acquiring the lock.
		if val, ok, hit := p.lookup(ctx, key); hit {
			return val, ok, nil
		}
		return p.loadAndStore(ctx, key, ttl, loader)
	}

	metrics.RecordLockContention()
	sleepWithContext(ctx, time.Duration(50+rand.Intn(50))*time.Millisecond)

	if val, ok, hit := p.lookup(ctx, key); hit {
		return val, ok, nil
	}

	// Lock still contended and cache still empty: load directly. A bounded
	// concurrency leak here is preferred over failing the request.
	logger.Warn("breakdown lock contended, loading directly", zap.String("key", key))
	metrics.RecordLoaderCall()
	return loader(ctx)
}

// GetWithAsyncRefresh behaves like GetOrLoad, but when the cached entry has
// less than a quarter of its base TTL left it schedules a non-blocking
// background reload and returns the still-valid value immediately, so hot
// keys never observe a synchronous miss.
func (p *ProtectionCoordinator) GetWithAsyncRefresh(ctx context.Context, key string, ttl time.Duration, loader Loader) (string, bool, error) {
	if val, ok, hit := p.lookup(ctx, key); hit {
		if ok {
			if remaining, known := p.store.RemainingTTL(ctx, key); known && remaining < ttl/4 {
				p.refreshAsync(key, ttl, loader)
			}
		}
		return val, ok, nil
	}

	return p.GetOrLoad(ctx, key, ttl, loader)
}

// lookup resolves the key against the cache. hit is true when the cache had
// an answer, including the null sentinel, in which case ok is false.
func (p *ProtectionCoordinator) lookup(ctx context.Context, key string) (val string, ok bool, hit bool) {
	v, found := p.store.Get(ctx, key)
	if !found {
		return "", false, false
	}
	if v == nullSentinel {
		return "", false, true
	}
	return v, true, true
}

func (p *ProtectionCoordinator) loadAndStore(ctx context.Context, key string, ttl time.Duration, loader Loader) (string, bool, error) {
	metrics.RecordLoaderCall()
	val, found, err := loader(ctx)
	if err != nil {
		return "", false, err
	}
	if found {
		p.store.Set(ctx, key, val, jitterTTL(ttl))
		return val, true, nil
	}
	p.store.SetNullValue(ctx, key, p.nullTTL)
	return "", false, nil
}

func (p *ProtectionCoordinator) refreshAsync(key string, ttl time.Duration, loader Loader) {
	go func() {
		// singleflight collapses concurrent refresh attempts for the same
		// key into one loader call within this process.
		_, _, _ = p.refresh.Do(key, func() (any, error) {
			ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
			defer cancel()

			metrics.RecordLoaderCall()
			val, found, err := loader(ctx)
			if err != nil {
				logger.Warn("async cache refresh failed", zap.String("key", key), zap.Error(err))
				return nil, err
			}
			if found {
				p.store.Set(ctx, key, val, jitterTTL(ttl))
				logger.Debug("async cache refresh complete", zap.String("key", key))
			}
			return nil, nil
		})
	}()
}

// jitterTTL adds a uniform 0-20% of the base TTL so entries written together
// do not all expire at the same instant.
func jitterTTL(base time.Duration) time.Duration {
	return base + time.Duration(rand.Float64()*0.2*float64(base))
}

func sleepWithContext(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
