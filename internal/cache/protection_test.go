package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"blogcore/internal/config"
)

func newTestCoordinator() (*ProtectionCoordinator, *Store) {
	store := newLocalOnlyStore()
	p := NewProtectionCoordinator(store, config.CacheConfig{
		NullValueTTL: time.Minute,
		LockTTL:      10 * time.Second,
	})
	return p, store
}

func TestGetOrLoadCachesValue(t *testing.T) {
	p, _ := newTestCoordinator()
	ctx := context.Background()

	var calls atomic.Int32
	loader := func(ctx context.Context) (string, bool, error) {
		calls.Add(1)
		return "v1", true, nil
	}

	val, ok, err := p.GetOrLoad(ctx, "article:42", time.Hour, loader)
	if err != nil || !ok || val != "v1" {
		t.Fatalf("unexpected result: %q, %v, %v", val, ok, err)
	}

	// Second call must be served from cache.
	val, ok, err = p.GetOrLoad(ctx, "article:42", time.Hour, loader)
	if err != nil || !ok || val != "v1" {
		t.Fatalf("unexpected result: %q, %v, %v", val, ok, err)
	}
	if calls.Load() != 1 {
		t.Fatalf("loader called %d times, want 1", calls.Load())
	}
}

func TestPenetrationProtection(t *testing.T) {
	p, _ := newTestCoordinator()
	ctx := context.Background()

	var calls atomic.Int32
	loader := func(ctx context.Context) (string, bool, error) {
		calls.Add(1)
		return "", false, nil
	}

	if _, ok, err := p.GetOrLoad(ctx, "ghost", time.Hour, loader); ok || err != nil {
		t.Fatalf("expected absent, got ok=%v err=%v", ok, err)
	}

	// Callers within the null-cache TTL must observe the cached absence
	// without invoking the loader again.
	const n = 16
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok, _ := p.GetOrLoad(ctx, "ghost", time.Hour, loader); ok {
				t.Error("expected absent for cached null")
			}
		}()
	}
	wg.Wait()

	if calls.Load() != 1 {
		t.Fatalf("loader called %d times within null TTL, want 1", calls.Load())
	}
}

func TestBreakdownProtectionSingleFlight(t *testing.T) {
	p, _ := newTestCoordinator()
	ctx := context.Background()

	var calls atomic.Int32
	loader := func(ctx context.Context) (string, bool, error) {
		calls.Add(1)
		time.Sleep(10 * time.Millisecond)
		return "hot", true, nil
	}

	const n = 24
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			val, ok, err := p.GetOrLoad(ctx, "hot-key", time.Hour, loader)
			if err != nil || !ok || val != "hot" {
				t.Errorf("unexpected result: %q, %v, %v", val, ok, err)
			}
		}()
	}
	wg.Wait()

	// One caller holds the lock and loads; the rest wait out the jittered
	// sleep and read the populated cache.
	if got := calls.Load(); got >= n {
		t.Fatalf("loader called %d times for %d callers, want fewer", got, n)
	}
}

func TestGetOrLoadPropagatesLoaderError(t *testing.T) {
	p, _ := newTestCoordinator()
	ctx := context.Background()

	wantErr := errors.New("source of truth down")
	loader := func(ctx context.Context) (string, bool, error) {
		return "", false, wantErr
	}

	if _, _, err := p.GetOrLoad(ctx, "k", time.Hour, loader); !errors.Is(err, wantErr) {
		t.Fatalf("expected loader error, got %v", err)
	}

	// A failed load must not poison the cache.
	var calls atomic.Int32
	okLoader := func(ctx context.Context) (string, bool, error) {
		calls.Add(1)
		return "recovered", true, nil
	}
	val, ok, err := p.GetOrLoad(ctx, "k", time.Hour, okLoader)
	if err != nil || !ok || val != "recovered" || calls.Load() != 1 {
		t.Fatalf("expected recovery via loader, got %q, %v, %v", val, ok, err)
	}
}

func TestAvalancheJitterRange(t *testing.T) {
	base := 3600 * time.Second
	for i := 0; i < 1000; i++ {
		d := jitterTTL(base)
		if d < base || d > base+base/5 {
			t.Fatalf("jittered TTL %v outside [%v, %v]", d, base, base+base/5)
		}
	}
}

func TestGetWithAsyncRefresh(t *testing.T) {
	p, store := newTestCoordinator()
	ctx := context.Background()

	// An entry close to expiry: remaining TTL is far below base/4.
	store.Set(ctx, "article:42", "stale", 200*time.Millisecond)

	var calls atomic.Int32
	loader := func(ctx context.Context) (string, bool, error) {
		calls.Add(1)
		return "fresh", true, nil
	}

	val, ok, err := p.GetWithAsyncRefresh(ctx, "article:42", time.Hour, loader)
	if err != nil || !ok || val != "stale" {
		t.Fatalf("expected the still-valid stale value, got %q, %v, %v", val, ok, err)
	}

	// The background reload stores the loader's latest result with a fresh
	// TTL.
	deadline := time.Now().Add(time.Second)
	for {
		if v, found := store.Get(ctx, "article:42"); found && v == "fresh" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("background refresh never stored the fresh value")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if remaining, known := store.RemainingTTL(ctx, "article:42"); !known || remaining < 30*time.Minute {
		t.Fatalf("expected a fresh TTL after refresh, got %v (known=%v)", remaining, known)
	}
	if calls.Load() != 1 {
		t.Fatalf("loader called %d times, want 1", calls.Load())
	}
}

func TestGetWithAsyncRefreshNoRefreshWhenFresh(t *testing.T) {
	p, store := newTestCoordinator()
	ctx := context.Background()

	store.Set(ctx, "k", "v", time.Hour)

	loader := func(ctx context.Context) (string, bool, error) {
		t.Error("loader must not run for a fresh entry")
		return "", false, nil
	}

	val, ok, err := p.GetWithAsyncRefresh(ctx, "k", time.Hour, loader)
	if err != nil || !ok || val != "v" {
		t.Fatalf("unexpected result: %q, %v, %v", val, ok, err)
	}
	time.Sleep(20 * time.Millisecond)
}
