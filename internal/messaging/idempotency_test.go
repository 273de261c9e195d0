package messaging

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"blogcore/internal/cache"
	"blogcore/internal/config"
)

func newTestGuard(cfg config.IdempotencyConfig) *IdempotencyGuard {
	store := cache.NewStore(nil, config.CacheConfig{LocalCapacity: 1000})
	return NewIdempotencyGuard(store, cfg)
}

func TestCheckAndMarkProcessingIsAtomic(t *testing.T) {
	g := newTestGuard(config.IdempotencyConfig{})
	ctx := context.Background()

	const n = 32
	var claimed atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if g.CheckAndMarkProcessing(ctx, "msg-1", ArticleCreatedTopic, ArticleServiceConsumerGroup) {
				claimed.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := claimed.Load(); got != 1 {
		t.Fatalf("expected exactly 1 successful claim, got %d", got)
	}
	if !g.IsProcessed(ctx, "msg-1", ArticleCreatedTopic, ArticleServiceConsumerGroup) {
		t.Fatal("claimed message must count as processed")
	}
}

func TestGuardKeysAreIndependent(t *testing.T) {
	g := newTestGuard(config.IdempotencyConfig{})
	ctx := context.Background()

	if !g.CheckAndMarkProcessing(ctx, "msg-1", ArticleCreatedTopic, ArticleServiceConsumerGroup) {
		t.Fatal("first claim failed")
	}
	// Same message id under another destination or group is a distinct
	// logical message.
	if !g.CheckAndMarkProcessing(ctx, "msg-1", CommentCreatedTopic, ArticleServiceConsumerGroup) {
		t.Fatal("different topic should claim independently")
	}
	if !g.CheckAndMarkProcessing(ctx, "msg-1", ArticleCreatedTopic, UserServiceConsumerGroup) {
		t.Fatal("different consumer group should claim independently")
	}
}

func TestGuardCompletedResult(t *testing.T) {
	g := newTestGuard(config.IdempotencyConfig{})
	ctx := context.Background()

	g.CheckAndMarkProcessing(ctx, "msg-1", ArticleCreatedTopic, ArticleServiceConsumerGroup)
	g.MarkCompleted(ctx, "msg-1", ArticleCreatedTopic, ArticleServiceConsumerGroup, "indexed")

	result, ok := g.Result(ctx, "msg-1", ArticleCreatedTopic, ArticleServiceConsumerGroup)
	if !ok || result != "indexed" {
		t.Fatalf("expected completed result, got %q, %v", result, ok)
	}
}

func TestGuardResultAbsentWhileProcessingOrFailed(t *testing.T) {
	g := newTestGuard(config.IdempotencyConfig{})
	ctx := context.Background()

	g.CheckAndMarkProcessing(ctx, "msg-1", ArticleCreatedTopic, ArticleServiceConsumerGroup)
	if _, ok := g.Result(ctx, "msg-1", ArticleCreatedTopic, ArticleServiceConsumerGroup); ok {
		t.Fatal("in-flight message has no result")
	}

	g.MarkFailed(ctx, "msg-1", ArticleCreatedTopic, ArticleServiceConsumerGroup, "boom")
	if _, ok := g.Result(ctx, "msg-1", ArticleCreatedTopic, ArticleServiceConsumerGroup); ok {
		t.Fatal("failed message has no result")
	}
}

func TestGuardFailedRecordExpiresSooner(t *testing.T) {
	g := newTestGuard(config.IdempotencyConfig{
		CompletedTTL: time.Hour,
		FailedTTL:    10 * time.Millisecond,
	})
	ctx := context.Background()

	g.CheckAndMarkProcessing(ctx, "msg-1", ArticleCreatedTopic, ArticleServiceConsumerGroup)
	g.MarkFailed(ctx, "msg-1", ArticleCreatedTopic, ArticleServiceConsumerGroup, "boom")

	time.Sleep(20 * time.Millisecond)

	// The failed record is gone, so the message is eligible for retry.
	if g.IsProcessed(ctx, "msg-1", ArticleCreatedTopic, ArticleServiceConsumerGroup) {
		t.Fatal("failed record should have expired")
	}
	if !g.CheckAndMarkProcessing(ctx, "msg-1", ArticleCreatedTopic, ArticleServiceConsumerGroup) {
		t.Fatal("retry claim should succeed after the failed record expired")
	}
}

func TestGuardRemove(t *testing.T) {
	g := newTestGuard(config.IdempotencyConfig{})
	ctx := context.Background()

	g.CheckAndMarkProcessing(ctx, "msg-1", ArticleCreatedTopic, ArticleServiceConsumerGroup)
	g.Remove(ctx, "msg-1", ArticleCreatedTopic, ArticleServiceConsumerGroup)

	if g.IsProcessed(ctx, "msg-1", ArticleCreatedTopic, ArticleServiceConsumerGroup) {
		t.Fatal("removed record should be gone")
	}
}
