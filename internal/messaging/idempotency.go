package messaging

import (
	"context"
	"strings"
	"time"

	"blogcore/internal/cache"
	"blogcore/internal/config"
	"blogcore/internal/metrics"
	"blogcore/pkg/logger"

	"go.uber.org/zap"
)

// IdempotencyKeyPrefix namespaces dedup records apart from cached values.
const IdempotencyKeyPrefix = "idempotency:"

// Record states. COMPLETED and FAILED carry the handler outcome after the
// colon.
const (
	stateProcessing = "PROCESSING"
	stateCompleted  = "COMPLETED:"
	stateFailed     = "FAILED:"
)

// IdempotencyGuard deduplicates message handling under at-least-once
// delivery. It is keyed by (message id, destination, consumer group) and
// backed by the two-tier store: while the networked tier is down, dedup
// degrades to process-local and otherwise fails open, preferring
// availability over perfect deduplication.
type IdempotencyGuard struct {
	store        *cache.Store
	completedTTL time.Duration
	failedTTL    time.Duration
}

func NewIdempotencyGuard(store *cache.Store, cfg config.IdempotencyConfig) *IdempotencyGuard {
	completedTTL := cfg.CompletedTTL
	if completedTTL <= 0 {
		completedTTL = 24 * time.Hour
	}
	failedTTL := cfg.FailedTTL
	if failedTTL <= 0 {
		failedTTL = time.Hour
	}
	return &IdempotencyGuard{
		store:        store.WithPrefix(IdempotencyKeyPrefix),
		completedTTL: completedTTL,
		failedTTL:    failedTTL,
	}
}

func idempotencyKey(messageID, topic, consumerGroup string) string {
	return topic + ":" + consumerGroup + ":" + messageID
}

// CheckAndMarkProcessing atomically claims the message for handling. It
// returns true only when no record existed, so two concurrent deliveries of
// the same message cannot both proceed.
func (g *IdempotencyGuard) CheckAndMarkProcessing(ctx context.Context, messageID, topic, consumerGroup string) bool {
	key := idempotencyKey(messageID, topic, consumerGroup)
	ok := g.store.SetIfAbsent(ctx, key, stateProcessing, g.completedTTL)
	if !ok {
		metrics.RecordDuplicateMessage()
		logger.Info("message already processed or in flight",
			zap.String("message_id", messageID),
			zap.String("topic", topic),
			zap.String("consumer_group", consumerGroup))
	}
	return ok
}

// IsProcessed reports whether any record exists for the message.
func (g *IdempotencyGuard) IsProcessed(ctx context.Context, messageID, topic, consumerGroup string) bool {
	return g.store.Exists(ctx, idempotencyKey(messageID, topic, consumerGroup))
}

// MarkCompleted records a successful handling outcome. Completed records
// live long enough to absorb broker-level redelivery.
func (g *IdempotencyGuard) MarkCompleted(ctx context.Context, messageID, topic, consumerGroup, result string) {
	key := idempotencyKey(messageID, topic, consumerGroup)
	g.store.Set(ctx, key, stateCompleted+result, g.completedTTL)
}

// MarkFailed records a failed handling outcome. Failed records expire
// sooner, so the message becomes eligible for retry.
func (g *IdempotencyGuard) MarkFailed(ctx context.Context, messageID, topic, consumerGroup, errMsg string) {
	key := idempotencyKey(messageID, topic, consumerGroup)
	g.store.Set(ctx, key, stateFailed+errMsg, g.failedTTL)
}

// Result returns the recorded handler outcome for a completed message, or
// false when none exists.
func (g *IdempotencyGuard) Result(ctx context.Context, messageID, topic, consumerGroup string) (string, bool) {
	val, ok := g.store.Get(ctx, idempotencyKey(messageID, topic, consumerGroup))
	if !ok {
		return "", false
	}
	if rest, found := strings.CutPrefix(val, stateCompleted); found {
		return rest, true
	}
	return "", false
}

// Remove drops the dedup record, for operational cleanup and tests.
func (g *IdempotencyGuard) Remove(ctx context.Context, messageID, topic, consumerGroup string) {
	g.store.Delete(ctx, idempotencyKey(messageID, topic, consumerGroup))
}
