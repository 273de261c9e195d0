package messaging

import (
	"time"

	"blogcore/pkg/logger"

	"go.uber.org/zap"
)

// RetryCoordinator decides whether a failed consume should be retried, with
// what delay, and where exhausted messages are routed. It is advisory only:
// the consumer runtime owns the actual timers.
type RetryCoordinator struct {
	maxRetries int
}

func NewRetryCoordinator(maxRetries int) *RetryCoordinator {
	if maxRetries <= 0 {
		maxRetries = MaxConsumeRetries
	}
	return &RetryCoordinator{maxRetries: maxRetries}
}

// HandleRetry reports whether the message should be retried after a failed
// handling attempt. Once the attempt count reaches the maximum it returns
// false and the message belongs on the dead-letter destination.
func (r *RetryCoordinator) HandleRetry(topic, messageID string, attemptCount int) bool {
	logger.Warn("message handling failed",
		zap.String("topic", topic),
		zap.String("message_id", messageID),
		zap.Int("attempts", attemptCount))

	if attemptCount >= r.maxRetries {
		logger.Error("message exhausted retry budget, routing to dead letter",
			zap.String("topic", topic),
			zap.String("message_id", messageID),
			zap.String("dlq", r.DeadLetterDestination(topic)))
		return false
	}

	logger.Info("scheduling message retry",
		zap.String("topic", topic),
		zap.String("message_id", messageID),
		zap.Duration("delay", r.Delay(attemptCount)))
	return true
}

// Delay returns the backoff before the next attempt, a step function of the
// attempt count.
func (r *RetryCoordinator) Delay(attemptCount int) time.Duration {
	if attemptCount < 1 {
		attemptCount = 1
	}
	if attemptCount > len(retryDelays) {
		attemptCount = len(retryDelays)
	}
	return retryDelays[attemptCount-1]
}

func (r *RetryCoordinator) RetryDestination(topic string) string {
	return topic + RetrySuffix
}

func (r *RetryCoordinator) DeadLetterDestination(topic string) string {
	return topic + DeadLetterSuffix
}
