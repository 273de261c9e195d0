package messaging

import (
	"context"

	"blogcore/pkg/logger"

	"go.uber.org/zap"
)

// Handler processes one message payload and returns its result, or an error
// when handling failed.
type Handler func(ctx context.Context, payload []byte) (string, error)

// ConsumerGuard runs a handler under the idempotency and retry discipline of
// the consuming side: a message is handled at most once per consumer group,
// failed handling is retried up to the coordinator's budget, and exhausted
// messages are routed to the dead-letter destination. The consumer runtime
// owns polling and delay scheduling; this type only makes the decisions.
type ConsumerGuard struct {
	guard  *IdempotencyGuard
	retry  *RetryCoordinator
	broker Broker
	group  string
}

func NewConsumerGuard(guard *IdempotencyGuard, retry *RetryCoordinator, broker Broker, consumerGroup string) *ConsumerGuard {
	return &ConsumerGuard{
		guard:  guard,
		retry:  retry,
		broker: broker,
		group:  consumerGroup,
	}
}

// Handle processes one delivery. It returns true when the runtime should
// redeliver the message later (with the coordinator's delay), false when the
// message is finished, whether handled, deduplicated or dead-lettered.
func (c *ConsumerGuard) Handle(ctx context.Context, topic, messageID string, payload []byte, attemptCount int, handler Handler) bool {
	if !c.guard.CheckAndMarkProcessing(ctx, messageID, topic, c.group) {
		return false
	}

	result, err := handler(ctx, payload)
	if err == nil {
		c.guard.MarkCompleted(ctx, messageID, topic, c.group, result)
		return false
	}

	c.guard.MarkFailed(ctx, messageID, topic, c.group, err.Error())

	if c.retry.HandleRetry(topic, messageID, attemptCount) {
		return true
	}

	c.deadLetter(ctx, topic, messageID, payload)
	return false
}

func (c *ConsumerGuard) deadLetter(ctx context.Context, topic, messageID string, payload []byte) {
	if c.broker == nil {
		logger.Error("no broker configured, dead letter dropped",
			zap.String("topic", topic), zap.String("message_id", messageID))
		return
	}
	dlq := c.retry.DeadLetterDestination(topic)
	if err := c.broker.Send(ctx, dlq, payload, messageID); err != nil {
		logger.Error("failed to publish dead letter",
			zap.String("dlq", dlq), zap.String("message_id", messageID), zap.Error(err))
		return
	}
	logger.Info("message routed to dead letter",
		zap.String("dlq", dlq), zap.String("message_id", messageID))
}
