package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"blogcore/internal/config"
	"blogcore/internal/model"
	"blogcore/internal/repository"
	"blogcore/pkg/logger"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Sender publishes events with a durability guarantee: when the broker is
// healthy the event goes out directly, otherwise it is persisted as an
// outbox record in the caller's transaction and drained later by the
// dispatcher. Callers see success as soon as durability is guaranteed, not
// as soon as the broker acknowledges; delivery is at-least-once and
// consumers compensate through the idempotency guard.
type Sender struct {
	outbox        repository.OutboxInterface
	broker        Broker
	brokerEnabled bool
	brokerUp      *atomic.Bool
	maxRetry      int
}

// NewSender wires the sender. broker may be nil: whether direct delivery is
// possible is resolved here, once, and every call site branches on the
// explicit flag.
func NewSender(outbox repository.OutboxInterface, broker Broker, cfg config.OutboxConfig) *Sender {
	maxRetry := cfg.MaxRetry
	if maxRetry <= 0 {
		maxRetry = model.DefaultMaxRetry
	}
	return &Sender{
		outbox:        outbox,
		broker:        broker,
		brokerEnabled: broker != nil,
		brokerUp:      &atomic.Bool{},
		maxRetry:      maxRetry,
	}
}

// WithTx returns a sender whose outbox writes join the given transaction, so
// the event record commits or rolls back with the business state change.
func (s *Sender) WithTx(tx *gorm.DB) *Sender {
	copied := *s
	copied.outbox = s.outbox.WithTx(tx)
	return &copied
}

func (s *Sender) Send(ctx context.Context, topic string, event Event) error {
	return s.SendWithKey(ctx, topic, event, "")
}

// SendWithKey publishes the event with an ordering key. Serialization
// failure is a programming error and is returned immediately; broker
// unavailability is absorbed by falling back to the outbox.
func (s *Sender) SendWithKey(ctx context.Context, topic string, event Event, orderingKey string) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", event.EventType(), err)
	}

	if s.BrokerAvailable() {
		if err := s.broker.Send(ctx, topic, payload, orderingKey); err == nil {
			logger.Info("message sent directly",
				zap.String("topic", topic),
				zap.String("event_type", event.EventType()))
			return nil
		} else {
			s.brokerUp.Store(false)
			logger.Warn("direct send failed, falling back to outbox",
				zap.String("topic", topic), zap.Error(err))
		}
	}

	msg := &model.OutboxMessage{
		AggregateType: aggregateTypeOf(event),
		AggregateID:   event.AggregateID(),
		EventType:     event.EventType(),
		Payload:       string(payload),
		TargetTopic:   topic,
		OrderingKey:   orderingKey,
		Status:        model.OutboxStatusPending,
		MaxRetry:      s.maxRetry,
	}
	if err := s.outbox.Create(ctx, msg); err != nil {
		return fmt.Errorf("persist outbox record: %w", err)
	}

	logger.Info("message saved to outbox",
		zap.String("topic", topic),
		zap.String("event_type", event.EventType()),
		zap.String("outbox_id", msg.ID))
	return nil
}

// BrokerAvailable reports whether direct delivery is currently possible.
func (s *Sender) BrokerAvailable() bool {
	return s.brokerEnabled && s.brokerUp.Load()
}

// probeBroker refreshes the availability flag from the broker's liveness
// probe. Called by the dispatcher on its schedule.
func (s *Sender) probeBroker(ctx context.Context) {
	if !s.brokerEnabled {
		return
	}
	err := s.broker.Ping(ctx)
	was := s.brokerUp.Swap(err == nil)
	if err != nil && was {
		logger.Warn("broker marked unavailable", zap.Error(err))
	}
	if err == nil && !was {
		logger.Info("broker marked available")
	}
}

func (s *Sender) sendDirect(ctx context.Context, msg *model.OutboxMessage) error {
	return s.broker.Send(ctx, msg.TargetTopic, []byte(msg.Payload), msg.OrderingKey)
}
