package messaging

import (
	"context"
	"time"

	"blogcore/internal/config"
	"blogcore/internal/metrics"
	"blogcore/internal/model"
	"blogcore/internal/repository"
	"blogcore/pkg/logger"

	"go.uber.org/zap"
)

// Dispatcher drains the outbox while the broker is healthy. Each record's
// outcome is committed independently, so one failing record never aborts
// the rest of the batch.
type Dispatcher struct {
	sender    *Sender
	outbox    repository.OutboxInterface
	interval  time.Duration
	batchSize int

	cleanupInterval time.Duration
	retention       time.Duration
}

func NewDispatcher(sender *Sender, outbox repository.OutboxInterface, cfg config.OutboxConfig) *Dispatcher {
	interval := cfg.DispatchInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 10
	}
	cleanupInterval := cfg.CleanupInterval
	if cleanupInterval <= 0 {
		cleanupInterval = time.Minute
	}
	retention := cfg.Retention
	if retention <= 0 {
		retention = 7 * 24 * time.Hour
	}
	return &Dispatcher{
		sender:          sender,
		outbox:          outbox,
		interval:        interval,
		batchSize:       batchSize,
		cleanupInterval: cleanupInterval,
		retention:       retention,
	}
}

func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	logger.Info("outbox dispatcher started", zap.Duration("interval", d.interval))

	for {
		select {
		case <-ctx.Done():
			logger.Info("outbox dispatcher stopped")
			return
		case <-ticker.C:
			d.dispatchBatch(ctx)
		}
	}
}

func (d *Dispatcher) dispatchBatch(ctx context.Context) {
	d.sender.probeBroker(ctx)

	if n, err := d.outbox.CountPending(ctx); err == nil {
		metrics.SetOutboxPending(float64(n))
	}

	if !d.sender.BrokerAvailable() {
		return
	}

	msgs, err := d.outbox.ClaimDue(ctx, d.batchSize)
	if err != nil {
		logger.Error("failed to claim outbox batch", zap.Error(err))
		return
	}
	if len(msgs) == 0 {
		return
	}

	logger.Info("dispatching outbox batch", zap.Int("count", len(msgs)))

	for i := range msgs {
		d.dispatchOne(ctx, &msgs[i])
	}
}

func (d *Dispatcher) dispatchOne(ctx context.Context, msg *model.OutboxMessage) {
	if err := d.sender.sendDirect(ctx, msg); err != nil {
		msg.MarkFailed(err.Error())
		if msg.Status == model.OutboxStatusDeadLetter {
			metrics.RecordOutboxDeadLetter()
			logger.Error("outbox message dead-lettered",
				zap.String("id", msg.ID),
				zap.String("topic", msg.TargetTopic),
				zap.Int("retries", msg.RetryCount))
		} else {
			logger.Warn("outbox send failed, retry scheduled",
				zap.String("id", msg.ID),
				zap.Int("retry_count", msg.RetryCount),
				zap.Timep("next_retry_at", msg.NextRetryAt))
		}
		if err := d.outbox.Save(ctx, msg); err != nil {
			logger.Error("failed to record outbox failure", zap.String("id", msg.ID), zap.Error(err))
		}
		return
	}

	msg.MarkSent()
	if err := d.outbox.Save(ctx, msg); err != nil {
		logger.Error("failed to mark outbox message sent", zap.String("id", msg.ID), zap.Error(err))
		return
	}
	metrics.RecordOutboxSent()
	logger.Info("outbox message sent", zap.String("id", msg.ID), zap.String("topic", msg.TargetTopic))
}

// RunCleanup purges SENT records past the retention window on a slower
// schedule than dispatch.
func (d *Dispatcher) RunCleanup(ctx context.Context) {
	ticker := time.NewTicker(d.cleanupInterval)
	defer ticker.Stop()
	logger.Info("outbox cleanup started", zap.Duration("interval", d.cleanupInterval))

	for {
		select {
		case <-ctx.Done():
			logger.Info("outbox cleanup stopped")
			return
		case <-ticker.C:
			d.cleanup(ctx)
		}
	}
}

func (d *Dispatcher) cleanup(ctx context.Context) {
	before := time.Now().Add(-d.retention)
	deleted, err := d.outbox.DeleteSentBefore(ctx, before)
	if err != nil {
		logger.Error("outbox cleanup failed", zap.Error(err))
		return
	}
	if deleted > 0 {
		logger.Info("cleaned up sent outbox messages", zap.Int64("deleted", deleted))
	}
}
