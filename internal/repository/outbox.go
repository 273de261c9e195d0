package repository

import (
	"context"
	"time"

	"blogcore/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type OutboxInterface interface {
	Create(ctx context.Context, msg *model.OutboxMessage) error
	ClaimDue(ctx context.Context, limit int) ([]model.OutboxMessage, error)
	Save(ctx context.Context, msg *model.OutboxMessage) error
	DeleteSentBefore(ctx context.Context, before time.Time) (int64, error)
	CountPending(ctx context.Context) (int64, error)
	CountDeadLetter(ctx context.Context) (int64, error)
	FindDeadLetters(ctx context.Context, limit int) ([]model.OutboxMessage, error)
	WithTx(tx *gorm.DB) OutboxInterface
}

type OutboxRepository struct {
	db *gorm.DB
}

func NewOutboxRepository(db *gorm.DB) *OutboxRepository {
	return &OutboxRepository{db: db}
}

func (r *OutboxRepository) Create(ctx context.Context, msg *model.OutboxMessage) error {
	return r.db.WithContext(ctx).Create(msg).Error
}

// ClaimDue selects a batch of records eligible for (re)send, oldest first,
// and marks them PROCESSING inside one transaction. The row lock is taken
// with SKIP LOCKED so dispatchers on other instances claim disjoint batches
// instead of double-sending the same record.
func (r *OutboxRepository) ClaimDue(ctx context.Context, limit int) ([]model.OutboxMessage, error) {
	var msgs []model.OutboxMessage
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now()
		if err := tx.
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("status IN ?", []string{model.OutboxStatusPending, model.OutboxStatusFailed}).
			Where("retry_count < max_retry").
			Where("next_retry_at IS NULL OR next_retry_at <= ?", now).
			Order("created_at ASC").
			Limit(limit).
			Find(&msgs).Error; err != nil {
			return err
		}
		if len(msgs) == 0 {
			return nil
		}

		ids := make([]string, 0, len(msgs))
		for i := range msgs {
			ids = append(ids, msgs[i].ID)
		}
		if err := tx.Model(&model.OutboxMessage{}).
			Where("id IN ?", ids).
			Update("status", model.OutboxStatusProcessing).Error; err != nil {
			return err
		}
		for i := range msgs {
			msgs[i].MarkProcessing()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return msgs, nil
}

func (r *OutboxRepository) Save(ctx context.Context, msg *model.OutboxMessage) error {
	return r.db.WithContext(ctx).Save(msg).Error
}

func (r *OutboxRepository) DeleteSentBefore(ctx context.Context, before time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("status = ? AND sent_at < ?", model.OutboxStatusSent, before).
		Delete(&model.OutboxMessage{})
	return res.RowsAffected, res.Error
}

func (r *OutboxRepository) CountPending(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&model.OutboxMessage{}).
		Where("status IN ?", []string{model.OutboxStatusPending, model.OutboxStatusProcessing, model.OutboxStatusFailed}).
		Count(&n).Error
	return n, err
}

func (r *OutboxRepository) CountDeadLetter(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&model.OutboxMessage{}).
		Where("status = ?", model.OutboxStatusDeadLetter).
		Count(&n).Error
	return n, err
}

func (r *OutboxRepository) FindDeadLetters(ctx context.Context, limit int) ([]model.OutboxMessage, error) {
	var msgs []model.OutboxMessage
	err := r.db.WithContext(ctx).
		Where("status = ?", model.OutboxStatusDeadLetter).
		Order("created_at DESC").
		Limit(limit).
		Find(&msgs).Error
	return msgs, err
}

func (r *OutboxRepository) WithTx(tx *gorm.DB) OutboxInterface {
	return &OutboxRepository{db: tx}
}
