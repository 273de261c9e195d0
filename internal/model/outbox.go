package model

import (
	"math"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Outbox message statuses. SENT and DEAD_LETTER are terminal.
const (
	OutboxStatusPending    = "PENDING"
	OutboxStatusProcessing = "PROCESSING"
	OutboxStatusSent       = "SENT"
	OutboxStatusFailed     = "FAILED"
	OutboxStatusDeadLetter = "DEAD_LETTER"
)

// DefaultMaxRetry is how many delivery attempts a record gets before it is
// routed to the dead-letter state.
const DefaultMaxRetry = 5

// OutboxMessage is the durable record of an event awaiting delivery. It is
// written in the same transaction as the business state change that produced
// it and later drained by the dispatcher.
type OutboxMessage struct {
	ID            string `gorm:"primaryKey;size:36"`
	AggregateType string `gorm:"size:100;not null"`
	AggregateID   string `gorm:"size:100;not null;index"`
	EventType     string `gorm:"size:100;not null"`
	Payload       string `gorm:"type:text;not null"`
	TargetTopic   string `gorm:"size:100;not null"`
	OrderingKey   string `gorm:"size:100"`
	Status        string `gorm:"size:20;not null;index:idx_outbox_status_retry,priority:1"`
	RetryCount    int    `gorm:"not null;default:0"`
	MaxRetry      int    `gorm:"not null;default:5"`
	NextRetryAt   *time.Time `gorm:"index:idx_outbox_status_retry,priority:2"`
	LastError     string     `gorm:"type:text"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
	SentAt        *time.Time
}

func (OutboxMessage) TableName() string { return "outbox_messages" }

func (m *OutboxMessage) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.Status == "" {
		m.Status = OutboxStatusPending
	}
	if m.MaxRetry == 0 {
		m.MaxRetry = DefaultMaxRetry
	}
	if m.NextRetryAt == nil {
		now := time.Now()
		m.NextRetryAt = &now
	}
	return nil
}

func (m *OutboxMessage) MarkProcessing() {
	m.Status = OutboxStatusProcessing
}

func (m *OutboxMessage) MarkSent() {
	now := time.Now()
	m.Status = OutboxStatusSent
	m.SentAt = &now
}

// MarkFailed records the error and schedules the next attempt with
// exponential backoff, or routes the record to the dead-letter state once
// the retry budget is exhausted.
func (m *OutboxMessage) MarkFailed(errMsg string) {
	m.RetryCount++
	m.LastError = errMsg

	if m.RetryCount >= m.MaxRetry {
		m.Status = OutboxStatusDeadLetter
		m.NextRetryAt = nil
		return
	}

	m.Status = OutboxStatusFailed
	next := time.Now().Add(time.Duration(math.Pow(2, float64(m.RetryCount))) * time.Minute)
	m.NextRetryAt = &next
}

// ShouldRetry reports whether the record is eligible for a (re)send attempt.
func (m *OutboxMessage) ShouldRetry(now time.Time) bool {
	if m.Status == OutboxStatusPending {
		return true
	}
	return m.Status == OutboxStatusFailed &&
		m.RetryCount < m.MaxRetry &&
		m.NextRetryAt != nil && m.NextRetryAt.Before(now)
}
