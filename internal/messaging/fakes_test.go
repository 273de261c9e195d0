package messaging

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"blogcore/internal/model"
	"blogcore/internal/repository"
	"blogcore/pkg/logger"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

func init() {
	logger.InitLogger("test")
}

// fakeOutbox is an in-memory stand-in for the gorm repository, applying the
// same defaults the model's BeforeCreate hook would.
type fakeOutbox struct {
	mu   sync.Mutex
	msgs map[string]*model.OutboxMessage
}

func newFakeOutbox() *fakeOutbox {
	return &fakeOutbox{msgs: make(map[string]*model.OutboxMessage)}
}

func (f *fakeOutbox) Create(ctx context.Context, msg *model.OutboxMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Status == "" {
		msg.Status = model.OutboxStatusPending
	}
	if msg.MaxRetry == 0 {
		msg.MaxRetry = model.DefaultMaxRetry
	}
	now := time.Now()
	if msg.NextRetryAt == nil {
		msg.NextRetryAt = &now
	}
	msg.CreatedAt = now

	copied := *msg
	f.msgs[msg.ID] = &copied
	return nil
}

func (f *fakeOutbox) ClaimDue(ctx context.Context, limit int) ([]model.OutboxMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := time.Now()
	var due []*model.OutboxMessage
	for _, m := range f.msgs {
		if m.ShouldRetry(now) {
			due = append(due, m)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].CreatedAt.Before(due[j].CreatedAt) })
	if len(due) > limit {
		due = due[:limit]
	}

	out := make([]model.OutboxMessage, 0, len(due))
	for _, m := range due {
		m.MarkProcessing()
		out = append(out, *m)
	}
	return out, nil
}

func (f *fakeOutbox) Save(ctx context.Context, msg *model.OutboxMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *msg
	f.msgs[msg.ID] = &copied
	return nil
}

func (f *fakeOutbox) DeleteSentBefore(ctx context.Context, before time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for id, m := range f.msgs {
		if m.Status == model.OutboxStatusSent && m.SentAt != nil && m.SentAt.Before(before) {
			delete(f.msgs, id)
			n++
		}
	}
	return n, nil
}

func (f *fakeOutbox) CountPending(ctx context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, m := range f.msgs {
		switch m.Status {
		case model.OutboxStatusPending, model.OutboxStatusProcessing, model.OutboxStatusFailed:
			n++
		}
	}
	return n, nil
}

func (f *fakeOutbox) CountDeadLetter(ctx context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, m := range f.msgs {
		if m.Status == model.OutboxStatusDeadLetter {
			n++
		}
	}
	return n, nil
}

func (f *fakeOutbox) FindDeadLetters(ctx context.Context, limit int) ([]model.OutboxMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.OutboxMessage
	for _, m := range f.msgs {
		if m.Status == model.OutboxStatusDeadLetter {
			out = append(out, *m)
		}
	}
	return out, nil
}

func (f *fakeOutbox) WithTx(tx *gorm.DB) repository.OutboxInterface { return f }

func (f *fakeOutbox) get(id string) *model.OutboxMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m, ok := f.msgs[id]; ok {
		copied := *m
		return &copied
	}
	return nil
}

func (f *fakeOutbox) all() []model.OutboxMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.OutboxMessage, 0, len(f.msgs))
	for _, m := range f.msgs {
		out = append(out, *m)
	}
	return out
}

// rewind makes every scheduled retry due immediately, standing in for the
// passage of backoff time.
func (f *fakeOutbox) rewind() {
	f.mu.Lock()
	defer f.mu.Unlock()
	past := time.Now().Add(-time.Second)
	for _, m := range f.msgs {
		if m.NextRetryAt != nil {
			at := past
			m.NextRetryAt = &at
		}
	}
}

type sentRecord struct {
	topic       string
	payload     []byte
	orderingKey string
}

// fakeBroker records deliveries and fails on demand.
type fakeBroker struct {
	mu        sync.Mutex
	sent      []sentRecord
	failNext  int                 // fail this many sends before succeeding
	failTopic map[string]struct{} // always fail these topics
	pingErr   error
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{failTopic: make(map[string]struct{})}
}

func (b *fakeBroker) Send(ctx context.Context, topic string, payload []byte, orderingKey string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, bad := b.failTopic[topic]; bad {
		return errors.New("broker rejected topic")
	}
	if b.failNext > 0 {
		b.failNext--
		return errors.New("broker unavailable")
	}
	b.sent = append(b.sent, sentRecord{topic: topic, payload: payload, orderingKey: orderingKey})
	return nil
}

func (b *fakeBroker) Ping(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pingErr
}

func (b *fakeBroker) sentCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.sent)
}

func (b *fakeBroker) sentTopics() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	topics := make([]string, 0, len(b.sent))
	for _, s := range b.sent {
		topics = append(topics, s.topic)
	}
	return topics
}
