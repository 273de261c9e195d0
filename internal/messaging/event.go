package messaging

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Event is the capability every publishable payload must implement. The
// sender reads the aggregate identity and type tag through this interface at
// compile time; there is no runtime field lookup.
type Event interface {
	AggregateID() string
	EventType() string
}

// aggregateTypeOf derives the aggregate type from the event's type tag by
// trimming the conventional "Event" suffix: "ArticleCreatedEvent" publishes
// for aggregate type "ArticleCreated".
func aggregateTypeOf(e Event) string {
	return strings.TrimSuffix(e.EventType(), "Event")
}

// BaseEvent carries the fields common to every domain event.
type BaseEvent struct {
	EventID    string    `json:"eventId"`
	OccurredOn time.Time `json:"occurredOn"`
}

func NewBaseEvent() BaseEvent {
	return BaseEvent{
		EventID:    uuid.NewString(),
		OccurredOn: time.Now(),
	}
}

// -- Article events --

type ArticleCreatedEvent struct {
	BaseEvent
	ArticleID string `json:"articleId"`
	AuthorID  string `json:"authorId"`
	Title     string `json:"title"`
}

func (e ArticleCreatedEvent) AggregateID() string { return e.ArticleID }
func (e ArticleCreatedEvent) EventType() string   { return "ArticleCreatedEvent" }

type ArticlePublishedEvent struct {
	BaseEvent
	ArticleID string `json:"articleId"`
	AuthorID  string `json:"authorId"`
}

func (e ArticlePublishedEvent) AggregateID() string { return e.ArticleID }
func (e ArticlePublishedEvent) EventType() string   { return "ArticlePublishedEvent" }

type ArticleUpdatedEvent struct {
	BaseEvent
	ArticleID string `json:"articleId"`
	Title     string `json:"title"`
}

func (e ArticleUpdatedEvent) AggregateID() string { return e.ArticleID }
func (e ArticleUpdatedEvent) EventType() string   { return "ArticleUpdatedEvent" }

type ArticleArchivedEvent struct {
	BaseEvent
	ArticleID string `json:"articleId"`
}

func (e ArticleArchivedEvent) AggregateID() string { return e.ArticleID }
func (e ArticleArchivedEvent) EventType() string   { return "ArticleArchivedEvent" }

// -- Comment events --

type CommentCreatedEvent struct {
	BaseEvent
	CommentID string `json:"commentId"`
	ArticleID string `json:"articleId"`
	AuthorID  string `json:"authorId"`
}

func (e CommentCreatedEvent) AggregateID() string { return e.CommentID }
func (e CommentCreatedEvent) EventType() string   { return "CommentCreatedEvent" }

type CommentDeletedEvent struct {
	BaseEvent
	CommentID string `json:"commentId"`
	ArticleID string `json:"articleId"`
}

func (e CommentDeletedEvent) AggregateID() string { return e.CommentID }
func (e CommentDeletedEvent) EventType() string   { return "CommentDeletedEvent" }

type CommentModeratedEvent struct {
	BaseEvent
	CommentID string `json:"commentId"`
	Status    string `json:"status"`
}

func (e CommentModeratedEvent) AggregateID() string { return e.CommentID }
func (e CommentModeratedEvent) EventType() string   { return "CommentModeratedEvent" }

// -- User events --

type UserRegisteredEvent struct {
	BaseEvent
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

func (e UserRegisteredEvent) AggregateID() string { return e.UserID }
func (e UserRegisteredEvent) EventType() string   { return "UserRegisteredEvent" }

type UserProfileUpdatedEvent struct {
	BaseEvent
	UserID string `json:"userId"`
}

func (e UserProfileUpdatedEvent) AggregateID() string { return e.UserID }
func (e UserProfileUpdatedEvent) EventType() string   { return "UserProfileUpdatedEvent" }
