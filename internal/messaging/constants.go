package messaging

import "time"

// Topic names shared by the producing and consuming services.
const (
	UserRegisteredTopic     = "USER_REGISTERED"
	UserProfileUpdatedTopic = "USER_PROFILE_UPDATED"

	ArticleCreatedTopic   = "ARTICLE_CREATED"
	ArticlePublishedTopic = "ARTICLE_PUBLISHED"
	ArticleUpdatedTopic   = "ARTICLE_UPDATED"
	ArticleArchivedTopic  = "ARTICLE_ARCHIVED"

	CommentCreatedTopic   = "COMMENT_CREATED"
	CommentDeletedTopic   = "COMMENT_DELETED"
	CommentModeratedTopic = "COMMENT_MODERATED"
)

// Suffixes appended to a topic for its retry and dead-letter destinations.
const (
	DeadLetterSuffix = "_DLQ"
	RetrySuffix      = "_RETRY"
)

// Consumer groups registered by each service.
const (
	UserServiceConsumerGroup    = "user-service-consumer"
	ArticleServiceConsumerGroup = "article-service-consumer"
	CommentServiceConsumerGroup = "comment-service-consumer"
)

// MaxConsumeRetries is how many times a failed handler is retried before the
// message is routed to its dead-letter destination.
const MaxConsumeRetries = 3

// Consume-retry delays as a step function of the attempt count.
var retryDelays = []time.Duration{
	1 * time.Second,  // attempt 1
	5 * time.Second,  // attempt 2
	10 * time.Second, // attempt 3
	30 * time.Second, // attempt 4 and beyond
}
