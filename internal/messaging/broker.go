package messaging

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// Broker is the transport a message is ultimately delivered to. The wire
// format past topic, payload and ordering key is the broker's own business.
type Broker interface {
	// Send delivers the payload to the given topic. orderingKey may be
	// empty; when set, the broker routes it to its ordering mechanism.
	Send(ctx context.Context, topic string, payload []byte, orderingKey string) error
	// Ping is the liveness probe used for health marking.
	Ping(ctx context.Context) error
}

// RedisStreamBroker delivers messages onto Redis Streams, one stream per
// topic. Consumers read with XREADGROUP under their consumer-group name.
type RedisStreamBroker struct {
	rdb *redis.Client
}

func NewRedisStreamBroker(rdb *redis.Client) *RedisStreamBroker {
	return &RedisStreamBroker{rdb: rdb}
}

func (b *RedisStreamBroker) Send(ctx context.Context, topic string, payload []byte, orderingKey string) error {
	values := map[string]any{"payload": payload}
	if orderingKey != "" {
		values["orderingKey"] = orderingKey
	}
	return b.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: topic,
		Values: values,
	}).Err()
}

func (b *RedisStreamBroker) Ping(ctx context.Context) error {
	return b.rdb.Ping(ctx).Err()
}
