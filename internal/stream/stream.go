// Package stream implements the Event Stream Processor (§4.6): a
// partitioned, offset-committed log with a target topic and a DLQ topic,
// dedup-gated processing, and retry-then-exhaust DLQ handling. The backing
// log is Redis Streams.
package stream

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	// TopicTarget carries events awaiting their first side-effect attempt.
	TopicTarget = "target"
	// TopicDLQ carries events that failed on the target topic, for retry.
	TopicDLQ = "dlq"
)

// Record is one decoded entry read off a topic, keyed by entity_id so
// same-entity records land on the same partition (§4.6 "Producer").
type Record struct {
	ID    string // log-assigned offset identifier, used to ack/commit.
	Key   string // event.entity_id
	Value []byte // serialized EventEntity
}

// ErrNoRecord is returned by Consumer.Next when the poll interval elapsed
// with nothing to read.
var ErrNoRecord = errors.New("stream: no record available")

// Producer publishes serialized events keyed by entity_id (§4.6 "Producer").
type Producer interface {
	Publish(ctx context.Context, topic string, key string, value []byte) error
}

// Consumer reads one topic under a consumer group with manual commit
// (§4.6 "Consumer loop" steps 1-3).
type Consumer interface {
	// Next blocks up to the consumer's configured poll interval for the
	// next record. ErrNoRecord means the interval elapsed with nothing
	// new — callers should loop back to their ticker select.
	Next(ctx context.Context) (Record, error)
	// Ack marks rec as processed so it is not redelivered.
	Ack(ctx context.Context, rec Record) error
}

// RedisProducer batches nothing internally — Redis Streams' XADD is
// already a single round trip — but callers may wrap it with their own
// batching/gzip layer per §4.6 "Producer (batched ... gzip)".
type RedisProducer struct {
	Client *redis.Client
}

func (p *RedisProducer) Publish(ctx context.Context, topic, key string, value []byte) error {
	_, err := p.Client.XAdd(ctx, &redis.XAddArgs{
		Stream: topic,
		Values: map[string]interface{}{
			"key":   key,
			"value": value,
		},
	}).Result()
	if err != nil {
		return fmt.Errorf("stream: publish to %s: %w", topic, err)
	}
	return nil
}

// RedisConsumer reads one topic via a consumer group, using XREADGROUP's
// ">" cursor for new messages and explicit XACK as the manual commit
// (§4.6 "Consumer loop" step 1: "manual commit strategy").
type RedisConsumer struct {
	Client       *redis.Client
	Topic        string
	Group        string
	Consumer     string
	BlockTimeout time.Duration
}

// EnsureGroup creates the consumer group at the given start offset
// ("$" for only-new, "0" for from-beginning) if it does not already
// exist (§4.6 "at configurable absolute offset or beginning").
func (c *RedisConsumer) EnsureGroup(ctx context.Context, start string) error {
	err := c.Client.XGroupCreateMkStream(ctx, c.Topic, c.Group, start).Err()
	if err != nil && !isBusyGroupErr(err) {
		return fmt.Errorf("stream: create group %s/%s: %w", c.Topic, c.Group, err)
	}
	return nil
}

func isBusyGroupErr(err error) bool {
	return err != nil && err.Error() == "BUSYGROUP Consumer Group name already exists"
}

func (c *RedisConsumer) Next(ctx context.Context) (Record, error) {
	res, err := c.Client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.Group,
		Consumer: c.Consumer,
		Streams:  []string{c.Topic, ">"},
		Count:    1,
		Block:    c.BlockTimeout,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return Record{}, ErrNoRecord
	}
	if err != nil {
		return Record{}, fmt.Errorf("stream: read %s: %w", c.Topic, err)
	}
	if len(res) == 0 || len(res[0].Messages) == 0 {
		return Record{}, ErrNoRecord
	}

	msg := res[0].Messages[0]
	key, _ := msg.Values["key"].(string)
	var value []byte
	switch v := msg.Values["value"].(type) {
	case string:
		value = []byte(v)
	case []byte:
		value = v
	}
	return Record{ID: msg.ID, Key: key, Value: value}, nil
}

func (c *RedisConsumer) Ack(ctx context.Context, rec Record) error {
	if err := c.Client.XAck(ctx, c.Topic, c.Group, rec.ID).Err(); err != nil {
		return fmt.Errorf("stream: ack %s/%s: %w", c.Topic, rec.ID, err)
	}
	return nil
}

// DLQGroup derives the DLQ consumer group name from a target group name
// (§4.6 step 1: "dlq consumer uses <group>-dlq").
func DLQGroup(group string) string {
	return group + "-dlq"
}
