// Package queue implements the simple work queue the gateway pushes onto
// and the pipeline engine's boundary (and the watchdog) pop/peek against
// (§6 "Work queue").
package queue

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"
)

// WorkQueue is a FIFO list of opaque payloads, with an existence check so
// the watchdog can avoid requeuing a payload already pending (§4.7 step 4
// "Check the work queue for an identical payload (LPOS)").
type WorkQueue interface {
	Push(ctx context.Context, payload []byte) error
	BlockingPop(ctx context.Context) ([]byte, error)
	Has(ctx context.Context, payload []byte) (bool, error)
}

// RedisQueue backs WorkQueue with a single Redis list via LPUSH/BRPOP/LPOS.
type RedisQueue struct {
	Client *redis.Client
	Name   string
}

func (q *RedisQueue) Push(ctx context.Context, payload []byte) error {
	if err := q.Client.LPush(ctx, q.Name, payload).Err(); err != nil {
		return fmt.Errorf("queue: lpush %s: %w", q.Name, err)
	}
	return nil
}

// BlockingPop blocks until a payload is available or ctx is cancelled.
func (q *RedisQueue) BlockingPop(ctx context.Context) ([]byte, error) {
	res, err := q.Client.BRPop(ctx, 0, q.Name).Result()
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, fmt.Errorf("queue: brpop %s: %w", q.Name, err)
	}
	// BRPop returns [key, value].
	if len(res) < 2 {
		return nil, fmt.Errorf("queue: brpop %s: unexpected reply shape", q.Name)
	}
	return []byte(res[1]), nil
}

// Has reports whether payload is already present anywhere in the queue.
func (q *RedisQueue) Has(ctx context.Context, payload []byte) (bool, error) {
	idx, err := q.Client.LPos(ctx, q.Name, string(payload), redis.LPosArgs{}).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("queue: lpos %s: %w", q.Name, err)
	}
	return idx >= 0, nil
}
