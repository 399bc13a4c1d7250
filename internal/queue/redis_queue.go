package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/osvaldoandrade/panoq/internal/providers"
)

// Names identifies the two Redis lists a worker talks to.
type Names struct {
	Task   string
	Result string
}

// Depth is a point-in-time LLEN of both lists.
type Depth struct {
	Task   int64 `json:"task" yaml:"task"`
	Result int64 `json:"result" yaml:"result"`
}

// RedisQueue moves raw payloads on Redis lists. Producers LPUSH and
// consumers BRPOP, so each list behaves as a FIFO.
type RedisQueue struct {
	rdb   *redis.Client
	names Names
	owned bool
}

func New(rdb *redis.Client, names Names) *RedisQueue {
	return &RedisQueue{rdb: rdb, names: names}
}

// Dial opens a dedicated client for redisURL. Close releases it.
func Dial(redisURL string, names Names) (*RedisQueue, error) {
	rdb, err := providers.NewRedisProvider(redisURL)
	if err != nil {
		return nil, err
	}
	return &RedisQueue{rdb: rdb, names: names, owned: true}, nil
}

func (q *RedisQueue) Names() Names { return q.names }

// PopTask blocks for up to wait. A nil payload with a nil error means the
// wait elapsed with nothing to consume.
func (q *RedisQueue) PopTask(ctx context.Context, wait time.Duration) ([]byte, error) {
	return q.pop(ctx, q.names.Task, wait)
}

func (q *RedisQueue) PopResult(ctx context.Context, wait time.Duration) ([]byte, error) {
	return q.pop(ctx, q.names.Result, wait)
}

func (q *RedisQueue) PushTask(ctx context.Context, payload []byte) error {
	return q.push(ctx, q.names.Task, payload)
}

func (q *RedisQueue) PushResult(ctx context.Context, payload []byte) error {
	return q.push(ctx, q.names.Result, payload)
}

func (q *RedisQueue) Depth(ctx context.Context) (Depth, error) {
	pipe := q.rdb.Pipeline()
	task := pipe.LLen(ctx, q.names.Task)
	result := pipe.LLen(ctx, q.names.Result)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return Depth{}, fmt.Errorf("redis LLEN: %w", err)
	}
	return Depth{Task: task.Val(), Result: result.Val()}, nil
}

func (q *RedisQueue) Ping(ctx context.Context) error {
	if err := q.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis PING: %w", err)
	}
	return nil
}

// Close releases the client only when Dial created it.
func (q *RedisQueue) Close() error {
	if !q.owned {
		return nil
	}
	return q.rdb.Close()
}

func (q *RedisQueue) pop(ctx context.Context, key string, wait time.Duration) ([]byte, error) {
	if wait < time.Second {
		// BRPOP takes whole seconds and 0 would block forever.
		wait = time.Second
	}
	res, err := q.rdb.BRPop(ctx, wait, key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis BRPOP %s: %w", key, err)
	}
	if len(res) < 2 {
		return nil, nil
	}
	return []byte(res[1]), nil
}

func (q *RedisQueue) push(ctx context.Context, key string, payload []byte) error {
	if err := q.rdb.LPush(ctx, key, payload).Err(); err != nil {
		return fmt.Errorf("redis LPUSH %s: %w", key, err)
	}
	return nil
}
