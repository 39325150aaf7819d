package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	DefaultPrefix = "queues:"
	DefaultQueue  = "default"
)

// Envelope is the JSON document pushed for each job.
type Envelope struct {
	ID         string    `json:"id"`
	Job        string    `json:"job"`
	Queue      string    `json:"queue"`
	Args       []any     `json:"args"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// RedisQueue pushes jobs onto Redis lists for an external worker pool.
// Workers pop from the right of "<prefix><queue>".
type RedisQueue struct {
	client       redis.UniversalClient
	prefix       string
	defaultQueue string
	now          func() time.Time
}

func NewRedisQueue(client redis.UniversalClient, prefix, defaultQueue string) *RedisQueue {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if defaultQueue == "" {
		defaultQueue = DefaultQueue
	}
	return &RedisQueue{
		client:       client,
		prefix:       prefix,
		defaultQueue: defaultQueue,
		now:          time.Now,
	}
}

// Enqueue returns the envelope id as the job handle.
func (q *RedisQueue) Enqueue(ctx context.Context, queue, job string, args ...any) (string, error) {
	if job == "" {
		return "", errors.New("job is empty")
	}
	if queue == "" {
		queue = q.defaultQueue
	}
	if args == nil {
		args = []any{}
	}
	env := Envelope{
		ID:         uuid.NewString(),
		Job:        job,
		Queue:      queue,
		Args:       args,
		EnqueuedAt: q.now().UTC(),
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return "", err
	}
	if err := q.client.LPush(ctx, q.Key(queue), payload).Err(); err != nil {
		return "", err
	}
	return env.ID, nil
}

func (q *RedisQueue) Key(queue string) string {
	return q.prefix + queue
}

func (q *RedisQueue) Len(ctx context.Context, queue string) (int64, error) {
	if queue == "" {
		queue = q.defaultQueue
	}
	return q.client.LLen(ctx, q.Key(queue)).Result()
}
