package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rryowa/cookie_auth/internal/models"
)

// TaskQueue is an at-least-once email task queue on a redis list.
// Dequeued tasks are parked on a processing list until acknowledged.
type TaskQueue struct {
	client     redis.Cmdable
	queue      string
	processing string
}

// Delivery is a dequeued task together with the raw payload needed to ack or requeue it.
type Delivery struct {
	Task models.EmailTask
	raw  string
}

func NewTaskQueue(client redis.Cmdable, queue string) *TaskQueue {
	return &TaskQueue{
		client:     client,
		queue:      queue,
		processing: queue + ":processing",
	}
}

func (q *TaskQueue) Enqueue(ctx context.Context, task models.EmailTask) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal email task: %w", err)
	}
	if err := q.client.LPush(ctx, q.queue, payload).Err(); err != nil {
		return fmt.Errorf("enqueue email task: %w", err)
	}
	return nil
}

// Dequeue blocks up to wait for a task. It returns nil, nil when nothing arrived.
func (q *TaskQueue) Dequeue(ctx context.Context, wait time.Duration) (*Delivery, error) {
	raw, err := q.client.BRPopLPush(ctx, q.queue, q.processing, wait).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("dequeue email task: %w", err)
	}

	var task models.EmailTask
	if err := json.Unmarshal([]byte(raw), &task); err != nil {
		// Poison payloads are dropped so they do not block the queue.
		_ = q.client.LRem(ctx, q.processing, 1, raw).Err()
		return nil, fmt.Errorf("unmarshal email task: %w", err)
	}
	return &Delivery{Task: task, raw: raw}, nil
}

func (q *TaskQueue) Ack(ctx context.Context, d *Delivery) error {
	if err := q.client.LRem(ctx, q.processing, 1, d.raw).Err(); err != nil {
		return fmt.Errorf("ack email task: %w", err)
	}
	return nil
}

// Requeue puts a failed delivery back at the consuming end of the queue.
func (q *TaskQueue) Requeue(ctx context.Context, d *Delivery) error {
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, q.processing, 1, d.raw)
		pipe.RPush(ctx, q.queue, d.raw)
		return nil
	})
	if err != nil {
		return fmt.Errorf("requeue email task: %w", err)
	}
	return nil
}

// RecoverProcessing moves tasks left behind by a crashed worker back onto the queue.
func (q *TaskQueue) RecoverProcessing(ctx context.Context) (int, error) {
	moved := 0
	for {
		err := q.client.RPopLPush(ctx, q.processing, q.queue).Err()
		if errors.Is(err, redis.Nil) {
			return moved, nil
		}
		if err != nil {
			return moved, fmt.Errorf("recover email tasks: %w", err)
		}
		moved++
	}
}

func (q *TaskQueue) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.queue).Result()
}
