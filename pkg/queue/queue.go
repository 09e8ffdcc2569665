// Package queue implements the task queue: a Redis-backed FIFO of task IDs
// with an auxiliary processing list for at-least-once delivery tracking,
// plus an ephemeral per-task data cache.
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	queueKey       = "formy:task:queue"
	processingKey  = "formy:task:processing"
	taskDataPrefix = "formy:task:data:"
)

// ErrEmpty is returned by PopBlocking when the timeout elapses with no task
// available. Callers must treat this as benign idle, not an error.
var ErrEmpty = errors.New("queue: empty")

// Queue is a FIFO of task IDs backed by Redis.
type Queue struct {
	rdb *redis.Client
}

// NewQueue creates a Queue backed by the given Redis client.
func NewQueue(rdb *redis.Client) *Queue {
	return &Queue{rdb: rdb}
}

// Push appends taskID to the tail of the queue.
func (q *Queue) Push(ctx context.Context, taskID string) error {
	if err := q.rdb.RPush(ctx, queueKey, taskID).Err(); err != nil {
		return fmt.Errorf("pushing task to queue: %w", err)
	}
	return nil
}

// PopBlocking removes the head of the queue and moves it to the processing
// list in one BLMOVE, blocking up to timeout if the queue is empty. The
// move is atomic at the Redis level: a worker crash between pop and claim
// cannot strand an ID outside both keys. Returns ErrEmpty (not a wrapped
// redis.Nil) if nothing arrived within timeout.
func (q *Queue) PopBlocking(ctx context.Context, timeout time.Duration) (string, error) {
	taskID, err := q.rdb.BLMove(ctx, queueKey, processingKey, "LEFT", "RIGHT", timeout).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrEmpty
		}
		return "", fmt.Errorf("popping task from queue: %w", err)
	}
	return taskID, nil
}

// MarkComplete removes taskID from the processing list, on any terminal
// transition (done, failed, or cancelled).
func (q *Queue) MarkComplete(ctx context.Context, taskID string) error {
	if err := q.rdb.LRem(ctx, processingKey, 0, taskID).Err(); err != nil {
		return fmt.Errorf("removing task from processing list: %w", err)
	}
	return nil
}

// Cancel removes taskID from the pending queue list, if still present.
// Tasks already moved to the processing list are left alone; the worker
// observes the durable cancelled status and refunds instead.
func (q *Queue) Cancel(ctx context.Context, taskID string) error {
	if err := q.rdb.LRem(ctx, queueKey, 0, taskID).Err(); err != nil {
		return fmt.Errorf("removing task from queue: %w", err)
	}
	return nil
}

// Length returns the number of tasks waiting in the queue.
func (q *Queue) Length(ctx context.Context) (int64, error) {
	n, err := q.rdb.LLen(ctx, queueKey).Result()
	if err != nil {
		return 0, fmt.Errorf("reading queue length: %w", err)
	}
	return n, nil
}

// ProcessingCount returns the number of tasks currently claimed by a worker.
func (q *Queue) ProcessingCount(ctx context.Context) (int64, error) {
	n, err := q.rdb.LLen(ctx, processingKey).Result()
	if err != nil {
		return 0, fmt.Errorf("reading processing count: %w", err)
	}
	return n, nil
}

// ProcessingIDs returns every task ID currently in the processing list, used
// by the requeue sweep to cross-reference against stale durable rows.
func (q *Queue) ProcessingIDs(ctx context.Context) ([]string, error) {
	ids, err := q.rdb.LRange(ctx, processingKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("reading processing list: %w", err)
	}
	return ids, nil
}

// CacheTaskData stores an auxiliary, ephemeral copy of a task's hot fields
// in Redis (hash at formy:task:data:<id>) so status polling can avoid a
// database round trip. It is a cache, not a source of truth: the Task Store
// row is authoritative.
func (q *Queue) CacheTaskData(ctx context.Context, taskID string, fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}
	if err := q.rdb.HSet(ctx, taskDataPrefix+taskID, toAnyMap(fields)).Err(); err != nil {
		return fmt.Errorf("caching task data: %w", err)
	}
	return nil
}

// GetTaskData reads the cached auxiliary fields for taskID, if present.
func (q *Queue) GetTaskData(ctx context.Context, taskID string) (map[string]string, error) {
	data, err := q.rdb.HGetAll(ctx, taskDataPrefix+taskID).Result()
	if err != nil {
		return nil, fmt.Errorf("reading cached task data: %w", err)
	}
	return data, nil
}

// DeleteTaskData removes the cached auxiliary fields for taskID.
func (q *Queue) DeleteTaskData(ctx context.Context, taskID string) error {
	if err := q.rdb.Del(ctx, taskDataPrefix+taskID).Err(); err != nil {
		return fmt.Errorf("deleting cached task data: %w", err)
	}
	return nil
}

func toAnyMap(m map[string]string) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
