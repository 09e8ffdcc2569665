package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// newTestQueue starts an in-process miniredis server and returns a Queue
// backed by a real *redis.Client pointed at it, closing both on test cleanup.
func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("starting miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return NewQueue(rdb)
}

func TestQueuePushAndPopBlocking(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	if err := q.Push(ctx, "task_1"); err != nil {
		t.Fatalf("Push() error = %v", err)
	}

	taskID, err := q.PopBlocking(ctx, time.Second)
	if err != nil {
		t.Fatalf("PopBlocking() error = %v", err)
	}
	if taskID != "task_1" {
		t.Errorf("PopBlocking() = %q, want %q", taskID, "task_1")
	}

	count, err := q.ProcessingCount(ctx)
	if err != nil {
		t.Fatalf("ProcessingCount() error = %v", err)
	}
	if count != 1 {
		t.Errorf("ProcessingCount() = %d, want 1", count)
	}
}

func TestQueuePopBlockingEmpty(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	_, err := q.PopBlocking(ctx, 50*time.Millisecond)
	if err != ErrEmpty {
		t.Fatalf("PopBlocking() error = %v, want ErrEmpty", err)
	}
}

func TestQueueMarkComplete(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	if err := q.Push(ctx, "task_2"); err != nil {
		t.Fatalf("Push() error = %v", err)
	}
	if _, err := q.PopBlocking(ctx, time.Second); err != nil {
		t.Fatalf("PopBlocking() error = %v", err)
	}

	if err := q.MarkComplete(ctx, "task_2"); err != nil {
		t.Fatalf("MarkComplete() error = %v", err)
	}

	count, err := q.ProcessingCount(ctx)
	if err != nil {
		t.Fatalf("ProcessingCount() error = %v", err)
	}
	if count != 0 {
		t.Errorf("ProcessingCount() after MarkComplete = %d, want 0", count)
	}
}

func TestQueueCancelRemovesPendingOnly(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	if err := q.Push(ctx, "task_3"); err != nil {
		t.Fatalf("Push() error = %v", err)
	}
	if err := q.Cancel(ctx, "task_3"); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}

	length, err := q.Length(ctx)
	if err != nil {
		t.Fatalf("Length() error = %v", err)
	}
	if length != 0 {
		t.Errorf("Length() after Cancel = %d, want 0", length)
	}

	// Cancel on a task already claimed into the processing list is a no-op:
	// the worker relies on the durable status, not queue membership.
	if err := q.Push(ctx, "task_4"); err != nil {
		t.Fatalf("Push() error = %v", err)
	}
	if _, err := q.PopBlocking(ctx, time.Second); err != nil {
		t.Fatalf("PopBlocking() error = %v", err)
	}
	if err := q.Cancel(ctx, "task_4"); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	count, err := q.ProcessingCount(ctx)
	if err != nil {
		t.Fatalf("ProcessingCount() error = %v", err)
	}
	if count != 1 {
		t.Errorf("ProcessingCount() = %d, want 1 (Cancel must not touch the processing list)", count)
	}
}

func TestQueueCacheTaskData(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	if err := q.CacheTaskData(ctx, "task_5", map[string]string{"status": "processing", "progress": "50"}); err != nil {
		t.Fatalf("CacheTaskData() error = %v", err)
	}

	data, err := q.GetTaskData(ctx, "task_5")
	if err != nil {
		t.Fatalf("GetTaskData() error = %v", err)
	}
	if data["status"] != "processing" || data["progress"] != "50" {
		t.Errorf("GetTaskData() = %+v, want status=processing progress=50", data)
	}

	if err := q.DeleteTaskData(ctx, "task_5"); err != nil {
		t.Fatalf("DeleteTaskData() error = %v", err)
	}
	data, err = q.GetTaskData(ctx, "task_5")
	if err != nil {
		t.Fatalf("GetTaskData() after delete error = %v", err)
	}
	if len(data) != 0 {
		t.Errorf("GetTaskData() after delete = %+v, want empty", data)
	}
}
