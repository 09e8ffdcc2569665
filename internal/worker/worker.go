// Package worker implements the task worker loop: pop a task ID, dispatch
// to the pipeline matching its mode, commit the terminal state, and refund
// on failure. A single task's failure never terminates the loop.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/formy/core/internal/apperr"
	"github.com/formy/core/pkg/credit"
	"github.com/formy/core/pkg/engine"
	"github.com/formy/core/pkg/objectstore"
	"github.com/formy/core/pkg/pipeline"
	"github.com/formy/core/pkg/queue"
	"github.com/formy/core/pkg/task"
)

// notifier is the optional ops-alert collaborator (Slack). A nil notifier
// is a no-op.
type notifier interface {
	NotifyEngineFailure(ctx context.Context, taskID string, err error)
}

// staleThreshold is how long a claimed task may go without a status update
// before the requeue sweep considers its worker dead and re-enqueues it.
// Twice the engine poll deadline, so a task mid-poll is never stolen.
const staleThreshold = 2 * 300 * time.Second

// terminalWriteBackoffs spaces retries of terminal status writes on
// connection errors; the pool re-establishes its connection between
// attempts. A terminal write is the one update that must not be lost.
var terminalWriteBackoffs = []time.Duration{2 * time.Second, 4 * time.Second, 6 * time.Second}

// Worker is a long-lived process that dispatches queued tasks to their
// pipeline and commits the terminal result. It may be replicated.
type Worker struct {
	store    *task.Store
	ledger   *credit.Ledger
	queue    *queue.Queue
	registry *engine.Registry
	objects  *objectstore.Store
	logger   *slog.Logger
	notify   notifier

	popTimeout time.Duration

	// completedTotal is the formy_tasks_completed_total{status} counter.
	// Nil-safe, same injection pattern as credit.Ledger's WithMetrics.
	completedTotal *prometheus.CounterVec
}

// New creates a Worker.
func New(store *task.Store, ledger *credit.Ledger, q *queue.Queue, registry *engine.Registry, objects *objectstore.Store, logger *slog.Logger, notify notifier, popTimeout time.Duration) *Worker {
	if popTimeout <= 0 {
		popTimeout = 5 * time.Second
	}
	return &Worker{
		store:      store,
		ledger:     ledger,
		queue:      q,
		registry:   registry,
		objects:    objects,
		logger:     logger,
		notify:     notify,
		popTimeout: popTimeout,
	}
}

// WithMetrics attaches the tasks-completed counter and returns w for chaining.
func (w *Worker) WithMetrics(completedTotal *prometheus.CounterVec) *Worker {
	w.completedTotal = completedTotal
	return w
}

func (w *Worker) recordTerminal(status task.Status) {
	if w.completedTotal != nil {
		w.completedTotal.WithLabelValues(string(status)).Inc()
	}
}

// Run blocks, dispatching tasks until ctx is cancelled. The currently-
// dispatched task is allowed to finish before Run returns; only the pop
// loop itself is exited on cancellation.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("worker started", "pop_timeout", w.popTimeout)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("worker stopped")
			return nil
		default:
		}

		taskID, err := w.queue.PopBlocking(ctx, w.popTimeout)
		if err != nil {
			if err == queue.ErrEmpty {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			w.logger.Error("popping task from queue", "error", err)
			continue
		}

		w.dispatch(context.WithoutCancel(ctx), taskID)
	}
}

// dispatch processes exactly one task. It never lets a single task's
// failure escape the loop: every error path ends in a failed terminal
// status plus refund.
func (w *Worker) dispatch(ctx context.Context, taskID string) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("panic dispatching task", "task_id", taskID, "recovered", r)
			w.failAndRefund(ctx, taskID, apperr.New(apperr.KindInternal, fmt.Sprintf("panic: %v", r)))
		}
		if err := w.queue.MarkComplete(ctx, taskID); err != nil {
			w.logger.Error("marking task complete in queue", "task_id", taskID, "error", err)
		}
	}()

	start := time.Now()

	if _, err := w.store.UpdateStatus(ctx, taskID, task.UpdateParams{
		Status:      task.StatusProcessing,
		Progress:    intPtr(0),
		CurrentStep: strPtr("claimed"),
	}); err != nil {
		// Already terminal (e.g. cancelled before dispatch); nothing to do.
		w.logger.Info("skipping task claim", "task_id", taskID, "error", err)
		return
	}

	t, err := w.store.Get(ctx, taskID)
	if err != nil {
		w.logger.Error("fetching claimed task", "task_id", taskID, "error", err)
		w.failAndRefund(ctx, taskID, err)
		return
	}

	pl, err := pipeline.PipelineForMode(t.Mode)
	if err != nil {
		w.failAndRefund(ctx, taskID, err)
		return
	}

	eng, err := w.registry.GetEngineForStep(string(t.Mode), "execute")
	if err != nil {
		w.failAndRefund(ctx, taskID, err)
		return
	}

	progress := func(p int, step string) {
		if _, err := w.store.UpdateStatus(ctx, taskID, task.UpdateParams{
			Status:      task.StatusProcessing,
			Progress:    intPtr(p),
			CurrentStep: strPtr(step),
		}); err != nil {
			// Progress updates are best-effort: dropping one never
			// affects correctness.
			w.logger.Debug("progress update dropped", "task_id", taskID, "error", err)
		}
		// Mirror the same fields into the KV store's ephemeral task-data
		// cache so a status poll can be served without a database round
		// trip; dropping this is equally harmless.
		if err := w.queue.CacheTaskData(ctx, taskID, map[string]string{
			"status":       string(task.StatusProcessing),
			"progress":     strconv.Itoa(p),
			"current_step": step,
		}); err != nil {
			w.logger.Debug("task-data cache update dropped", "task_id", taskID, "error", err)
		}
	}

	result, err := pl.Execute(ctx, pipeline.Input{
		TaskID:      taskID,
		SourceImage: t.SourceImage,
		Config:      mergeReferenceImage(t.Config, t.Mode, t.ReferenceImage),
		Engine:      eng,
		ObjectStore: w.objects,
		Progress:    progress,
	})
	if err != nil {
		if w.notify != nil && (apperr.Is(err, apperr.KindEngineUnavailable) || apperr.Is(err, apperr.KindEngineFailed)) {
			w.notify.NotifyEngineFailure(ctx, taskID, err)
		}
		w.failAndRefund(ctx, taskID, err)
		return
	}

	elapsed := time.Since(start).Seconds()

	// A cancel issued while this task was in flight wins: the worker still
	// lets the provider finish (no remote cancel), but writes cancelled
	// instead of done and still refunds.
	current, err := w.store.Get(ctx, taskID)
	if err == nil && current.Status == task.StatusCancelled {
		if err := w.ledger.RefundIfNotRefunded(ctx, taskID, t.UserID, t.CreditsConsumed); err != nil {
			w.logger.Error("refunding cancelled-while-running task", "task_id", taskID, "error", err)
		}
		w.recordTerminal(task.StatusCancelled)
		w.clearTaskDataCache(ctx, taskID)
		return
	}

	if _, err := w.commitTerminal(ctx, taskID, task.UpdateParams{
		Status:         task.StatusDone,
		Progress:       intPtr(100),
		CurrentStep:    strPtr("done"),
		Result:         &result,
		ProcessingTime: &elapsed,
	}); err != nil {
		w.logger.Error("committing done status", "task_id", taskID, "error", err)
		return
	}
	w.recordTerminal(task.StatusDone)
	w.clearTaskDataCache(ctx, taskID)
}

// commitTerminal writes a terminal status update, retrying with spaced
// backoffs on connection errors. A rejected transition (already terminal)
// is not transient and surfaces immediately.
func (w *Worker) commitTerminal(ctx context.Context, taskID string, p task.UpdateParams) (task.Task, error) {
	t, err := w.store.UpdateStatus(ctx, taskID, p)
	if err == nil || isTerminalConflict(err) {
		return t, err
	}

	for _, backoff := range terminalWriteBackoffs {
		w.logger.Error("terminal status write failed, retrying", "task_id", taskID, "backoff", backoff, "error", err)
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return task.Task{}, err
		case <-timer.C:
		}

		t, err = w.store.UpdateStatus(ctx, taskID, p)
		if err == nil || isTerminalConflict(err) {
			return t, err
		}
	}
	return task.Task{}, err
}

func isTerminalConflict(err error) bool {
	var appErr *apperr.Error
	return errors.As(err, &appErr) && appErr.Kind == apperr.KindConflict
}

// clearTaskDataCache drops the ephemeral KV-store task-data cache entry
// once a task reaches a terminal state; the durable row is authoritative
// from this point on. Best-effort, same as the cache writes in progress.
func (w *Worker) clearTaskDataCache(ctx context.Context, taskID string) {
	if err := w.queue.DeleteTaskData(ctx, taskID); err != nil {
		w.logger.Debug("task-data cache cleanup dropped", "task_id", taskID, "error", err)
	}
}

// failAndRefund writes the failed terminal state and refunds credits
// exactly once, classifying cause into the error taxonomy.
func (w *Worker) failAndRefund(ctx context.Context, taskID string, cause error) {
	taskErr := &task.Error{
		Code:    string(apperr.CodeOf(cause)),
		Message: cause.Error(),
	}

	t, getErr := w.store.Get(ctx, taskID)
	if getErr != nil {
		w.logger.Error("fetching task for failure handling", "task_id", taskID, "error", getErr)
		return
	}

	if _, err := w.commitTerminal(ctx, taskID, task.UpdateParams{
		Status: task.StatusFailed,
		Error:  taskErr,
	}); err != nil {
		w.logger.Error("committing failed status", "task_id", taskID, "error", err)
	} else {
		w.recordTerminal(task.StatusFailed)
		w.clearTaskDataCache(ctx, taskID)
	}

	if err := w.ledger.RefundIfNotRefunded(ctx, taskID, t.UserID, t.CreditsConsumed); err != nil {
		// A failed refund after a failed task is logged but never
		// re-attempted inside the loop; a reconciler owns that.
		w.logger.Error("refunding failed task", "task_id", taskID, "error", err)
	}
}

// RunRequeueSweep periodically cross-references the queue's processing list
// against durable rows: a task still marked processing whose updated_at is
// older than staleThreshold belonged to a worker that died after pop, so it
// is pushed back onto the queue for redelivery. The durable row is the
// source of truth; a row that meanwhile reached a terminal state is only
// removed from the processing list.
func (w *Worker) RunRequeueSweep(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.requeueStale(ctx)
		}
	}
}

func (w *Worker) requeueStale(ctx context.Context) {
	ids, err := w.queue.ProcessingIDs(ctx)
	if err != nil {
		w.logger.Error("listing processing tasks for requeue sweep", "error", err)
		return
	}

	for _, id := range ids {
		t, err := w.store.Get(ctx, id)
		if err != nil {
			w.logger.Error("fetching task for requeue sweep", "task_id", id, "error", err)
			continue
		}

		if t.Status.IsTerminal() {
			if err := w.queue.MarkComplete(ctx, id); err != nil {
				w.logger.Error("clearing terminal task from processing list", "task_id", id, "error", err)
			}
			continue
		}

		if t.Status == task.StatusProcessing && time.Since(t.UpdatedAt) > staleThreshold {
			w.logger.Info("re-enqueuing stale task", "task_id", id, "stale_for", time.Since(t.UpdatedAt))
			if err := w.queue.Push(ctx, id); err != nil {
				w.logger.Error("re-enqueuing stale task", "task_id", id, "error", err)
				continue
			}
			if err := w.queue.MarkComplete(ctx, id); err != nil {
				w.logger.Error("removing requeued task from processing list", "task_id", id, "error", err)
			}
		}
	}
}

// mergeReferenceImage folds the resolved reference_image handle back into
// the config map the pipeline sees, so a pipeline picking its own alias key
// (e.g. cloth_image for head swap) still finds a value even if the
// original request used a different alias than the canonical one.
func mergeReferenceImage(config map[string]any, mode task.Mode, referenceImage string) map[string]any {
	if referenceImage == "" {
		return config
	}
	out := make(map[string]any, len(config)+1)
	for k, v := range config {
		out[k] = v
	}
	switch mode {
	case task.ModeHeadSwap:
		out["reference_image"] = referenceImage
	case task.ModeBackgroundChange:
		out["background_image"] = referenceImage
	case task.ModePoseChange:
		out["pose_reference"] = referenceImage
	}
	return out
}

func intPtr(v int) *int       { return &v }
func strPtr(v string) *string { return &v }
