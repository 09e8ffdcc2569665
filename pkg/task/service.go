package task

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/formy/core/internal/apperr"
	"github.com/formy/core/pkg/credit"
	"github.com/formy/core/pkg/idgen"
)

// queuePusher is the subset of pkg/queue.Queue the task service needs,
// kept narrow so tests can substitute an in-memory fake.
type queuePusher interface {
	Push(ctx context.Context, taskID string) error
	Cancel(ctx context.Context, taskID string) error
}

// Service implements task creation, retrieval, listing, and cancellation,
// composing the credit ledger pre-charge with the durable insert and the
// queue push.
type Service struct {
	store  *Store
	ledger *credit.Ledger
	queue  queuePusher
	logger *slog.Logger

	// createdTotal is the formy_tasks_created_total{mode} counter. Nil-safe.
	createdTotal *prometheus.CounterVec
}

// NewService creates a task Service.
func NewService(store *Store, ledger *credit.Ledger, queue queuePusher, logger *slog.Logger) *Service {
	return &Service{store: store, ledger: ledger, queue: queue, logger: logger}
}

// WithMetrics attaches the tasks-created counter and returns s for chaining.
func (s *Service) WithMetrics(createdTotal *prometheus.CounterVec) *Service {
	s.createdTotal = createdTotal
	return s
}

// CreateRequest is the caller-supplied task creation payload.
type CreateRequest struct {
	Mode        Mode
	SourceImage string
	Config      map[string]any
}

// CreateResult is returned by Create: either the created task, or an
// insufficient-credits report the handler maps to HTTP 402.
type CreateResult struct {
	Task         Task
	Insufficient *credit.DebitResult
}

// Create pre-charges credits, inserts the task row, and enqueues it for
// dispatch. If the debit succeeds but insert or enqueue then fails, the
// charge is refunded before the error surfaces.
func (s *Service) Create(ctx context.Context, userID uuid.UUID, req CreateRequest) (CreateResult, error) {
	if _, err := ModeFromString(string(req.Mode)); err != nil {
		return CreateResult{}, err
	}

	quality := stringConfig(req.Config, "quality", "standard")
	size := stringConfig(req.Config, "size", "medium")
	cost := CreditCost(req.Mode, quality, size)

	debit, err := s.ledger.CheckAndDebit(ctx, userID, cost)
	if err != nil {
		return CreateResult{}, err
	}
	if !debit.OK {
		return CreateResult{Insufficient: &debit}, nil
	}

	taskID, err := idgen.NewTaskID()
	if err != nil {
		s.refundOnFailure(ctx, "", userID, cost)
		return CreateResult{}, fmt.Errorf("generating task id: %w", err)
	}

	referenceImage := firstReferenceImage(req.Mode, req.Config)
	t := NewTask(taskID, userID, req.Mode, req.SourceImage, req.Config, cost)
	t.ReferenceImage = referenceImage

	inserted, err := s.store.Insert(ctx, t)
	if err != nil {
		// No row exists to carry a refund marker, so the charge is
		// reversed as a plain credit.
		s.refundOnFailure(ctx, "", userID, cost)
		return CreateResult{}, err
	}

	if err := s.queue.Push(ctx, taskID); err != nil {
		s.refundOnFailure(ctx, taskID, userID, cost)
		return CreateResult{}, fmt.Errorf("enqueuing task: %w", err)
	}

	if s.createdTotal != nil {
		s.createdTotal.WithLabelValues(string(req.Mode)).Inc()
	}

	return CreateResult{Task: inserted}, nil
}

// refundOnFailure best-effort refunds a pre-charge when task creation fails
// after the debit. The task row may not exist yet (taskID == ""), in which
// case there is no refund marker to compare-and-set against and the ledger
// credit is applied directly.
func (s *Service) refundOnFailure(ctx context.Context, taskID string, userID uuid.UUID, amount int) {
	var err error
	if taskID == "" {
		err = s.ledger.Credit(ctx, userID, amount)
	} else {
		err = s.ledger.RefundIfNotRefunded(ctx, taskID, userID, amount)
	}
	if err != nil {
		s.logger.Error("refunding failed task creation", "error", err, "user_id", userID, "task_id", taskID)
	}
}

// Get returns a task, enforcing ownership: a task belonging to a different
// user is reported as forbidden (403), while a missing task surfaces the
// store's not-found error (404).
func (s *Service) Get(ctx context.Context, userID uuid.UUID, taskID string) (Task, error) {
	t, err := s.store.Get(ctx, taskID)
	if err != nil {
		return Task{}, err
	}
	if t.UserID != userID {
		return Task{}, apperr.New(apperr.KindForbidden, "task belongs to another user")
	}
	return t, nil
}

// List returns a page of tasks owned by userID alongside the total count
// matching the same filters.
func (s *Service) List(ctx context.Context, userID uuid.UUID, f ListFilters, limit, offset int) ([]Task, int, error) {
	items, err := s.store.List(ctx, userID, f, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.store.Count(ctx, userID, f)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// Cancel transitions a task to cancelled and refunds its credits. A second
// cancel on an already-terminal task is rejected as a bad request (HTTP
// 400); exactly one refund is ever applied.
func (s *Service) Cancel(ctx context.Context, userID uuid.UUID, taskID string) (Task, error) {
	existing, err := s.Get(ctx, userID, taskID)
	if err != nil {
		return Task{}, err
	}
	if existing.Status.IsTerminal() {
		return Task{}, apperr.NewCode(apperr.CodeInvalidRequest, "task is already in a terminal state")
	}

	updated, err := s.store.UpdateStatus(ctx, taskID, UpdateParams{Status: StatusCancelled})
	if err != nil {
		// A concurrent terminal transition between the check above and the
		// update lands here; surface it the same way as the pre-check.
		if apperr.Is(err, apperr.KindConflict) {
			return Task{}, apperr.NewCode(apperr.CodeInvalidRequest, "task is already in a terminal state")
		}
		return Task{}, err
	}

	if err := s.ledger.RefundIfNotRefunded(ctx, taskID, userID, existing.CreditsConsumed); err != nil {
		s.logger.Error("refunding cancelled task", "error", err, "task_id", taskID)
	}
	if err := s.queue.Cancel(ctx, taskID); err != nil {
		s.logger.Error("removing cancelled task from queue", "error", err, "task_id", taskID)
	}

	return updated, nil
}

// ModeFromString validates a mode string against the three supported edit
// modes, returning the INVALID_MODE apperr on anything else.
func ModeFromString(s string) (Mode, error) {
	switch Mode(s) {
	case ModeHeadSwap, ModeBackgroundChange, ModePoseChange:
		return Mode(s), nil
	default:
		return "", apperr.NewCode(apperr.CodeInvalidMode, fmt.Sprintf("unrecognized edit mode %q", s))
	}
}

// referenceImageFields lists the per-mode config keys whose first present
// value is the task's reference image, mirroring each pipeline's
// first-match-wins alias collapsing rule.
var referenceImageFields = map[Mode][]string{
	ModeHeadSwap:         {"reference_image", "target_face_image", "cloth_image"},
	ModeBackgroundChange: {"background_image", "bg_image"},
	ModePoseChange:       {"pose_reference", "pose_image", "reference_image"},
}

func firstReferenceImage(mode Mode, config map[string]any) string {
	for _, key := range referenceImageFields[mode] {
		if v, ok := config[key]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s
			}
		}
	}
	return ""
}

func stringConfig(config map[string]any, key, def string) string {
	if v, ok := config[key]; ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return def
}
