package task

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/formy/core/internal/apperr"
	"github.com/formy/core/internal/db"
)

// Store provides durable CRUD operations for tasks.
type Store struct {
	dbtx db.DBTX
}

// NewStore creates a task Store backed by the given database connection.
func NewStore(dbtx db.DBTX) *Store {
	return &Store{dbtx: dbtx}
}

const taskColumns = `task_id, user_id, mode, status, progress, current_step,
	source_image, reference_image, config, credits_consumed, refunded,
	result, error, created_at, updated_at, completed_at, failed_at, processing_time`

type taskRow struct {
	TaskID          string
	UserID          uuid.UUID
	Mode            string
	Status          string
	Progress        int
	CurrentStep     string
	SourceImage     string
	ReferenceImage  string
	Config          []byte
	CreditsConsumed int
	Refunded        bool
	Result          []byte
	Error           []byte
	CreatedAt       time.Time
	UpdatedAt       time.Time
	CompletedAt     *time.Time
	FailedAt        *time.Time
	ProcessingTime  *float64
}

func scanTaskRow(row pgx.Row) (Task, error) {
	var r taskRow
	err := row.Scan(
		&r.TaskID, &r.UserID, &r.Mode, &r.Status, &r.Progress, &r.CurrentStep,
		&r.SourceImage, &r.ReferenceImage, &r.Config, &r.CreditsConsumed, &r.Refunded,
		&r.Result, &r.Error, &r.CreatedAt, &r.UpdatedAt, &r.CompletedAt, &r.FailedAt, &r.ProcessingTime,
	)
	if err != nil {
		return Task{}, err
	}
	return r.toTask()
}

func scanTaskRows(rows pgx.Rows) ([]Task, error) {
	defer rows.Close()
	var items []Task
	for rows.Next() {
		var r taskRow
		if err := rows.Scan(
			&r.TaskID, &r.UserID, &r.Mode, &r.Status, &r.Progress, &r.CurrentStep,
			&r.SourceImage, &r.ReferenceImage, &r.Config, &r.CreditsConsumed, &r.Refunded,
			&r.Result, &r.Error, &r.CreatedAt, &r.UpdatedAt, &r.CompletedAt, &r.FailedAt, &r.ProcessingTime,
		); err != nil {
			return nil, fmt.Errorf("scanning task row: %w", err)
		}
		t, err := r.toTask()
		if err != nil {
			return nil, err
		}
		items = append(items, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating task rows: %w", err)
	}
	return items, nil
}

func (r taskRow) toTask() (Task, error) {
	t := Task{
		TaskID:          r.TaskID,
		UserID:          r.UserID,
		Mode:            Mode(r.Mode),
		Status:          Status(r.Status),
		Progress:        r.Progress,
		CurrentStep:     r.CurrentStep,
		SourceImage:     r.SourceImage,
		ReferenceImage:  r.ReferenceImage,
		CreditsConsumed: r.CreditsConsumed,
		Refunded:        r.Refunded,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
		CompletedAt:     r.CompletedAt,
		FailedAt:        r.FailedAt,
		ProcessingTime:  r.ProcessingTime,
	}

	if len(r.Config) > 0 {
		if err := json.Unmarshal(r.Config, &t.Config); err != nil {
			return Task{}, fmt.Errorf("unmarshaling task config: %w", err)
		}
	}
	if len(r.Result) > 0 {
		var res Result
		if err := json.Unmarshal(r.Result, &res); err != nil {
			return Task{}, fmt.Errorf("unmarshaling task result: %w", err)
		}
		t.Result = &res
	}
	if len(r.Error) > 0 {
		var e Error
		if err := json.Unmarshal(r.Error, &e); err != nil {
			return Task{}, fmt.Errorf("unmarshaling task error: %w", err)
		}
		t.Error = &e
	}

	return t, nil
}

// Insert persists a new task row. The row is created with credits already
// reserved by the caller's prior CheckAndDebit call.
func (s *Store) Insert(ctx context.Context, t Task) (Task, error) {
	cfg, err := marshalJSON(t.Config)
	if err != nil {
		return Task{}, err
	}

	const query = `
		INSERT INTO tasks (task_id, user_id, mode, status, progress, current_step,
			source_image, reference_image, config, credits_consumed, refunded)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, false)
		RETURNING ` + taskColumns

	row := s.dbtx.QueryRow(ctx, query,
		t.TaskID, t.UserID, t.Mode, t.Status, t.Progress, t.CurrentStep,
		t.SourceImage, t.ReferenceImage, cfg, t.CreditsConsumed,
	)
	task, err := scanTaskRow(row)
	if err != nil {
		return Task{}, fmt.Errorf("inserting task: %w", err)
	}
	return task, nil
}

// Get returns a single task by ID.
func (s *Store) Get(ctx context.Context, taskID string) (Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE task_id = $1`
	row := s.dbtx.QueryRow(ctx, query, taskID)
	t, err := scanTaskRow(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return Task{}, apperr.New(apperr.KindNotFound, "task not found")
		}
		return Task{}, fmt.Errorf("getting task: %w", err)
	}
	return t, nil
}

// ListFilters narrows a List/Count call.
type ListFilters struct {
	Status *Status
	Mode   *Mode
}

// List returns tasks owned by userID, newest first. A task whose user_id is
// null is never returned; there is no legacy compatibility path.
func (s *Store) List(ctx context.Context, userID uuid.UUID, f ListFilters, limit, offset int) ([]Task, error) {
	where := `WHERE user_id = $1`
	args := []any{userID}

	if f.Status != nil {
		args = append(args, string(*f.Status))
		where += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if f.Mode != nil {
		args = append(args, string(*f.Mode))
		where += fmt.Sprintf(" AND mode = $%d", len(args))
	}

	args = append(args, limit, offset)
	query := fmt.Sprintf(
		`SELECT %s FROM tasks %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		taskColumns, where, len(args)-1, len(args),
	)

	rows, err := s.dbtx.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing tasks: %w", err)
	}
	return scanTaskRows(rows)
}

// Count returns the number of tasks matching the same filters as List.
func (s *Store) Count(ctx context.Context, userID uuid.UUID, f ListFilters) (int, error) {
	where := `WHERE user_id = $1`
	args := []any{userID}

	if f.Status != nil {
		args = append(args, string(*f.Status))
		where += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if f.Mode != nil {
		args = append(args, string(*f.Mode))
		where += fmt.Sprintf(" AND mode = $%d", len(args))
	}

	query := fmt.Sprintf(`SELECT count(*) FROM tasks %s`, where)

	var count int
	if err := s.dbtx.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting tasks: %w", err)
	}
	return count, nil
}

// UpdateStatus transitions a task's status. Transitions out of a terminal
// status are rejected as no-ops: the WHERE clause only matches rows whose
// current status is non-terminal, so a second call after done/failed/
// cancelled affects zero rows.
func (s *Store) UpdateStatus(ctx context.Context, taskID string, p UpdateParams) (Task, error) {
	progress := 0
	if p.Progress != nil {
		progress = clampProgress(*p.Progress)
	}
	if p.Status == StatusDone {
		progress = 100
	}

	// A nil *Result/*Error must reach the query as SQL NULL so COALESCE
	// preserves the stored value; marshaling the nil pointer would yield a
	// JSON null literal instead.
	var resultJSON, errorJSON []byte
	var err error
	if p.Result != nil {
		if resultJSON, err = marshalJSON(p.Result); err != nil {
			return Task{}, err
		}
	}
	if p.Error != nil {
		if errorJSON, err = marshalJSON(p.Error); err != nil {
			return Task{}, err
		}
	}

	currentStep := ""
	if p.CurrentStep != nil {
		currentStep = *p.CurrentStep
	}

	const query = `
		UPDATE tasks
		SET status = $2,
		    progress = CASE WHEN $3::int IS NOT NULL THEN $3 ELSE progress END,
		    current_step = CASE WHEN $4 <> '' THEN $4 ELSE current_step END,
		    result = COALESCE($5, result),
		    error = COALESCE($6, error),
		    processing_time = COALESCE($7, processing_time),
		    updated_at = now(),
		    completed_at = CASE WHEN $2 = 'done' THEN now() ELSE completed_at END,
		    failed_at = CASE WHEN $2 = 'failed' THEN now() ELSE failed_at END
		WHERE task_id = $1 AND status NOT IN ('done', 'failed', 'cancelled')
		RETURNING ` + taskColumns

	var progressArg *int
	if p.Progress != nil || p.Status == StatusDone {
		progressArg = &progress
	}

	row := s.dbtx.QueryRow(ctx, query,
		taskID, string(p.Status), progressArg, currentStep, resultJSON, errorJSON, p.ProcessingTime,
	)
	t, err := scanTaskRow(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return Task{}, apperr.New(apperr.KindConflict, "task is already in a terminal state")
		}
		return Task{}, fmt.Errorf("updating task status: %w", err)
	}
	return t, nil
}

// MarkRefunded sets the task's refunded marker if it is not already set and
// reports whether this call set it. The credit ledger does not call it: its
// refund sets the same marker with its own SQL inside a transaction.
func (s *Store) MarkRefunded(ctx context.Context, taskID string) (bool, error) {
	const query = `UPDATE tasks SET refunded = true WHERE task_id = $1 AND refunded = false`
	tag, err := s.dbtx.Exec(ctx, query, taskID)
	if err != nil {
		return false, fmt.Errorf("marking task refunded: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}
