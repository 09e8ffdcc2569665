// Package task implements the durable task store and the task lifecycle
// service: CRUD on task rows, one-shot terminal status transitions,
// owner-scoped listing, and the credit pre-charge on creation.
package task

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Mode is the edit mode requested for a task.
type Mode string

const (
	ModeHeadSwap         Mode = "HEAD_SWAP"
	ModeBackgroundChange Mode = "BACKGROUND_CHANGE"
	ModePoseChange       Mode = "POSE_CHANGE"
)

// Status is the lifecycle status of a task.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusDone       Status = "done"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// IsTerminal reports whether s is an absorbing status.
func (s Status) IsTerminal() bool {
	return s == StatusDone || s == StatusFailed || s == StatusCancelled
}

// Result is the nullable output payload of a successfully completed task.
type Result struct {
	OutputImage     ImageRef       `json:"output_image"`
	Thumbnail       *ImageRef      `json:"thumbnail,omitempty"`
	ComparisonImage *ImageRef      `json:"comparison_image,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

// ImageRef points at a retrievable artifact.
type ImageRef struct {
	URL  string `json:"url"`
	Type string `json:"type"`
}

// Error is the nullable failure payload of a failed task.
type Error struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

// Task is the durable record backing the task lifecycle.
type Task struct {
	TaskID          string
	UserID          uuid.UUID
	Mode            Mode
	Status          Status
	Progress        int
	CurrentStep     string
	SourceImage     string
	ReferenceImage  string
	Config          map[string]any
	CreditsConsumed int
	Refunded        bool
	Result          *Result
	Error           *Error
	CreatedAt       time.Time
	UpdatedAt       time.Time
	CompletedAt     *time.Time
	FailedAt        *time.Time
	ProcessingTime  *float64
}

// NewTask builds a task record pending insertion: status pending, progress
// 0, credits already fixed at creation. A worker never observes a task
// whose credits are not yet reserved.
func NewTask(taskID string, userID uuid.UUID, mode Mode, sourceImage string, config map[string]any, creditsConsumed int) Task {
	now := time.Now().UTC()
	return Task{
		TaskID:          taskID,
		UserID:          userID,
		Mode:            mode,
		Status:          StatusPending,
		Progress:        0,
		SourceImage:     sourceImage,
		Config:          config,
		CreditsConsumed: creditsConsumed,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// UpdateParams describes a (possibly partial) status transition.
type UpdateParams struct {
	Status         Status
	Progress       *int
	CurrentStep    *string
	Result         *Result
	Error          *Error
	ProcessingTime *float64
}

func marshalJSON(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshaling task field: %w", err)
	}
	return b, nil
}

func clampProgress(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
