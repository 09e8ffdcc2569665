package task

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestClampProgress(t *testing.T) {
	tests := []struct {
		in   int
		want int
	}{
		{-5, 0},
		{0, 0},
		{50, 50},
		{100, 100},
		{250, 100},
	}
	for _, tt := range tests {
		if got := clampProgress(tt.in); got != tt.want {
			t.Errorf("clampProgress(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestStatusIsTerminal(t *testing.T) {
	terminal := []Status{StatusDone, StatusFailed, StatusCancelled}
	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Errorf("%q.IsTerminal() = false, want true", s)
		}
	}
	for _, s := range []Status{StatusPending, StatusProcessing} {
		if s.IsTerminal() {
			t.Errorf("%q.IsTerminal() = true, want false", s)
		}
	}
}

func TestTaskRowToTask(t *testing.T) {
	userID := uuid.New()
	now := time.Now().UTC()

	r := taskRow{
		TaskID:          "task_1",
		UserID:          userID,
		Mode:            "HEAD_SWAP",
		Status:          "done",
		Progress:        100,
		SourceImage:     "img_s",
		Config:          []byte(`{"quality":"high"}`),
		CreditsConsumed: 48,
		Result:          []byte(`{"output_image":{"url":"/files/results/task_1/output.png","type":"png"}}`),
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	task, err := r.toTask()
	if err != nil {
		t.Fatalf("toTask() error = %v", err)
	}
	if task.Mode != ModeHeadSwap || task.Status != StatusDone {
		t.Errorf("toTask() mode/status = %q/%q", task.Mode, task.Status)
	}
	if task.Config["quality"] != "high" {
		t.Errorf("Config = %+v, want quality=high", task.Config)
	}
	if task.Result == nil || task.Result.OutputImage.URL != "/files/results/task_1/output.png" {
		t.Errorf("Result = %+v, want output_image URL", task.Result)
	}
	if task.Error != nil {
		t.Errorf("Error = %+v, want nil for empty error column", task.Error)
	}
}

func TestTaskRowToTaskBadJSON(t *testing.T) {
	r := taskRow{TaskID: "task_2", Config: []byte(`{broken`)}
	if _, err := r.toTask(); err == nil {
		t.Error("toTask() with malformed config JSON should error")
	}
}

func TestNewTask(t *testing.T) {
	userID := uuid.New()
	task := NewTask("task_3", userID, ModePoseChange, "img_s", map[string]any{"pose_image": "img_p"}, 60)

	if task.Status != StatusPending {
		t.Errorf("Status = %q, want pending", task.Status)
	}
	if task.Progress != 0 {
		t.Errorf("Progress = %d, want 0", task.Progress)
	}
	if task.CreditsConsumed != 60 {
		t.Errorf("CreditsConsumed = %d, want 60", task.CreditsConsumed)
	}
	if task.CreatedAt.IsZero() || task.UpdatedAt.IsZero() {
		t.Error("timestamps should be set at creation")
	}
}

func TestErrorJSONShape(t *testing.T) {
	e := Error{Code: "ENGINE_TIMEOUT", Message: "poll deadline exceeded", Details: map[string]string{"elapsed_seconds": "301s"}}
	b, err := json.Marshal(e)
	if err != nil {
		t.Fatalf("marshaling error payload: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(b, &decoded); err != nil {
		t.Fatalf("unmarshaling error payload: %v", err)
	}
	if decoded["code"] != "ENGINE_TIMEOUT" {
		t.Errorf("code = %v, want ENGINE_TIMEOUT", decoded["code"])
	}
}
