package task

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/formy/core/internal/apperr"
	"github.com/formy/core/internal/auth"
	"github.com/formy/core/internal/httpserver"
)

// Handler provides the /tasks HTTP surface.
type Handler struct {
	svc    *Service
	logger *slog.Logger
}

// NewHandler creates a task Handler.
func NewHandler(svc *Service, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// Routes returns the /tasks router. Every route requires an authenticated
// session; ownership is enforced per-request by the Service.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(auth.RequireAuth)
	r.Post("/", h.handleCreate)
	r.Get("/", h.handleList)
	r.Get("/history", h.handleHistory)
	r.Get("/{id}", h.handleGet)
	r.Post("/{id}/cancel", h.handleCancel)
	return r
}

type createTaskRequest struct {
	Mode        string         `json:"mode" validate:"required"`
	SourceImage string         `json:"source_image" validate:"required"`
	Config      map[string]any `json:"config"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, h.logger, r)
	if !ok {
		return
	}

	var req createTaskRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	mode, err := ModeFromString(req.Mode)
	if err != nil {
		httpserver.RespondAppError(w, h.logger, err)
		return
	}

	result, err := h.svc.Create(r.Context(), userID, CreateRequest{
		Mode:        mode,
		SourceImage: req.SourceImage,
		Config:      req.Config,
	})
	if err != nil {
		httpserver.RespondAppError(w, h.logger, err)
		return
	}

	if result.Insufficient != nil {
		httpserver.Respond(w, http.StatusPaymentRequired, map[string]any{
			"error":    string(apperr.CodeCreditNotEnough),
			"required": result.Insufficient.Required,
			"current":  result.Insufficient.Current,
			"deficit":  result.Insufficient.Deficit,
		})
		return
	}

	httpserver.Respond(w, http.StatusCreated, toTaskInfo(result.Task))
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, h.logger, r)
	if !ok {
		return
	}

	t, err := h.svc.Get(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondAppError(w, h.logger, err)
		return
	}

	httpserver.Respond(w, http.StatusOK, toTaskInfo(t))
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, false)
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, true)
}

// list serves both GET /tasks and GET /tasks/history; history additionally
// surfaces input image handles, since it is meant for a client-side gallery
// of past edits rather than just status polling.
func (h *Handler) list(w http.ResponseWriter, r *http.Request, includeInputs bool) {
	userID, ok := requireUserID(w, h.logger, r)
	if !ok {
		return
	}

	params, err := httpserver.ParseOffsetParams(r)
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	var f ListFilters
	if status := r.URL.Query().Get("status"); status != "" {
		s := Status(status)
		f.Status = &s
	}
	if mode := r.URL.Query().Get("mode"); mode != "" {
		m := Mode(mode)
		f.Mode = &m
	}

	items, total, err := h.svc.List(r.Context(), userID, f, params.PageSize, params.Offset)
	if err != nil {
		httpserver.RespondAppError(w, h.logger, err)
		return
	}

	infos := make([]taskInfo, 0, len(items))
	for _, t := range items {
		info := toTaskInfo(t)
		if includeInputs {
			info.SourceImage = t.SourceImage
			info.ReferenceImage = t.ReferenceImage
		}
		infos = append(infos, info)
	}

	page := httpserver.NewOffsetPage(infos, params, total)
	httpserver.Respond(w, http.StatusOK, map[string]any{
		"tasks":      page.Items,
		"pagination": page,
	})
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, h.logger, r)
	if !ok {
		return
	}

	taskID := chi.URLParam(r, "id")
	t, err := h.svc.Cancel(r.Context(), userID, taskID)
	if err != nil {
		httpserver.RespondAppError(w, h.logger, err)
		return
	}

	httpserver.Respond(w, http.StatusOK, map[string]any{
		"task_id": t.TaskID,
		"status":  t.Status,
	})
}

func requireUserID(w http.ResponseWriter, logger *slog.Logger, r *http.Request) (uuid.UUID, bool) {
	claims := auth.FromContext(r.Context())
	if claims == nil {
		httpserver.RespondAppError(w, logger, apperr.NewCode(apperr.CodeUnauthenticated, "missing session"))
		return uuid.UUID{}, false
	}
	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		httpserver.RespondAppError(w, logger, apperr.NewCode(apperr.CodeUnauthenticated, "invalid session subject"))
		return uuid.UUID{}, false
	}
	return id, true
}

// taskInfo is the TaskInfo response shape returned by every task endpoint.
type taskInfo struct {
	TaskID          string         `json:"task_id"`
	Mode            Mode           `json:"mode"`
	Status          Status         `json:"status"`
	Progress        int            `json:"progress"`
	CurrentStep     string         `json:"current_step,omitempty"`
	SourceImage     string         `json:"source_image,omitempty"`
	ReferenceImage  string         `json:"reference_image,omitempty"`
	CreditsConsumed int            `json:"credits_consumed"`
	Result          *Result        `json:"result,omitempty"`
	Error           *Error         `json:"error,omitempty"`
	CreatedAt       string         `json:"created_at"`
	UpdatedAt       string         `json:"updated_at"`
	CompletedAt     *string        `json:"completed_at,omitempty"`
	FailedAt        *string        `json:"failed_at,omitempty"`
	ProcessingTime  *float64       `json:"processing_time,omitempty"`
}

func toTaskInfo(t Task) taskInfo {
	info := taskInfo{
		TaskID:          t.TaskID,
		Mode:            t.Mode,
		Status:          t.Status,
		Progress:        t.Progress,
		CurrentStep:     t.CurrentStep,
		CreditsConsumed: t.CreditsConsumed,
		Result:          t.Result,
		Error:           t.Error,
		CreatedAt:       t.CreatedAt.Format(time.RFC3339),
		UpdatedAt:       t.UpdatedAt.Format(time.RFC3339),
		ProcessingTime:  t.ProcessingTime,
	}
	if t.CompletedAt != nil {
		s := t.CompletedAt.Format(time.RFC3339)
		info.CompletedAt = &s
	}
	if t.FailedAt != nil {
		s := t.FailedAt.Format(time.RFC3339)
		info.FailedAt = &s
	}
	return info
}
