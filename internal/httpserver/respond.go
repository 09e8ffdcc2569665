// Package httpserver provides the chi-based HTTP surface shared by every
// handler group: JSON response helpers, request validation, pagination,
// and the middleware stack.
package httpserver

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/formy/core/internal/apperr"
)

// Respond writes a JSON response with the given status code.
func Respond(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if data == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("encoding response", "error", err)
	}
}

// ErrorResponse is the standard JSON error envelope.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// RespondError writes a JSON error response.
func RespondError(w http.ResponseWriter, status int, errCode string, message string) {
	Respond(w, status, ErrorResponse{Error: errCode, Message: message})
}

// kindStatus maps an apperr.Kind to its HTTP status code.
var kindStatus = map[apperr.Kind]int{
	apperr.KindNotFound:            http.StatusNotFound,
	apperr.KindInvalidInput:        http.StatusBadRequest,
	apperr.KindInsufficientCredits: http.StatusPaymentRequired,
	apperr.KindConflict:            http.StatusConflict,
	apperr.KindUnauthorized:        http.StatusUnauthorized,
	apperr.KindForbidden:           http.StatusForbidden,
	apperr.KindEngineUnavailable:   http.StatusServiceUnavailable,
	apperr.KindEngineFailed:        http.StatusBadGateway,
	apperr.KindInternal:            http.StatusInternalServerError,
}

// RespondAppError writes the appropriate status code and envelope for err,
// logging the underlying cause at the server's discretion (internal errors
// get their message hidden from the client). The error envelope's "error"
// field carries the machine-readable code (e.g. ENGINE_TIMEOUT) when the
// underlying *apperr.Error set one, falling back to INTERNAL_ERROR.
func RespondAppError(w http.ResponseWriter, logger *slog.Logger, err error) {
	kind := apperr.KindOf(err)
	status, ok := kindStatus[kind]
	if !ok {
		status = http.StatusInternalServerError
	}

	errCode := string(apperr.CodeOf(err))

	message := err.Error()
	if kind == apperr.KindInternal {
		logger.Error("internal error", "error", err)
		message = "an internal error occurred"
	}

	RespondError(w, status, errCode, message)
}
