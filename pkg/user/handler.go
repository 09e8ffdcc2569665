package user

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/formy/core/internal/apperr"
	"github.com/formy/core/internal/auth"
	"github.com/formy/core/internal/httpserver"
)

// Handler provides the /auth HTTP surface.
type Handler struct {
	svc    *Service
	logger *slog.Logger
}

// NewHandler creates an auth Handler.
func NewHandler(svc *Service, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// Routes returns the /auth router. send-code/login/signup/login-password
// are public; /me requires an authenticated session.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/send-code", h.handleSendCode)
	r.Post("/login", h.handleLoginWithCode)
	r.Post("/signup", h.handleSignup)
	r.Post("/login-password", h.handleLoginWithPassword)
	r.With(auth.RequireAuth).Get("/me", h.handleMe)
	return r
}

const sendCodeExpiresIn = 600 // seconds, matches verification.ttl

type sendCodeRequest struct {
	Email string `json:"email" validate:"required,email"`
}

func (h *Handler) handleSendCode(w http.ResponseWriter, r *http.Request) {
	var req sendCodeRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	if err := h.svc.SendCode(r.Context(), req.Email); err != nil {
		httpserver.RespondAppError(w, h.logger, err)
		return
	}

	httpserver.Respond(w, http.StatusOK, map[string]any{
		"success":    true,
		"expires_in": sendCodeExpiresIn,
	})
}

type loginWithCodeRequest struct {
	Email string `json:"email" validate:"required,email"`
	Code  string `json:"code" validate:"required,len=6"`
}

func (h *Handler) handleLoginWithCode(w http.ResponseWriter, r *http.Request) {
	var req loginWithCodeRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	result, err := h.svc.LoginWithCode(r.Context(), req.Email, req.Code)
	if err != nil {
		httpserver.RespondAppError(w, h.logger, err)
		return
	}

	respondAuthResult(w, result)
}

type signupRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6"`
}

func (h *Handler) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	result, err := h.svc.SignupWithPassword(r.Context(), req.Email, req.Password)
	if err != nil {
		httpserver.RespondAppError(w, h.logger, err)
		return
	}

	httpserver.Respond(w, http.StatusCreated, map[string]any{
		"access_token": result.Token,
		"token_type":   "bearer",
		"user":         result.User,
		"message":      "account created",
	})
}

type loginWithPasswordRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

func (h *Handler) handleLoginWithPassword(w http.ResponseWriter, r *http.Request) {
	var req loginWithPasswordRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	result, err := h.svc.LoginWithPassword(r.Context(), req.Email, req.Password)
	if err != nil {
		httpserver.RespondAppError(w, h.logger, err)
		return
	}

	respondAuthResult(w, result)
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	claims := auth.FromContext(r.Context())
	if claims == nil {
		httpserver.RespondAppError(w, h.logger, apperr.NewCode(apperr.CodeUnauthenticated, "missing session"))
		return
	}

	info, err := h.svc.Me(r.Context(), claims.Subject)
	if err != nil {
		httpserver.RespondAppError(w, h.logger, err)
		return
	}

	httpserver.Respond(w, http.StatusOK, map[string]any{"user": info})
}

func respondAuthResult(w http.ResponseWriter, result AuthResult) {
	httpserver.Respond(w, http.StatusOK, map[string]any{
		"access_token": result.Token,
		"token_type":   "bearer",
		"user":         result.User,
	})
}
