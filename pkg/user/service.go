package user

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/formy/core/internal/apperr"
	"github.com/formy/core/internal/auth"
	"github.com/formy/core/internal/db"
	"github.com/formy/core/pkg/credit"
	"github.com/formy/core/pkg/verification"
)

const minPasswordLength = 6

// Service implements the auth/user business logic: the /auth endpoints
// plus the whitelist top-up applied on every login.
type Service struct {
	store        *Store
	ledger       *credit.Ledger
	verification *verification.Store
	sessions     *auth.SessionManager
	logger       *slog.Logger
	whitelist    map[string]int // email -> credit floor
}

// NewService creates a user Service.
func NewService(dbtx db.DBTX, ledger *credit.Ledger, verification *verification.Store, sessions *auth.SessionManager, logger *slog.Logger, whitelist map[string]int) *Service {
	return &Service{
		store:        NewStore(dbtx),
		ledger:       ledger,
		verification: verification,
		sessions:     sessions,
		logger:       logger,
		whitelist:    whitelist,
	}
}

// SendCode generates and delivers a 6-digit verification code for email.
// Delivery is a log line standing in for the outbound mail provider; the
// code's storage, TTL, and one-shot semantics are real.
func (s *Service) SendCode(ctx context.Context, email string) error {
	code, err := s.verification.Generate(ctx, email)
	if err != nil {
		return fmt.Errorf("generating verification code: %w", err)
	}
	s.logger.Info("verification code issued", "email", email, "code", code)
	return nil
}

// AuthResult is the outcome of a successful authentication: a bearer token
// plus the public user projection.
type AuthResult struct {
	Token string
	User  Info
}

// LoginWithCode verifies a 6-digit code and issues a session, creating the
// user (with a signup bonus) on first successful login by that email.
func (s *Service) LoginWithCode(ctx context.Context, email, code string) (AuthResult, error) {
	if err := s.verification.Verify(ctx, email, code); err != nil {
		return AuthResult{}, apperr.WrapCode(apperr.CodeInvalidRequest, "verification code is invalid, expired, or already used", err)
	}

	u, _, err := s.store.GetOrCreateByEmail(ctx, email)
	if err != nil {
		return AuthResult{}, err
	}

	return s.finishLogin(ctx, u)
}

// SignupWithPassword creates a new account with an email+password pair.
func (s *Service) SignupWithPassword(ctx context.Context, email, password string) (AuthResult, error) {
	if len(password) < minPasswordLength {
		return AuthResult{}, apperr.NewCode(apperr.CodeInvalidRequest, fmt.Sprintf("password must be at least %d characters", minPasswordLength))
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return AuthResult{}, fmt.Errorf("hashing password: %w", err)
	}

	u, err := s.store.Create(ctx, CreateParams{Email: email, PasswordHash: string(hash), CurrentCredits: signupBonusCredits})
	if err != nil {
		return AuthResult{}, err
	}

	return s.finishLogin(ctx, u)
}

// LoginWithPassword authenticates an email+password pair.
func (s *Service) LoginWithPassword(ctx context.Context, email, password string) (AuthResult, error) {
	u, err := s.store.GetByEmail(ctx, email)
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			return AuthResult{}, apperr.NewCode(apperr.CodeInvalidRequest, "invalid email or password")
		}
		return AuthResult{}, err
	}

	if u.PasswordHash == "" {
		return AuthResult{}, apperr.NewCode(apperr.CodeInvalidRequest, "invalid email or password")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return AuthResult{}, apperr.NewCode(apperr.CodeInvalidRequest, "invalid email or password")
	}

	return s.finishLogin(ctx, u)
}

// Me returns the public projection of a user by ID, for GET /auth/me.
func (s *Service) Me(ctx context.Context, id string) (Info, error) {
	parsed, err := parseUUID(id)
	if err != nil {
		return Info{}, apperr.NewCode(apperr.CodeUnauthenticated, "invalid session subject")
	}
	u, err := s.store.GetByID(ctx, parsed)
	if err != nil {
		return Info{}, err
	}
	return u.ToInfo(), nil
}

// finishLogin applies the whitelist top-up, issues a bearer token, and
// re-reads the user so the response reflects any top-up just applied.
func (s *Service) finishLogin(ctx context.Context, u User) (AuthResult, error) {
	if err := s.ledger.ApplyWhitelistOnLogin(ctx, u.ID, u.Email, s.whitelist); err != nil {
		s.logger.Error("applying whitelist top-up", "error", err, "user_id", u.ID)
	} else if _, whitelisted := s.whitelist[u.Email]; whitelisted {
		refreshed, err := s.store.GetByID(ctx, u.ID)
		if err == nil {
			u = refreshed
		}
	}

	token, err := s.sessions.IssueToken(auth.Claims{Subject: u.ID.String(), Email: u.Email})
	if err != nil {
		return AuthResult{}, fmt.Errorf("issuing session token: %w", err)
	}

	return AuthResult{Token: token, User: u.ToInfo()}, nil
}

func parseUUID(s string) (uuid.UUID, error) {
	return uuid.Parse(s)
}
