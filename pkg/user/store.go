package user

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/formy/core/internal/apperr"
	"github.com/formy/core/internal/db"
)

// Store provides database operations for users.
type Store struct {
	dbtx db.DBTX
}

// NewStore creates a user Store backed by the given database connection.
func NewStore(dbtx db.DBTX) *Store {
	return &Store{dbtx: dbtx}
}

const userColumns = `id, email, password_hash, activated, current_credits,
	total_credits_used, current_plan_id, plan_renew_at, signup_bonus_granted,
	created_at, updated_at`

func scanUserRow(row pgx.Row) (User, error) {
	var u User
	var passwordHash *string
	err := row.Scan(
		&u.ID, &u.Email, &passwordHash, &u.Activated, &u.CurrentCredits,
		&u.TotalCreditsUsed, &u.CurrentPlanID, &u.PlanRenewAt, &u.SignupBonusGranted,
		&u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return User{}, err
	}
	if passwordHash != nil {
		u.PasswordHash = *passwordHash
	}
	return u, nil
}

// GetByID returns a single user by ID.
func (s *Store) GetByID(ctx context.Context, id uuid.UUID) (User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	u, err := scanUserRow(s.dbtx.QueryRow(ctx, query, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return User{}, apperr.New(apperr.KindNotFound, "user not found")
		}
		return User{}, fmt.Errorf("getting user: %w", err)
	}
	return u, nil
}

// GetByEmail returns a single user by email (case-insensitive).
func (s *Store) GetByEmail(ctx context.Context, email string) (User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	u, err := scanUserRow(s.dbtx.QueryRow(ctx, query, normalizeEmail(email)))
	if err != nil {
		if err == pgx.ErrNoRows {
			return User{}, apperr.New(apperr.KindNotFound, "user not found")
		}
		return User{}, fmt.Errorf("getting user by email: %w", err)
	}
	return u, nil
}

// CreateParams describes a new user to insert.
type CreateParams struct {
	Email          string
	PasswordHash   string // empty when the user signs up via email-code login only
	CurrentCredits int
}

// Create inserts a new user row, lowercasing the email on write. A
// duplicate email is surfaced as KindConflict rather than a raw
// constraint-violation error.
func (s *Store) Create(ctx context.Context, p CreateParams) (User, error) {
	var passwordHash *string
	if p.PasswordHash != "" {
		passwordHash = &p.PasswordHash
	}

	const query = `
		INSERT INTO users (email, password_hash, activated, current_credits, total_credits_used, signup_bonus_granted)
		VALUES ($1, $2, true, $3, 0, false)
		RETURNING ` + userColumns

	u, err := scanUserRow(s.dbtx.QueryRow(ctx, query, normalizeEmail(p.Email), passwordHash, p.CurrentCredits))
	if err != nil {
		if isUniqueViolation(err) {
			return User{}, apperr.New(apperr.KindConflict, "email already registered")
		}
		return User{}, fmt.Errorf("creating user: %w", err)
	}
	return u, nil
}

// GetOrCreateByEmail returns the user for email, creating one with the
// signup bonus if none exists yet — the path used by the email-code login
// flow, where signup and first login are the same action.
func (s *Store) GetOrCreateByEmail(ctx context.Context, email string) (User, bool, error) {
	existing, err := s.GetByEmail(ctx, email)
	if err == nil {
		return existing, false, nil
	}
	if !apperr.Is(err, apperr.KindNotFound) {
		return User{}, false, err
	}

	created, err := s.Create(ctx, CreateParams{Email: email, CurrentCredits: signupBonusCredits})
	if err != nil {
		return User{}, false, err
	}
	return created, true, nil
}

// SetPasswordHash updates a user's password hash.
func (s *Store) SetPasswordHash(ctx context.Context, id uuid.UUID, hash string) error {
	const query = `UPDATE users SET password_hash = $2, updated_at = now() WHERE id = $1`
	tag, err := s.dbtx.Exec(ctx, query, id, hash)
	if err != nil {
		return fmt.Errorf("setting password hash: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.New(apperr.KindNotFound, "user not found")
	}
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
