// Package verification implements the transient VerificationCode store: a
// 6-digit email code kept in Redis with a 10-minute TTL that becomes
// invalid (not absent) on first successful use.
package verification

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix = "verification_code:"
	ttl       = 10 * time.Minute
)

// ErrAlreadyUsed is returned when a verification code has already been
// consumed. Distinct from ErrNotFound so a replayed code is explicitly
// rejected, not reported as missing.
var ErrAlreadyUsed = errors.New("verification: code already used")

// ErrMismatch is returned when the supplied code does not match the stored one.
var ErrMismatch = errors.New("verification: code mismatch")

// ErrNotFound is returned when no code exists for the email (expired or never sent).
var ErrNotFound = errors.New("verification: code not found")

// Store manages verification codes in Redis.
type Store struct {
	rdb *redis.Client
}

// NewStore creates a verification code Store.
func NewStore(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

// Generate creates a new 6-digit code for email, storing it with a fresh TTL
// and an unused marker. A prior unconsumed code for the same email is
// overwritten.
func (s *Store) Generate(ctx context.Context, email string) (string, error) {
	code, err := randomDigits(6)
	if err != nil {
		return "", fmt.Errorf("generating verification code: %w", err)
	}

	key := keyPrefix + email
	if err := s.rdb.HSet(ctx, key, map[string]any{
		"code":       code,
		"used":       "0",
		"created_at": time.Now().UTC().Format(time.RFC3339),
	}).Err(); err != nil {
		return "", fmt.Errorf("storing verification code: %w", err)
	}
	if err := s.rdb.Expire(ctx, key, ttl).Err(); err != nil {
		return "", fmt.Errorf("setting verification code ttl: %w", err)
	}

	return code, nil
}

// Verify checks code against the stored value for email. On success the
// code is marked used (TTL preserved) so a replay of the same code returns
// ErrAlreadyUsed rather than ErrNotFound.
func (s *Store) Verify(ctx context.Context, email, code string) error {
	key := keyPrefix + email

	data, err := s.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("reading verification code: %w", err)
	}
	if len(data) == 0 {
		return ErrNotFound
	}

	if data["used"] == "1" {
		return ErrAlreadyUsed
	}

	if data["code"] != code {
		return ErrMismatch
	}

	if err := s.rdb.HSet(ctx, key, "used", "1").Err(); err != nil {
		return fmt.Errorf("marking verification code used: %w", err)
	}

	return nil
}

func randomDigits(n int) (string, error) {
	digits := make([]byte, n)
	for i := range digits {
		v, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", err
		}
		digits[i] = byte('0' + v.Int64())
	}
	return string(digits), nil
}
