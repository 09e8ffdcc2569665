// Package credit implements the credit ledger: atomic balance
// check-and-debit, pure credit, idempotent refund, monthly plan renewal,
// and whitelist top-up on login. The relational store is the sole
// authoritative balance, per the single-authoritative-store design note —
// every mutation goes through a conditional UPDATE against Postgres.
package credit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/formy/core/internal/apperr"
	"github.com/formy/core/internal/db"
)

// DebitResult reports the outcome of a check_and_debit call.
type DebitResult struct {
	OK       bool
	Required int
	Current  int
	Deficit  int
}

// Plan describes the monthly renewal terms bound to a user's current_plan_id.
type Plan struct {
	ID             string
	MonthlyCredits int
}

// Ledger provides the credit ledger operations. Every mutation is a single
// UPDATE with a guard clause, checked via RowsAffected rather than a
// separate SELECT-then-UPDATE round trip, so concurrent debits against the
// same balance cannot overdraw it.
type Ledger struct {
	pool db.DBTX
	// begin, when non-nil, starts a transaction for operations (like
	// refund) that must update two things atomically. Production wiring
	// passes the pgxpool.Pool's Begin method.
	begin func(ctx context.Context) (pgx.Tx, error)

	// debitedTotal/refundedTotal are the domain counters registered in
	// internal/telemetry.Registry. Both are nil-safe: a Ledger built
	// without metrics just skips the increment.
	debitedTotal  prometheus.Counter
	refundedTotal prometheus.Counter
}

// NewLedger creates a Ledger backed by dbtx for simple operations and by
// beginTx for operations needing a transaction.
func NewLedger(dbtx db.DBTX, beginTx func(ctx context.Context) (pgx.Tx, error)) *Ledger {
	return &Ledger{pool: dbtx, begin: beginTx}
}

// WithMetrics attaches the debited/refunded counters and returns l for
// chaining. Called once at wiring time in internal/app.
func (l *Ledger) WithMetrics(debitedTotal, refundedTotal prometheus.Counter) *Ledger {
	l.debitedTotal = debitedTotal
	l.refundedTotal = refundedTotal
	return l
}

func addTo(c prometheus.Counter, amount int) {
	if c != nil {
		c.Add(float64(amount))
	}
}

// CheckAndDebit atomically decrements current_credits and increments
// total_credits_used, or reports insufficient without changing state.
func (l *Ledger) CheckAndDebit(ctx context.Context, userID uuid.UUID, amount int) (DebitResult, error) {
	if amount <= 0 {
		return DebitResult{}, apperr.New(apperr.KindInvalidInput, "debit amount must be positive")
	}

	const query = `
		UPDATE users
		SET current_credits = current_credits - $2,
		    total_credits_used = total_credits_used + $2
		WHERE id = $1 AND current_credits >= $2`

	tag, err := l.pool.Exec(ctx, query, userID, amount)
	if err != nil {
		return DebitResult{}, fmt.Errorf("debiting credits: %w", err)
	}

	if tag.RowsAffected() > 0 {
		addTo(l.debitedTotal, amount)
		return DebitResult{OK: true, Required: amount}, nil
	}

	current, err := l.currentCredits(ctx, userID)
	if err != nil {
		return DebitResult{}, err
	}

	deficit := amount - current
	if deficit < 0 {
		deficit = 0
	}
	return DebitResult{OK: false, Required: amount, Current: current, Deficit: deficit}, nil
}

// Credit performs a pure balance addition; total_credits_used is untouched.
func (l *Ledger) Credit(ctx context.Context, userID uuid.UUID, amount int) error {
	if amount <= 0 {
		return apperr.New(apperr.KindInvalidInput, "credit amount must be positive")
	}

	const query = `UPDATE users SET current_credits = current_credits + $2 WHERE id = $1`
	tag, err := l.pool.Exec(ctx, query, userID, amount)
	if err != nil {
		return fmt.Errorf("crediting balance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.New(apperr.KindNotFound, "user not found")
	}
	return nil
}

// RefundIfNotRefunded credits amount back to userID for taskID, but only
// once: the task row's refunded marker is compared-and-set inside the same
// transaction that adds to the balance, so calling this twice for the same
// task credits at most once.
func (l *Ledger) RefundIfNotRefunded(ctx context.Context, taskID string, userID uuid.UUID, amount int) error {
	tx, err := l.begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning refund transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	const markRefunded = `UPDATE tasks SET refunded = true WHERE task_id = $1 AND refunded = false`
	tag, err := tx.Exec(ctx, markRefunded, taskID)
	if err != nil {
		return fmt.Errorf("marking task refunded: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Already refunded (or task missing); nothing more to do.
		return tx.Commit(ctx)
	}

	const credit = `UPDATE users SET current_credits = current_credits + $2 WHERE id = $1`
	if _, err := tx.Exec(ctx, credit, userID, amount); err != nil {
		return fmt.Errorf("crediting refund: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}
	addTo(l.refundedTotal, amount)
	return nil
}

// RenewIfDue resets current_credits to plan.MonthlyCredits and advances
// plan_renew_at by one calendar month, if the renewal is due. Safe to call
// repeatedly: the WHERE clause makes it a no-op once the renewal has moved
// into the future.
func (l *Ledger) RenewIfDue(ctx context.Context, userID uuid.UUID, plan Plan) error {
	const query = `
		UPDATE users
		SET current_credits = $2,
		    plan_renew_at = plan_renew_at + interval '1 month'
		WHERE id = $1 AND plan_renew_at <= now()`

	if _, err := l.pool.Exec(ctx, query, userID, plan.MonthlyCredits); err != nil {
		return fmt.Errorf("renewing plan: %w", err)
	}
	return nil
}

// ApplyWhitelistOnLogin tops current_credits up to floor if email is
// whitelisted and the user hasn't already received the one-shot bonus.
// signup_bonus_granted makes the top-up idempotent across repeated logins:
// a user who has since spent below the floor is not re-topped-up.
func (l *Ledger) ApplyWhitelistOnLogin(ctx context.Context, userID uuid.UUID, email string, whitelist map[string]int) error {
	floor, whitelisted := whitelist[email]
	if !whitelisted {
		return nil
	}

	const query = `
		UPDATE users
		SET current_credits = $2, signup_bonus_granted = true
		WHERE id = $1 AND signup_bonus_granted = false AND current_credits < $2`

	if _, err := l.pool.Exec(ctx, query, userID, floor); err != nil {
		return fmt.Errorf("applying whitelist top-up: %w", err)
	}
	return nil
}

func (l *Ledger) currentCredits(ctx context.Context, userID uuid.UUID) (int, error) {
	const query = `SELECT current_credits FROM users WHERE id = $1`
	var current int
	if err := l.pool.QueryRow(ctx, query, userID).Scan(&current); err != nil {
		return 0, fmt.Errorf("reading current credits: %w", err)
	}
	return current, nil
}

// RenewalCandidate is a thin row used by the renewal loop to find users
// whose plan_renew_at has passed.
type RenewalCandidate struct {
	UserID         uuid.UUID
	PlanID         string
	MonthlyCredits int
}

// DueForRenewal returns every user whose plan_renew_at has passed, joined
// against the plan table for its monthly_credits. Plans are a small, mostly
// static table, so this is a plain join rather than a cached lookup.
func (l *Ledger) DueForRenewal(ctx context.Context, now time.Time) ([]RenewalCandidate, error) {
	const query = `
		SELECT u.id, p.id, p.monthly_credits
		FROM users u
		JOIN plans p ON p.id = u.current_plan_id
		WHERE u.plan_renew_at IS NOT NULL AND u.plan_renew_at <= $1`

	rows, err := l.pool.Query(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("listing renewal candidates: %w", err)
	}
	defer rows.Close()

	var out []RenewalCandidate
	for rows.Next() {
		var c RenewalCandidate
		if err := rows.Scan(&c.UserID, &c.PlanID, &c.MonthlyCredits); err != nil {
			return nil, fmt.Errorf("scanning renewal candidate: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating renewal candidates: %w", err)
	}
	return out, nil
}
