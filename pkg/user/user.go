// Package user implements the user entity: the stable identity record the
// credit ledger mutates and the auth flows authenticate against. Signup,
// login, and verification-code delivery are implemented as the minimal
// contract the task endpoints need to put a real user_id behind each
// request.
package user

import (
	"time"

	"github.com/google/uuid"
)

// User is the stable identity record. Balance fields are mutated only by
// the Credit Ledger; everything else is mutated by the auth flows.
type User struct {
	ID                 uuid.UUID
	Email              string
	PasswordHash       string
	Activated          bool
	CurrentCredits     int
	TotalCreditsUsed   int
	CurrentPlanID      *string
	PlanRenewAt        *time.Time
	SignupBonusGranted bool
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Info is the public projection of a User returned in API responses.
type Info struct {
	ID               uuid.UUID `json:"id"`
	Email            string    `json:"email"`
	CurrentCredits   int       `json:"current_credits"`
	TotalCreditsUsed int       `json:"total_credits_used"`
	Activated        bool      `json:"activated"`
}

// ToInfo projects u to its public response shape.
func (u User) ToInfo() Info {
	return Info{
		ID:               u.ID,
		Email:            u.Email,
		CurrentCredits:   u.CurrentCredits,
		TotalCreditsUsed: u.TotalCreditsUsed,
		Activated:        u.Activated,
	}
}

// signupBonusCredits is granted once to every new signup, independent of
// the whitelist top-up credit.ApplyWhitelistOnLogin performs on login.
const signupBonusCredits = 10
