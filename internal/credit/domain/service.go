package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// Reason is a machine-readable denial cause surfaced to callers.
type Reason string

const (
	ReasonInsufficientCredits  Reason = "insufficient_credits"
	ReasonOrgCreditsExhausted  Reason = "org_credits_exhausted"
	ReasonAllocationExhausted  Reason = "allocation_exhausted"
	ReasonDailyLimitExceeded   Reason = "daily_limit_exceeded"
	ReasonWeeklyLimitExceeded  Reason = "weekly_limit_exceeded"
	ReasonMonthlyLimitExceeded Reason = "monthly_limit_exceeded"
)

// WindowReason maps a window to its denial reason.
func WindowReason(w Window) Reason {
	switch w {
	case WindowWeekly:
		return ReasonWeeklyLimitExceeded
	case WindowMonthly:
		return ReasonMonthlyLimitExceeded
	default:
		return ReasonDailyLimitExceeded
	}
}

var (
	// ErrNotMember is a routing signal, not a failure: it sends the spend
	// path to the personal wallet and is never surfaced to end users.
	ErrNotMember = errors.New("not_member")

	ErrInsufficientCredits = errors.New("insufficient_credits")
	ErrWalletNotFound      = errors.New("wallet_not_found")
	ErrInvalidAmount       = errors.New("invalid_amount")
)

// LimitExceededError is an organization-side denial. ResetAt is zero for the
// pool and allocation reasons, which are not time-bounded.
type LimitExceededError struct {
	Reason  Reason
	ResetAt time.Time
}

func (e *LimitExceededError) Error() string { return string(e.Reason) }

// SpendCheck is the read-only admission answer.
type SpendCheck struct {
	Allowed bool       `json:"allowed"`
	Reason  Reason     `json:"reason,omitempty"`
	ResetAt *time.Time `json:"reset_at,omitempty"`
	Source  SourceKind `json:"source"`
}

// DeductResult reports a settled (or refused) deduction.
type DeductResult struct {
	Success   bool            `json:"success"`
	Remaining decimal.Decimal `json:"remaining"`
	Source    SourceKind      `json:"source,omitempty"`
	Reason    Reason          `json:"reason,omitempty"`
	ResetAt   *time.Time      `json:"reset_at,omitempty"`
}

// Service is the credit accounting and admission-control core.
type Service interface {
	// Resolve determines the authoritative spend target for a user.
	Resolve(ctx context.Context, userID snowflake.ID) (CreditSource, error)

	// CanSpend answers allow/deny before any provider cost is incurred.
	// It never mutates balances.
	CanSpend(ctx context.Context, userID snowflake.ID, amount decimal.Decimal) (SpendCheck, error)

	// Deduct settles a spend with organization-first, personal-fallback
	// semantics. Fallback happens only when the user is not a member,
	// never when a member is over a limit.
	Deduct(ctx context.Context, userID snowflake.ID, amount decimal.Decimal, description string) (DeductResult, error)

	// Settle is Deduct for spends whose provider cost is already sunk: a
	// personal shortfall is recorded anyway, allowing a negative balance,
	// and flagged as a monitored anomaly.
	Settle(ctx context.Context, userID snowflake.ID, amount decimal.Decimal, description string) (DeductResult, error)
}
