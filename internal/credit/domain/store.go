package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// Membership is the joined active-membership view used by the resolver.
type Membership struct {
	Member OrgMember
	Org    Organization
}

// OrgLimitCheck is the consistent single-read evaluation of pool balance and
// every configured window limit for one requested amount.
type OrgLimitCheck struct {
	Allowed bool
	Reason  Reason
	ResetAt *time.Time
	Pool    decimal.Decimal
	Limits  []WindowLimitStatus
}

// LedgerStore is the set of atomic stored operations the core consumes. Each
// method is a single transaction at the storage layer; the store, not the
// caller, is the arbiter of atomicity. Non-sentinel errors are infrastructure
// failures.
type LedgerStore interface {
	// GetUserOrganization returns the user's active membership, or
	// ErrNotMember when none exists.
	GetUserOrganization(ctx context.Context, userID snowflake.ID) (Membership, error)

	// CheckOrgMemberLimits evaluates pool balance and all configured window
	// limits in one consistent read. Returns ErrNotMember for non-members.
	// Denials are values, never errors.
	CheckOrgMemberLimits(ctx context.Context, userID snowflake.ID, amount decimal.Decimal) (OrgLimitCheck, error)

	// RecordOrgMemberUsage atomically verifies headroom, appends the ledger
	// row, and increments the membership's used credit. Denials surface as
	// ErrNotMember or *LimitExceededError; the returned value is the
	// remaining pool balance.
	RecordOrgMemberUsage(ctx context.Context, userID snowflake.ID, amount decimal.Decimal, description string) (decimal.Decimal, error)

	// SettleOrgMemberUsage records an organization spend unconditionally:
	// the provider cost is already sunk, so the ledger row is appended and
	// the pool decremented even past a limit. ErrNotMember still routes to
	// the wallet. The overdraft is the caller's anomaly to monitor.
	SettleOrgMemberUsage(ctx context.Context, userID snowflake.ID, amount decimal.Decimal, description string) (decimal.Decimal, error)

	// GetWalletBalance reads the personal balance; a missing wallet reads
	// as zero.
	GetWalletBalance(ctx context.Context, userID snowflake.ID) (decimal.Decimal, error)

	// DeductWallet atomically verifies balance >= amount, appends the
	// ledger row, and decrements the balance. ErrInsufficientCredits when
	// the condition fails; the returned value is the remaining balance.
	DeductWallet(ctx context.Context, userID snowflake.ID, amount decimal.Decimal, description string) (decimal.Decimal, error)

	// SettleWallet records a spend unconditionally, permitting a negative
	// balance. Used only after the provider cost is sunk.
	SettleWallet(ctx context.Context, userID snowflake.ID, amount decimal.Decimal, description string) (decimal.Decimal, error)
}
