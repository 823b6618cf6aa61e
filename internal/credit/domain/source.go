package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// SourceKind names which balance a spend is attributed to.
type SourceKind string

const (
	SourceOrganization SourceKind = "organization"
	SourcePersonal     SourceKind = "personal"
)

// CreditSource is the resolved spend target for a user: exactly one of
// OrganizationSource or PersonalSource. The sealed method keeps the set
// closed so switches stay exhaustive.
type CreditSource interface {
	Kind() SourceKind
	sealed()
}

// WindowLimitStatus reports one configured window limit for a member.
type WindowLimitStatus struct {
	Window    Window          `json:"window"`
	Limit     decimal.Decimal `json:"limit"`
	Used      decimal.Decimal `json:"used"`
	Remaining decimal.Decimal `json:"remaining"`
	ResetAt   time.Time       `json:"reset_at"`
}

// OrganizationSource attributes spend to an organization membership.
type OrganizationSource struct {
	Balance  decimal.Decimal     `json:"balance"`
	OrgID    snowflake.ID        `json:"org_id"`
	OrgName  string              `json:"org_name"`
	MemberID snowflake.ID        `json:"member_id"`
	Role     MemberRole          `json:"role"`
	Limits   []WindowLimitStatus `json:"limits,omitempty"`
}

func (OrganizationSource) Kind() SourceKind { return SourceOrganization }
func (OrganizationSource) sealed()          {}

// PersonalSource attributes spend to the user's own wallet.
type PersonalSource struct {
	Balance decimal.Decimal `json:"balance"`
}

func (PersonalSource) Kind() SourceKind { return SourcePersonal }
func (PersonalSource) sealed()          {}

// EffectiveBalance reduces a source to the single spendable amount: the wallet
// balance for personal sources, and for organization sources the minimum of
// the pool and every active window's remaining headroom. The member cannot
// spend more than the tightest currently-active constraint allows.
func EffectiveBalance(src CreditSource) decimal.Decimal {
	switch s := src.(type) {
	case OrganizationSource:
		effective := s.Balance
		for _, limit := range s.Limits {
			if limit.Remaining.LessThan(effective) {
				effective = limit.Remaining
			}
		}
		return effective
	case PersonalSource:
		return s.Balance
	default:
		return decimal.Zero
	}
}
