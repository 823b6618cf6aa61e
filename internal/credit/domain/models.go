// Package domain contains persistence models and contracts for credit accounting.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// MemberRole is the role a user holds inside an organization.
type MemberRole string

const (
	MemberRoleOwner   MemberRole = "owner"
	MemberRoleAdmin   MemberRole = "admin"
	MemberRoleTeacher MemberRole = "teacher"
	MemberRoleStudent MemberRole = "student"
)

// MemberStatus marks whether a membership is the user's active one.
type MemberStatus string

const (
	MemberStatusActive  MemberStatus = "active"
	MemberStatusRemoved MemberStatus = "removed"
)

// TransactionType classifies ledger entries.
type TransactionType string

const (
	TransactionTypePurchase   TransactionType = "purchase"
	TransactionTypeUsage      TransactionType = "usage"
	TransactionTypeBonus      TransactionType = "bonus"
	TransactionTypeAdjustment TransactionType = "adjustment"
)

// Wallet is a user's personal credit balance. It is a cached projection of the
// user's personal ledger rows; the ledger stays authoritative.
type Wallet struct {
	ID        snowflake.ID    `gorm:"primaryKey"`
	UserID    snowflake.ID    `gorm:"not null;uniqueIndex"`
	Balance   decimal.Decimal `gorm:"type:numeric(20,4);not null"`
	CreatedAt time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Wallet) TableName() string { return "wallets" }

// OrgSettings carries optional per-member spending caps in currency units.
type OrgSettings struct {
	DailyLimitPerMember   *decimal.Decimal `json:"daily_limit_per_member,omitempty"`
	WeeklyLimitPerMember  *decimal.Decimal `json:"weekly_limit_per_member,omitempty"`
	MonthlyLimitPerMember *decimal.Decimal `json:"monthly_limit_per_member,omitempty"`
}

// Limit returns the configured cap for a window, if any.
func (s OrgSettings) Limit(w Window) *decimal.Decimal {
	switch w {
	case WindowDaily:
		return s.DailyLimitPerMember
	case WindowWeekly:
		return s.WeeklyLimitPerMember
	case WindowMonthly:
		return s.MonthlyLimitPerMember
	default:
		return nil
	}
}

// Organization holds a shared credit pool and per-member limit settings.
type Organization struct {
	ID            snowflake.ID                    `gorm:"primaryKey"`
	Name          string                          `gorm:"type:text;not null"`
	CreditBalance decimal.Decimal                 `gorm:"type:numeric(20,4);not null"`
	Settings      datatypes.JSONType[OrgSettings] `gorm:"type:jsonb"`
	CreatedAt     time.Time                       `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt     time.Time                       `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Organization) TableName() string { return "organizations" }

// OrgMember links a user to at most one active organization.
type OrgMember struct {
	ID              snowflake.ID    `gorm:"primaryKey"`
	OrgID           snowflake.ID    `gorm:"not null;index"`
	UserID          snowflake.ID    `gorm:"not null;index"`
	Role            MemberRole      `gorm:"type:text;not null"`
	Status          MemberStatus    `gorm:"type:text;not null;index"`
	CreditAllocated decimal.Decimal `gorm:"type:numeric(20,4);not null"`
	CreditUsed      decimal.Decimal `gorm:"type:numeric(20,4);not null"`
	CreatedAt       time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt       time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (OrgMember) TableName() string { return "org_members" }

// CreditRemaining is the member's unspent allocation.
func (m OrgMember) CreditRemaining() decimal.Decimal {
	return m.CreditAllocated.Sub(m.CreditUsed)
}

// UsageTransaction is an immutable, append-only spend/top-up record. Negative
// amounts are spends. MemberID and OrgID are set only for organization-scoped
// rows; personal rows carry the user id alone.
type UsageTransaction struct {
	ID          snowflake.ID      `gorm:"primaryKey"`
	UserID      snowflake.ID      `gorm:"not null;index"`
	MemberID    *snowflake.ID     `gorm:"index"`
	OrgID       *snowflake.ID     `gorm:"index"`
	Amount      decimal.Decimal   `gorm:"type:numeric(20,4);not null"`
	Type        TransactionType   `gorm:"type:text;not null;index"`
	Description string            `gorm:"type:text;not null"`
	Metadata    datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt   time.Time         `gorm:"not null;index;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (UsageTransaction) TableName() string { return "usage_transactions" }
