// Package repository implements the atomic stored operations over gorm.
// Every mutation is a single transaction with conditional updates; callers
// never orchestrate read-then-write across round trips.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/lumilearn/creditcore/internal/clock"
	creditdomain "github.com/lumilearn/creditcore/internal/credit/domain"
	"github.com/lumilearn/creditcore/pkg/db"
)

type StoreParam struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
}

type ledgerStore struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
}

func NewLedgerStore(p StoreParam) creditdomain.LedgerStore {
	return &ledgerStore{
		db:    p.DB,
		log:   p.Log.Named("credit.store"),
		genID: p.GenID,
		clock: p.Clock,
	}
}

func (s *ledgerStore) GetUserOrganization(ctx context.Context, userID snowflake.ID) (creditdomain.Membership, error) {
	var membership creditdomain.Membership

	err := s.db.WithContext(ctx).
		Where("user_id = ? AND status = ?", userID, creditdomain.MemberStatusActive).
		Order("created_at DESC").
		First(&membership.Member).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return creditdomain.Membership{}, creditdomain.ErrNotMember
	}
	if err != nil {
		return creditdomain.Membership{}, err
	}

	if err := s.db.WithContext(ctx).
		Where("id = ?", membership.Member.OrgID).
		First(&membership.Org).Error; err != nil {
		return creditdomain.Membership{}, err
	}
	return membership, nil
}

func (s *ledgerStore) CheckOrgMemberLimits(ctx context.Context, userID snowflake.ID, amount decimal.Decimal) (creditdomain.OrgLimitCheck, error) {
	var check creditdomain.OrgLimitCheck

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		membership, err := findActiveMembership(ctx, tx, userID)
		if err != nil {
			return err
		}

		now := s.clock.Now()
		check.Pool = membership.Org.CreditBalance
		check.Limits, err = s.windowStatuses(ctx, tx, membership, now)
		if err != nil {
			return err
		}

		if membership.Member.CreditRemaining().LessThan(amount) {
			check.Reason = creditdomain.ReasonAllocationExhausted
			return nil
		}
		if membership.Org.CreditBalance.LessThan(amount) {
			check.Reason = creditdomain.ReasonOrgCreditsExhausted
			return nil
		}
		for _, status := range check.Limits {
			if status.Used.Add(amount).GreaterThan(status.Limit) {
				resetAt := status.ResetAt
				check.Reason = creditdomain.WindowReason(status.Window)
				check.ResetAt = &resetAt
				return nil
			}
		}

		check.Allowed = true
		return nil
	})
	if err != nil {
		return creditdomain.OrgLimitCheck{}, err
	}
	return check, nil
}

func (s *ledgerStore) RecordOrgMemberUsage(ctx context.Context, userID snowflake.ID, amount decimal.Decimal, description string) (decimal.Decimal, error) {
	var remaining decimal.Decimal

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		membership, err := findActiveMembership(ctx, tx, userID)
		if err != nil {
			return err
		}
		now := s.clock.Now()

		// First write: takes the member row lock, so concurrent spends for
		// the same member serialize here and the window sums below stay
		// consistent.
		res := tx.Exec(
			`UPDATE org_members
			 SET credit_used = credit_used + ?, updated_at = ?
			 WHERE id = ? AND credit_used + ? <= credit_allocated`,
			amount, now, membership.Member.ID, amount,
		)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return &creditdomain.LimitExceededError{Reason: creditdomain.ReasonAllocationExhausted}
		}

		res = tx.Exec(
			`UPDATE organizations
			 SET credit_balance = credit_balance - ?, updated_at = ?
			 WHERE id = ? AND credit_balance >= ?`,
			amount, now, membership.Org.ID, amount,
		)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return &creditdomain.LimitExceededError{Reason: creditdomain.ReasonOrgCreditsExhausted}
		}

		settings := membership.Org.Settings.Data()
		for _, window := range creditdomain.Windows {
			limit := settings.Limit(window)
			if limit == nil {
				continue
			}
			used, err := s.sumWindowUsage(ctx, tx, membership.Member.ID, creditdomain.WindowStart(window, now))
			if err != nil {
				return err
			}
			if used.Add(amount).GreaterThan(*limit) {
				return &creditdomain.LimitExceededError{
					Reason:  creditdomain.WindowReason(window),
					ResetAt: creditdomain.WindowReset(window, now),
				}
			}
		}

		memberID := membership.Member.ID
		orgID := membership.Org.ID
		if err := tx.Create(&creditdomain.UsageTransaction{
			ID:          s.genID.Generate(),
			UserID:      userID,
			MemberID:    &memberID,
			OrgID:       &orgID,
			Amount:      amount.Neg(),
			Type:        creditdomain.TransactionTypeUsage,
			Description: description,
			CreatedAt:   now,
		}).Error; err != nil {
			return err
		}

		return tx.Raw(
			`SELECT credit_balance FROM organizations WHERE id = ?`, membership.Org.ID,
		).Scan(&remaining).Error
	})
	if err != nil {
		return decimal.Zero, err
	}
	return remaining, nil
}

func (s *ledgerStore) SettleOrgMemberUsage(ctx context.Context, userID snowflake.ID, amount decimal.Decimal, description string) (decimal.Decimal, error) {
	var remaining decimal.Decimal

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		membership, err := findActiveMembership(ctx, tx, userID)
		if err != nil {
			return err
		}
		now := s.clock.Now()

		if err := tx.Exec(
			`UPDATE org_members
			 SET credit_used = credit_used + ?, updated_at = ?
			 WHERE id = ?`,
			amount, now, membership.Member.ID,
		).Error; err != nil {
			return err
		}
		if err := tx.Exec(
			`UPDATE organizations
			 SET credit_balance = credit_balance - ?, updated_at = ?
			 WHERE id = ?`,
			amount, now, membership.Org.ID,
		).Error; err != nil {
			return err
		}

		memberID := membership.Member.ID
		orgID := membership.Org.ID
		if err := tx.Create(&creditdomain.UsageTransaction{
			ID:          s.genID.Generate(),
			UserID:      userID,
			MemberID:    &memberID,
			OrgID:       &orgID,
			Amount:      amount.Neg(),
			Type:        creditdomain.TransactionTypeUsage,
			Description: description,
			CreatedAt:   now,
		}).Error; err != nil {
			return err
		}

		return tx.Raw(
			`SELECT credit_balance FROM organizations WHERE id = ?`, membership.Org.ID,
		).Scan(&remaining).Error
	})
	if err != nil {
		return decimal.Zero, err
	}
	return remaining, nil
}

func (s *ledgerStore) GetWalletBalance(ctx context.Context, userID snowflake.ID) (decimal.Decimal, error) {
	var wallet creditdomain.Wallet
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&wallet).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, err
	}
	return wallet.Balance, nil
}

func (s *ledgerStore) DeductWallet(ctx context.Context, userID snowflake.ID, amount decimal.Decimal, description string) (decimal.Decimal, error) {
	var remaining decimal.Decimal

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Exec(
			`UPDATE wallets
			 SET balance = balance - ?, updated_at = ?
			 WHERE user_id = ? AND balance >= ?`,
			amount, s.clock.Now(), userID, amount,
		)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return creditdomain.ErrInsufficientCredits
		}
		return s.appendPersonalSpend(ctx, tx, userID, amount, description, &remaining)
	})
	if err != nil {
		return decimal.Zero, err
	}
	return remaining, nil
}

func (s *ledgerStore) SettleWallet(ctx context.Context, userID snowflake.ID, amount decimal.Decimal, description string) (decimal.Decimal, error) {
	var remaining decimal.Decimal

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.clock.Now()
		res := tx.Exec(
			`UPDATE wallets
			 SET balance = balance - ?, updated_at = ?
			 WHERE user_id = ?`,
			amount, now, userID,
		)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// No wallet row yet: the spend still has to be recorded.
			err := tx.Create(&creditdomain.Wallet{
				ID:        s.genID.Generate(),
				UserID:    userID,
				Balance:   amount.Neg(),
				CreatedAt: now,
				UpdatedAt: now,
			}).Error
			if err != nil {
				if !db.IsDuplicateKeyErr(err) {
					return err
				}
				// Lost the create race; the row exists now.
				if err := tx.Exec(
					`UPDATE wallets
					 SET balance = balance - ?, updated_at = ?
					 WHERE user_id = ?`,
					amount, now, userID,
				).Error; err != nil {
					return err
				}
			}
		}
		return s.appendPersonalSpend(ctx, tx, userID, amount, description, &remaining)
	})
	if err != nil {
		return decimal.Zero, err
	}
	return remaining, nil
}

func (s *ledgerStore) appendPersonalSpend(ctx context.Context, tx *gorm.DB, userID snowflake.ID, amount decimal.Decimal, description string, remaining *decimal.Decimal) error {
	if err := tx.Create(&creditdomain.UsageTransaction{
		ID:          s.genID.Generate(),
		UserID:      userID,
		Amount:      amount.Neg(),
		Type:        creditdomain.TransactionTypeUsage,
		Description: description,
		CreatedAt:   s.clock.Now(),
	}).Error; err != nil {
		return err
	}
	return tx.Raw(
		`SELECT balance FROM wallets WHERE user_id = ?`, userID,
	).Scan(remaining).Error
}

func (s *ledgerStore) windowStatuses(ctx context.Context, tx *gorm.DB, membership creditdomain.Membership, now time.Time) ([]creditdomain.WindowLimitStatus, error) {
	settings := membership.Org.Settings.Data()

	var statuses []creditdomain.WindowLimitStatus
	for _, window := range creditdomain.Windows {
		limit := settings.Limit(window)
		if limit == nil {
			continue
		}
		used, err := s.sumWindowUsage(ctx, tx, membership.Member.ID, creditdomain.WindowStart(window, now))
		if err != nil {
			return nil, err
		}
		remaining := limit.Sub(used)
		if remaining.IsNegative() {
			remaining = decimal.Zero
		}
		statuses = append(statuses, creditdomain.WindowLimitStatus{
			Window:    window,
			Limit:     *limit,
			Used:      used,
			Remaining: remaining,
			ResetAt:   creditdomain.WindowReset(window, now),
		})
	}
	return statuses, nil
}

func (s *ledgerStore) sumWindowUsage(ctx context.Context, tx *gorm.DB, memberID snowflake.ID, since time.Time) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := tx.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(-amount), 0)
		 FROM usage_transactions
		 WHERE member_id = ? AND type = ? AND created_at >= ?`,
		memberID, creditdomain.TransactionTypeUsage, since,
	).Scan(&total).Error
	if err != nil {
		return decimal.Zero, err
	}
	return total, nil
}

func findActiveMembership(ctx context.Context, tx *gorm.DB, userID snowflake.ID) (creditdomain.Membership, error) {
	var membership creditdomain.Membership

	err := tx.WithContext(ctx).
		Where("user_id = ? AND status = ?", userID, creditdomain.MemberStatusActive).
		Order("created_at DESC").
		First(&membership.Member).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return creditdomain.Membership{}, creditdomain.ErrNotMember
	}
	if err != nil {
		return creditdomain.Membership{}, err
	}

	if err := tx.WithContext(ctx).
		Where("id = ?", membership.Member.OrgID).
		First(&membership.Org).Error; err != nil {
		return creditdomain.Membership{}, err
	}
	return membership, nil
}
