// Package service implements credit resolution, admission checks, and
// deduction over the injected ledger store.
package service

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"

	creditdomain "github.com/lumilearn/creditcore/internal/credit/domain"
	obsmetrics "github.com/lumilearn/creditcore/internal/observability/metrics"
)

type ServiceParam struct {
	fx.In

	Store   creditdomain.LedgerStore
	Log     *zap.Logger
	Metrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	store   creditdomain.LedgerStore
	log     *zap.Logger
	metrics *obsmetrics.Metrics
}

func NewService(p ServiceParam) creditdomain.Service {
	return &Service{
		store:   p.Store,
		log:     p.Log.Named("credit.service"),
		metrics: p.Metrics,
	}
}

func (s *Service) Resolve(ctx context.Context, userID snowflake.ID) (creditdomain.CreditSource, error) {
	membership, err := s.store.GetUserOrganization(ctx, userID)
	if errors.Is(err, creditdomain.ErrNotMember) {
		balance, err := s.store.GetWalletBalance(ctx, userID)
		if err != nil {
			return nil, err
		}
		return creditdomain.PersonalSource{Balance: balance}, nil
	}
	if err != nil {
		return nil, err
	}

	// Zero-amount check: a consistent read of pool balance and window
	// headroom without any admission question attached.
	check, err := s.store.CheckOrgMemberLimits(ctx, userID, decimal.Zero)
	if err != nil {
		return nil, err
	}

	return creditdomain.OrganizationSource{
		Balance:  check.Pool,
		OrgID:    membership.Org.ID,
		OrgName:  membership.Org.Name,
		MemberID: membership.Member.ID,
		Role:     membership.Member.Role,
		Limits:   check.Limits,
	}, nil
}

func (s *Service) CanSpend(ctx context.Context, userID snowflake.ID, amount decimal.Decimal) (creditdomain.SpendCheck, error) {
	if !amount.IsPositive() {
		return creditdomain.SpendCheck{}, creditdomain.ErrInvalidAmount
	}

	check, err := s.store.CheckOrgMemberLimits(ctx, userID, amount)
	switch {
	case err == nil:
		if check.Allowed {
			return creditdomain.SpendCheck{Allowed: true, Source: creditdomain.SourceOrganization}, nil
		}
		// Member but denied: propagate verbatim, never fall back to the
		// personal wallet.
		s.metrics.RecordSpendDenial(ctx, string(check.Reason))
		return creditdomain.SpendCheck{
			Allowed: false,
			Reason:  check.Reason,
			ResetAt: check.ResetAt,
			Source:  creditdomain.SourceOrganization,
		}, nil
	case errors.Is(err, creditdomain.ErrNotMember):
		return s.checkWallet(ctx, userID, amount)
	default:
		// Limit check infrastructure failure: degrade to the wallet-only
		// check rather than granting unlimited spend.
		s.log.Warn("org limit check unavailable, degrading to wallet check",
			zap.String("user_id", userID.String()), zap.Error(err))
		return s.checkWallet(ctx, userID, amount)
	}
}

func (s *Service) checkWallet(ctx context.Context, userID snowflake.ID, amount decimal.Decimal) (creditdomain.SpendCheck, error) {
	balance, err := s.store.GetWalletBalance(ctx, userID)
	if err != nil {
		return creditdomain.SpendCheck{}, err
	}
	if balance.GreaterThanOrEqual(amount) {
		return creditdomain.SpendCheck{Allowed: true, Source: creditdomain.SourcePersonal}, nil
	}
	s.metrics.RecordSpendDenial(ctx, string(creditdomain.ReasonInsufficientCredits))
	return creditdomain.SpendCheck{
		Allowed: false,
		Reason:  creditdomain.ReasonInsufficientCredits,
		Source:  creditdomain.SourcePersonal,
	}, nil
}

func (s *Service) Deduct(ctx context.Context, userID snowflake.ID, amount decimal.Decimal, description string) (creditdomain.DeductResult, error) {
	if !amount.IsPositive() {
		return creditdomain.DeductResult{}, creditdomain.ErrInvalidAmount
	}

	remaining, err := s.store.RecordOrgMemberUsage(ctx, userID, amount, description)
	if err == nil {
		s.metrics.RecordDeduction(ctx, string(creditdomain.SourceOrganization))
		return creditdomain.DeductResult{
			Success:   true,
			Remaining: remaining,
			Source:    creditdomain.SourceOrganization,
		}, nil
	}

	if errors.Is(err, creditdomain.ErrNotMember) {
		return s.deductWallet(ctx, userID, amount, description)
	}

	var limitErr *creditdomain.LimitExceededError
	if errors.As(err, &limitErr) {
		// Member but over a limit or pool: fail outright. Falling back to
		// the personal wallet here would silently spend private funds.
		s.metrics.RecordSpendDenial(ctx, string(limitErr.Reason))
		result := creditdomain.DeductResult{
			Success: false,
			Reason:  limitErr.Reason,
			Source:  creditdomain.SourceOrganization,
		}
		if !limitErr.ResetAt.IsZero() {
			resetAt := limitErr.ResetAt
			result.ResetAt = &resetAt
		}
		return result, nil
	}

	return creditdomain.DeductResult{}, err
}

func (s *Service) deductWallet(ctx context.Context, userID snowflake.ID, amount decimal.Decimal, description string) (creditdomain.DeductResult, error) {
	remaining, err := s.store.DeductWallet(ctx, userID, amount, description)
	if err == nil {
		s.metrics.RecordDeduction(ctx, string(creditdomain.SourcePersonal))
		return creditdomain.DeductResult{
			Success:   true,
			Remaining: remaining,
			Source:    creditdomain.SourcePersonal,
		}, nil
	}
	if errors.Is(err, creditdomain.ErrInsufficientCredits) {
		s.metrics.RecordSpendDenial(ctx, string(creditdomain.ReasonInsufficientCredits))
		return creditdomain.DeductResult{
			Success: false,
			Reason:  creditdomain.ReasonInsufficientCredits,
			Source:  creditdomain.SourcePersonal,
		}, nil
	}
	return creditdomain.DeductResult{}, err
}

// Settle charges a spend whose provider cost is already sunk. The routing is
// the same as Deduct, but a shortfall is recorded anyway rather than
// withholding an answer the user already received.
func (s *Service) Settle(ctx context.Context, userID snowflake.ID, amount decimal.Decimal, description string) (creditdomain.DeductResult, error) {
	if !amount.IsPositive() {
		return creditdomain.DeductResult{}, creditdomain.ErrInvalidAmount
	}

	remaining, err := s.store.RecordOrgMemberUsage(ctx, userID, amount, description)
	if err == nil {
		s.metrics.RecordDeduction(ctx, string(creditdomain.SourceOrganization))
		return creditdomain.DeductResult{
			Success:   true,
			Remaining: remaining,
			Source:    creditdomain.SourceOrganization,
		}, nil
	}

	if errors.Is(err, creditdomain.ErrNotMember) {
		return s.settleWallet(ctx, userID, amount, description)
	}

	var limitErr *creditdomain.LimitExceededError
	if errors.As(err, &limitErr) {
		// Admission said yes, a concurrent spend won the race. Record the
		// overdraft against the organization, never the personal wallet.
		remaining, err := s.store.SettleOrgMemberUsage(ctx, userID, amount, description)
		if err != nil {
			return creditdomain.DeductResult{}, err
		}
		s.metrics.RecordDeduction(ctx, string(creditdomain.SourceOrganization))
		s.metrics.RecordSettlementOverdraft(ctx)
		s.log.Warn("organization settlement exceeded limit",
			zap.String("user_id", userID.String()),
			zap.String("reason", string(limitErr.Reason)),
			zap.String("remaining_pool", remaining.String()),
		)
		return creditdomain.DeductResult{
			Success:   true,
			Remaining: remaining,
			Source:    creditdomain.SourceOrganization,
		}, nil
	}

	return creditdomain.DeductResult{}, err
}

func (s *Service) settleWallet(ctx context.Context, userID snowflake.ID, amount decimal.Decimal, description string) (creditdomain.DeductResult, error) {
	remaining, err := s.store.DeductWallet(ctx, userID, amount, description)
	if err == nil {
		s.metrics.RecordDeduction(ctx, string(creditdomain.SourcePersonal))
		return creditdomain.DeductResult{
			Success:   true,
			Remaining: remaining,
			Source:    creditdomain.SourcePersonal,
		}, nil
	}
	if !errors.Is(err, creditdomain.ErrInsufficientCredits) {
		return creditdomain.DeductResult{}, err
	}

	remaining, err = s.store.SettleWallet(ctx, userID, amount, description)
	if err != nil {
		return creditdomain.DeductResult{}, err
	}
	s.metrics.RecordDeduction(ctx, string(creditdomain.SourcePersonal))
	s.metrics.RecordSettlementOverdraft(ctx)
	s.log.Warn("wallet settlement produced negative balance",
		zap.String("user_id", userID.String()),
		zap.String("remaining", remaining.String()),
	)
	return creditdomain.DeductResult{
		Success:   true,
		Remaining: remaining,
		Source:    creditdomain.SourcePersonal,
	}, nil
}
