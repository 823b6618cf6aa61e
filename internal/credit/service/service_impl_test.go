package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	creditdomain "github.com/lumilearn/creditcore/internal/credit/domain"
)

// fakeLedger is an in-memory LedgerStore with the same atomicity contract as
// the real one: conditional mutations under a single lock.
type fakeLedger struct {
	mu sync.Mutex

	isMember       bool
	orgID          snowflake.ID
	orgName        string
	memberID       snowflake.ID
	pool           decimal.Decimal
	allocated      decimal.Decimal
	used           decimal.Decimal
	limits         []creditdomain.WindowLimitStatus
	forcedLimitErr *creditdomain.LimitExceededError
	checkErr       error
	orgSpendCount  int
	walletBalance  decimal.Decimal
	walletSpendLog []decimal.Decimal
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		orgID:    snowflake.ID(1001),
		orgName:  "Riverside Academy",
		memberID: snowflake.ID(2001),
	}
}

func (f *fakeLedger) GetUserOrganization(ctx context.Context, userID snowflake.ID) (creditdomain.Membership, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.isMember {
		return creditdomain.Membership{}, creditdomain.ErrNotMember
	}
	return creditdomain.Membership{
		Member: creditdomain.OrgMember{ID: f.memberID, OrgID: f.orgID, UserID: userID, Role: creditdomain.MemberRoleStudent},
		Org:    creditdomain.Organization{ID: f.orgID, Name: f.orgName, CreditBalance: f.pool},
	}, nil
}

func (f *fakeLedger) CheckOrgMemberLimits(ctx context.Context, userID snowflake.ID, amount decimal.Decimal) (creditdomain.OrgLimitCheck, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.checkErr != nil {
		return creditdomain.OrgLimitCheck{}, f.checkErr
	}
	if !f.isMember {
		return creditdomain.OrgLimitCheck{}, creditdomain.ErrNotMember
	}
	check := creditdomain.OrgLimitCheck{Pool: f.pool, Limits: f.limits}
	switch {
	case f.forcedLimitErr != nil:
		check.Reason = f.forcedLimitErr.Reason
		if !f.forcedLimitErr.ResetAt.IsZero() {
			resetAt := f.forcedLimitErr.ResetAt
			check.ResetAt = &resetAt
		}
	case f.allocated.Sub(f.used).LessThan(amount):
		check.Reason = creditdomain.ReasonAllocationExhausted
	case f.pool.LessThan(amount):
		check.Reason = creditdomain.ReasonOrgCreditsExhausted
	default:
		check.Allowed = true
	}
	return check, nil
}

func (f *fakeLedger) RecordOrgMemberUsage(ctx context.Context, userID snowflake.ID, amount decimal.Decimal, description string) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.isMember {
		return decimal.Zero, creditdomain.ErrNotMember
	}
	if f.forcedLimitErr != nil {
		return decimal.Zero, f.forcedLimitErr
	}
	if f.used.Add(amount).GreaterThan(f.allocated) {
		return decimal.Zero, &creditdomain.LimitExceededError{Reason: creditdomain.ReasonAllocationExhausted}
	}
	if f.pool.LessThan(amount) {
		return decimal.Zero, &creditdomain.LimitExceededError{Reason: creditdomain.ReasonOrgCreditsExhausted}
	}
	f.pool = f.pool.Sub(amount)
	f.used = f.used.Add(amount)
	f.orgSpendCount++
	return f.pool, nil
}

func (f *fakeLedger) SettleOrgMemberUsage(ctx context.Context, userID snowflake.ID, amount decimal.Decimal, description string) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.isMember {
		return decimal.Zero, creditdomain.ErrNotMember
	}
	f.pool = f.pool.Sub(amount)
	f.used = f.used.Add(amount)
	f.orgSpendCount++
	return f.pool, nil
}

func (f *fakeLedger) GetWalletBalance(ctx context.Context, userID snowflake.ID) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.walletBalance, nil
}

func (f *fakeLedger) DeductWallet(ctx context.Context, userID snowflake.ID, amount decimal.Decimal, description string) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.walletBalance.LessThan(amount) {
		return decimal.Zero, creditdomain.ErrInsufficientCredits
	}
	f.walletBalance = f.walletBalance.Sub(amount)
	f.walletSpendLog = append(f.walletSpendLog, amount)
	return f.walletBalance, nil
}

func (f *fakeLedger) SettleWallet(ctx context.Context, userID snowflake.ID, amount decimal.Decimal, description string) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.walletBalance = f.walletBalance.Sub(amount)
	f.walletSpendLog = append(f.walletSpendLog, amount)
	return f.walletBalance, nil
}

func newTestService(store creditdomain.LedgerStore) creditdomain.Service {
	return NewService(ServiceParam{Store: store, Log: zap.NewNop()})
}

func TestResolveNonMemberIsPersonal(t *testing.T) {
	ledger := newFakeLedger()
	ledger.walletBalance = decimal.RequireFromString("3.00")
	svc := newTestService(ledger)

	source, err := svc.Resolve(context.Background(), snowflake.ID(7))
	require.NoError(t, err)

	personal, ok := source.(creditdomain.PersonalSource)
	require.True(t, ok)
	assert.True(t, decimal.RequireFromString("3.00").Equal(personal.Balance))
	assert.Equal(t, creditdomain.SourcePersonal, source.Kind())
}

func TestResolveMemberIsOrganization(t *testing.T) {
	ledger := newFakeLedger()
	ledger.isMember = true
	ledger.pool = decimal.NewFromInt(100)
	ledger.allocated = decimal.NewFromInt(50)
	ledger.limits = []creditdomain.WindowLimitStatus{
		{Window: creditdomain.WindowDaily, Limit: decimal.NewFromInt(10), Remaining: decimal.NewFromInt(5)},
	}
	svc := newTestService(ledger)

	source, err := svc.Resolve(context.Background(), snowflake.ID(7))
	require.NoError(t, err)

	org, ok := source.(creditdomain.OrganizationSource)
	require.True(t, ok)
	assert.Equal(t, ledger.orgID, org.OrgID)
	assert.Equal(t, "Riverside Academy", org.OrgName)
	assert.True(t, decimal.NewFromInt(100).Equal(org.Balance))
	assert.True(t, decimal.NewFromInt(5).Equal(creditdomain.EffectiveBalance(source)))
}

func TestCanSpendMemberDenialNeverFallsBackToWallet(t *testing.T) {
	ledger := newFakeLedger()
	ledger.isMember = true
	ledger.pool = decimal.NewFromInt(100)
	ledger.allocated = decimal.NewFromInt(100)
	resetAt := time.Date(2026, 3, 19, 0, 0, 0, 0, time.UTC)
	ledger.forcedLimitErr = &creditdomain.LimitExceededError{
		Reason:  creditdomain.ReasonDailyLimitExceeded,
		ResetAt: resetAt,
	}
	// Personal funds are available but must never be consulted for a member.
	ledger.walletBalance = decimal.NewFromInt(1000)
	svc := newTestService(ledger)

	check, err := svc.CanSpend(context.Background(), snowflake.ID(7), decimal.NewFromInt(1))
	require.NoError(t, err)

	assert.False(t, check.Allowed)
	assert.Equal(t, creditdomain.ReasonDailyLimitExceeded, check.Reason)
	require.NotNil(t, check.ResetAt)
	assert.Equal(t, resetAt, *check.ResetAt)
	assert.Equal(t, creditdomain.SourceOrganization, check.Source)
}

func TestCanSpendNonMemberUsesWallet(t *testing.T) {
	ledger := newFakeLedger()
	ledger.walletBalance = decimal.RequireFromString("3.00")
	svc := newTestService(ledger)

	check, err := svc.CanSpend(context.Background(), snowflake.ID(7), decimal.RequireFromString("2.50"))
	require.NoError(t, err)
	assert.True(t, check.Allowed)
	assert.Equal(t, creditdomain.SourcePersonal, check.Source)

	check, err = svc.CanSpend(context.Background(), snowflake.ID(7), decimal.RequireFromString("3.01"))
	require.NoError(t, err)
	assert.False(t, check.Allowed)
	assert.Equal(t, creditdomain.ReasonInsufficientCredits, check.Reason)
}

func TestCanSpendDegradesToWalletOnInfraFailure(t *testing.T) {
	ledger := newFakeLedger()
	ledger.checkErr = errors.New("connection refused")
	ledger.walletBalance = decimal.NewFromInt(10)
	svc := newTestService(ledger)

	check, err := svc.CanSpend(context.Background(), snowflake.ID(7), decimal.NewFromInt(5))
	require.NoError(t, err)
	assert.True(t, check.Allowed)
	assert.Equal(t, creditdomain.SourcePersonal, check.Source)
}

func TestCanSpendRejectsNonPositiveAmount(t *testing.T) {
	svc := newTestService(newFakeLedger())

	_, err := svc.CanSpend(context.Background(), snowflake.ID(7), decimal.Zero)
	assert.ErrorIs(t, err, creditdomain.ErrInvalidAmount)

	_, err = svc.CanSpend(context.Background(), snowflake.ID(7), decimal.NewFromInt(-1))
	assert.ErrorIs(t, err, creditdomain.ErrInvalidAmount)
}

func TestDeductMemberOverLimitFailsWithoutWalletFallback(t *testing.T) {
	ledger := newFakeLedger()
	ledger.isMember = true
	ledger.pool = decimal.NewFromInt(100)
	ledger.allocated = decimal.NewFromInt(100)
	resetAt := time.Date(2026, 3, 19, 0, 0, 0, 0, time.UTC)
	ledger.forcedLimitErr = &creditdomain.LimitExceededError{
		Reason:  creditdomain.ReasonDailyLimitExceeded,
		ResetAt: resetAt,
	}
	ledger.walletBalance = decimal.NewFromInt(1000)
	svc := newTestService(ledger)

	result, err := svc.Deduct(context.Background(), snowflake.ID(7), decimal.NewFromInt(1), "chat")
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Equal(t, creditdomain.ReasonDailyLimitExceeded, result.Reason)
	require.NotNil(t, result.ResetAt)
	assert.Equal(t, resetAt, *result.ResetAt)
	assert.Empty(t, ledger.walletSpendLog)
	assert.True(t, decimal.NewFromInt(1000).Equal(ledger.walletBalance))
}

func TestDeductNonMemberWalletScenario(t *testing.T) {
	ledger := newFakeLedger()
	ledger.walletBalance = decimal.RequireFromString("3.00")
	svc := newTestService(ledger)
	ctx := context.Background()
	userID := snowflake.ID(7)

	result, err := svc.Deduct(ctx, userID, decimal.RequireFromString("2.50"), "chat")
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, creditdomain.SourcePersonal, result.Source)
	assert.True(t, decimal.RequireFromString("0.50").Equal(result.Remaining))

	result, err = svc.Deduct(ctx, userID, decimal.RequireFromString("1.00"), "chat")
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, creditdomain.ReasonInsufficientCredits, result.Reason)

	// The failed spend left no trace: one ledger row, balance untouched.
	assert.Len(t, ledger.walletSpendLog, 1)
	assert.True(t, decimal.RequireFromString("0.50").Equal(ledger.walletBalance))
}

func TestDeductOrgSuccess(t *testing.T) {
	ledger := newFakeLedger()
	ledger.isMember = true
	ledger.pool = decimal.NewFromInt(100)
	ledger.allocated = decimal.NewFromInt(100)
	svc := newTestService(ledger)

	result, err := svc.Deduct(context.Background(), snowflake.ID(7), decimal.NewFromInt(30), "chat")
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, creditdomain.SourceOrganization, result.Source)
	assert.True(t, decimal.NewFromInt(70).Equal(result.Remaining))
}

func TestDeductConcurrentSpendsNeverOverdraw(t *testing.T) {
	ledger := newFakeLedger()
	ledger.isMember = true
	ledger.pool = decimal.NewFromInt(10)
	ledger.allocated = decimal.NewFromInt(1000)
	svc := newTestService(ledger)

	amount := decimal.NewFromInt(3)
	const attempts = 20

	var wg sync.WaitGroup
	results := make([]creditdomain.DeductResult, attempts)
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = svc.Deduct(context.Background(), snowflake.ID(7), amount, "chat")
		}(i)
	}
	wg.Wait()

	successes := 0
	for _, err := range errs {
		require.NoError(t, err)
	}
	for _, r := range results {
		if r.Success {
			successes++
		}
	}
	// floor(10 / 3) spends fit; the rest must be refused.
	assert.Equal(t, 3, successes)
	assert.True(t, decimal.NewFromInt(1).Equal(ledger.pool))
	assert.Equal(t, 3, ledger.orgSpendCount)
}

func TestSettleMemberOverLimitRecordsOverdraft(t *testing.T) {
	ledger := newFakeLedger()
	ledger.isMember = true
	ledger.pool = decimal.NewFromInt(2)
	ledger.allocated = decimal.NewFromInt(100)
	ledger.forcedLimitErr = &creditdomain.LimitExceededError{Reason: creditdomain.ReasonOrgCreditsExhausted}
	svc := newTestService(ledger)

	result, err := svc.Settle(context.Background(), snowflake.ID(7), decimal.NewFromInt(5), "chat")
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, creditdomain.SourceOrganization, result.Source)
	assert.True(t, decimal.NewFromInt(-3).Equal(result.Remaining))
	assert.Equal(t, 1, ledger.orgSpendCount)
}

func TestSettleWalletShortfallGoesNegative(t *testing.T) {
	ledger := newFakeLedger()
	ledger.walletBalance = decimal.RequireFromString("0.50")
	svc := newTestService(ledger)

	result, err := svc.Settle(context.Background(), snowflake.ID(7), decimal.RequireFromString("2.00"), "chat")
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, creditdomain.SourcePersonal, result.Source)
	assert.True(t, decimal.RequireFromString("-1.50").Equal(result.Remaining))
}

func TestSettleWithinBalanceBehavesLikeDeduct(t *testing.T) {
	ledger := newFakeLedger()
	ledger.walletBalance = decimal.NewFromInt(5)
	svc := newTestService(ledger)

	result, err := svc.Settle(context.Background(), snowflake.ID(7), decimal.NewFromInt(2), "chat")
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.True(t, decimal.NewFromInt(3).Equal(result.Remaining))
	assert.Len(t, ledger.walletSpendLog, 1)
}
