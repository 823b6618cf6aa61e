package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lumilearn/creditcore/internal/clock"
	"github.com/lumilearn/creditcore/internal/config"
	creditdomain "github.com/lumilearn/creditcore/internal/credit/domain"
	insightdomain "github.com/lumilearn/creditcore/internal/insight/domain"
	"github.com/lumilearn/creditcore/internal/ratelimit"
)

type fakeCreditService struct {
	source creditdomain.CreditSource
	check  creditdomain.SpendCheck
	result creditdomain.DeductResult
	err    error
}

func (f *fakeCreditService) Resolve(ctx context.Context, userID snowflake.ID) (creditdomain.CreditSource, error) {
	return f.source, f.err
}

func (f *fakeCreditService) CanSpend(ctx context.Context, userID snowflake.ID, amount decimal.Decimal) (creditdomain.SpendCheck, error) {
	return f.check, f.err
}

func (f *fakeCreditService) Deduct(ctx context.Context, userID snowflake.ID, amount decimal.Decimal, description string) (creditdomain.DeductResult, error) {
	return f.result, f.err
}

func (f *fakeCreditService) Settle(ctx context.Context, userID snowflake.ID, amount decimal.Decimal, description string) (creditdomain.DeductResult, error) {
	return f.result, f.err
}

type fakeInsightService struct {
	entry *insightdomain.InsightEntry
	err   error
}

func (f *fakeInsightService) GetCached(ctx context.Context, subjectID snowflake.ID, periodDays int, locale, fingerprint string) (*insightdomain.InsightEntry, error) {
	return f.entry, f.err
}

func (f *fakeInsightService) Generate(ctx context.Context, req insightdomain.GenerateRequest) (*insightdomain.InsightEntry, error) {
	return f.entry, f.err
}

// countingStore admits everything within a per-key counter, no expiry.
type countingStore struct {
	counts map[string]int64
}

func (s *countingStore) Hit(ctx context.Context, key string, window time.Duration) (ratelimit.WindowState, error) {
	if s.counts == nil {
		s.counts = make(map[string]int64)
	}
	s.counts[key]++
	return ratelimit.WindowState{Count: s.counts[key], TTL: window}, nil
}

func (s *countingStore) Peek(ctx context.Context, key string) (ratelimit.WindowState, error) {
	return ratelimit.WindowState{Count: s.counts[key], TTL: time.Minute}, nil
}

type serverFixture struct {
	engine   *gin.Engine
	credits  *fakeCreditService
	insights *fakeInsightService
}

func newServerFixture(t *testing.T) *serverFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	credits := &fakeCreditService{}
	insights := &fakeInsightService{}
	limiter := ratelimit.NewLimiter(ratelimit.LimiterParam{
		Config: config.Config{RateLimitEnabled: true},
		Tiers:  ratelimit.NewTierResolver(nil),
		Store:  &countingStore{},
		Clock:  clock.NewFakeClock(time.Date(2026, 3, 18, 14, 0, 0, 0, time.UTC)),
		Log:    zap.NewNop(),
	})

	engine := gin.New()
	engine.Use(ErrorHandlingMiddleware())

	srv := NewServer(ServerParam{
		Config:   config.Config{},
		Log:      zap.NewNop(),
		Credits:  credits,
		Limiter:  limiter,
		Insights: insights,
	})
	srv.RegisterRoutes(engine)

	return &serverFixture{engine: engine, credits: credits, insights: insights}
}

func (f *serverFixture) request(t *testing.T, method, path, userID, body string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if userID != "" {
		req.Header.Set(headerUserID, userID)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.engine.ServeHTTP(rec, req)
	return rec
}

func TestGetCreditsRequiresUserHeader(t *testing.T) {
	f := newServerFixture(t)

	rec := f.request(t, http.MethodGet, "/v1/credits", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.request(t, http.MethodGet, "/v1/credits", "not-a-snowflake", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGetCreditsPersonal(t *testing.T) {
	f := newServerFixture(t)
	f.credits.source = creditdomain.PersonalSource{Balance: decimal.RequireFromString("3.00")}

	rec := f.request(t, http.MethodGet, "/v1/credits", "7", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Source           string          `json:"source"`
		EffectiveBalance decimal.Decimal `json:"effective_balance"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "personal", body.Source)
	assert.True(t, decimal.RequireFromString("3.00").Equal(body.EffectiveBalance))
}

func TestCheckCanSpendRejectsBadBody(t *testing.T) {
	f := newServerFixture(t)

	rec := f.request(t, http.MethodPost, "/v1/credits/check", "7", "{not json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCheckCanSpendDenialIsAResponseNotAnError(t *testing.T) {
	f := newServerFixture(t)
	resetAt := time.Date(2026, 3, 19, 0, 0, 0, 0, time.UTC)
	f.credits.check = creditdomain.SpendCheck{
		Allowed: false,
		Reason:  creditdomain.ReasonDailyLimitExceeded,
		ResetAt: &resetAt,
		Source:  creditdomain.SourceOrganization,
	}

	rec := f.request(t, http.MethodPost, "/v1/credits/check", "7", `{"amount":"1.50"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var check creditdomain.SpendCheck
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &check))
	assert.False(t, check.Allowed)
	assert.Equal(t, creditdomain.ReasonDailyLimitExceeded, check.Reason)
	require.NotNil(t, check.ResetAt)
}

func TestDeductCredits(t *testing.T) {
	f := newServerFixture(t)
	f.credits.result = creditdomain.DeductResult{
		Success:   true,
		Remaining: decimal.RequireFromString("0.50"),
		Source:    creditdomain.SourcePersonal,
	}

	rec := f.request(t, http.MethodPost, "/v1/credits/deduct", "7", `{"amount":"2.50","description":"chat"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var result creditdomain.DeductResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.True(t, result.Success)
	assert.True(t, decimal.RequireFromString("0.50").Equal(result.Remaining))
}

func TestDeductInvalidAmountMapsToBadRequest(t *testing.T) {
	f := newServerFixture(t)
	f.credits.err = creditdomain.ErrInvalidAmount

	rec := f.request(t, http.MethodPost, "/v1/credits/deduct", "7", `{"amount":"0"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRateLimitCheckDeniesWith429(t *testing.T) {
	f := newServerFixture(t)

	// Premium cap is 3 per minute.
	for i := 0; i < 3; i++ {
		rec := f.request(t, http.MethodPost, "/v1/models/claude-3-opus/ratelimit/check", "7", "")
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := f.request(t, http.MethodPost, "/v1/models/claude-3-opus/ratelimit/check", "7", "")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)

	var decision ratelimit.Decision
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decision))
	assert.False(t, decision.Allowed)
	assert.Equal(t, 3, decision.Limit)
}

func TestRateLimitStatus(t *testing.T) {
	f := newServerFixture(t)

	rec := f.request(t, http.MethodGet, "/v1/models/gpt-4o/ratelimit", "7", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var decision ratelimit.Decision
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decision))
	assert.True(t, decision.Allowed)
	assert.Equal(t, 10, decision.Limit)
}

func TestGetCachedInsightsMissIs404(t *testing.T) {
	f := newServerFixture(t)

	rec := f.request(t, http.MethodGet, "/v1/insights/42?period_days=30&conversations=12&messages=340", "7", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGenerateInsights(t *testing.T) {
	f := newServerFixture(t)
	f.insights.entry = &insightdomain.InsightEntry{
		SubjectID:       snowflake.ID(42),
		PeriodDays:      30,
		Locale:          "en",
		DataFingerprint: insightdomain.Fingerprint(12, 340, 30),
	}

	rec := f.request(t, http.MethodPost, "/v1/insights/42", "7",
		`{"subject_name":"Mathematics","period_days":30,"conversations":12,"messages":340}`)
	assert.Equal(t, http.StatusOK, rec.Code)
}
