package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/lumilearn/creditcore/internal/clock"
	"github.com/lumilearn/creditcore/internal/config"
	obsmetrics "github.com/lumilearn/creditcore/internal/observability/metrics"
)

const (
	keyRequestWindow = "ratelimit:%s:%s" // user, tier

	windowLength = time.Minute
)

// Decision is the admission answer for one request slot.
type Decision struct {
	Allowed   bool      `json:"allowed"`
	Remaining int       `json:"remaining"`
	Limit     int       `json:"limit"`
	ResetAt   time.Time `json:"reset_at"`
	Tier      Tier      `json:"tier"`
}

type LimiterParam struct {
	fx.In

	Config  config.Config
	Tiers   *TierResolver
	Store   Store `optional:"true"`
	Clock   clock.Clock
	Log     *zap.Logger
	Metrics *obsmetrics.Metrics `optional:"true"`
}

// Limiter bounds requests per rolling minute per (user, tier). Storage
// errors fail open: denying chat over a counter blip is the worse outage.
type Limiter struct {
	enabled bool
	tiers   *TierResolver
	store   Store
	clock   clock.Clock
	log     *zap.Logger
	metrics *obsmetrics.Metrics
}

func NewLimiter(p LimiterParam) *Limiter {
	return &Limiter{
		enabled: p.Config.RateLimitEnabled && p.Store != nil,
		tiers:   p.Tiers,
		store:   p.Store,
		clock:   p.Clock,
		log:     p.Log.Named("ratelimit"),
		metrics: p.Metrics,
	}
}

// NewStore dials redis when rate limiting is enabled.
func NewStore(cfg config.Config) Store {
	if !cfg.RateLimitEnabled {
		return nil
	}
	addr := strings.TrimSpace(cfg.RedisAddr)
	if addr == "" {
		return nil
	}
	return NewRedisStore(redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(cfg.RedisPassword),
		DB:       cfg.RedisDB,
	}))
}

// Check consumes a request slot and answers whether the request may proceed.
func (l *Limiter) Check(ctx context.Context, userID snowflake.ID, modelID string) (Decision, error) {
	tier := l.tiers.Resolve(modelID)
	limit := Cap(tier)

	if !l.enabled {
		return l.openDecision(tier, limit), nil
	}

	state, err := l.store.Hit(ctx, l.key(userID, tier), windowLength)
	if err != nil {
		l.failOpen(ctx, tier, err)
		return l.openDecision(tier, limit), nil
	}

	decision := l.decide(tier, limit, state)
	if decision.Allowed {
		l.metrics.RecordRateLimitAllowed(ctx, string(tier))
	} else {
		l.metrics.RecordRateLimitDenied(ctx, string(tier))
	}
	return decision, nil
}

// Status reports the current window without consuming a slot.
func (l *Limiter) Status(ctx context.Context, userID snowflake.ID, modelID string) (Decision, error) {
	tier := l.tiers.Resolve(modelID)
	limit := Cap(tier)

	if !l.enabled {
		return l.openDecision(tier, limit), nil
	}

	state, err := l.store.Peek(ctx, l.key(userID, tier))
	if err != nil {
		l.failOpen(ctx, tier, err)
		return l.openDecision(tier, limit), nil
	}

	// A peek does not consume the slot it reports on.
	decision := l.decide(tier, limit, state)
	decision.Allowed = state.Count < int64(limit)
	return decision, nil
}

func (l *Limiter) decide(tier Tier, limit int, state WindowState) Decision {
	remaining := limit - int(state.Count)
	if remaining < 0 {
		remaining = 0
	}
	ttl := state.TTL
	if ttl <= 0 {
		ttl = windowLength
	}
	return Decision{
		Allowed:   state.Count <= int64(limit),
		Remaining: remaining,
		Limit:     limit,
		ResetAt:   l.clock.Now().Add(ttl),
		Tier:      tier,
	}
}

func (l *Limiter) openDecision(tier Tier, limit int) Decision {
	return Decision{
		Allowed:   true,
		Remaining: limit,
		Limit:     limit,
		ResetAt:   l.clock.Now().Add(windowLength),
		Tier:      tier,
	}
}

func (l *Limiter) failOpen(ctx context.Context, tier Tier, err error) {
	l.metrics.RecordRateLimitError(ctx, string(tier))
	l.log.Warn("rate limit store unavailable, failing open",
		zap.String("tier", string(tier)), zap.Error(err))
}

func (l *Limiter) key(userID snowflake.ID, tier Tier) string {
	return fmt.Sprintf(keyRequestWindow, userID.String(), tier)
}
