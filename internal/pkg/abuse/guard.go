package abuse

import (
	"context"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"

	"github.com/ManuelReschke/CopyFox/app/models"
	"github.com/ManuelReschke/CopyFox/internal/pkg/metrics"
)

const signupLimiterPrefix = "abuse:ratelimit:"

// SignupDecision is the advisory outcome of a signup that passed the rate
// limit.
type SignupDecision struct {
	RiskScore int                  `json:"risk_score"`
	Review    bool                 `json:"review"`
	Signals   []models.AbuseSignal `json:"-"`
	Limit     Decision             `json:"limit"`
}

// Guard fronts account creation and referrals. Only the rate limit and the
// self-referral check reject; everything else is recorded for review.
type Guard struct {
	signups    RateLimiter
	correlator *Correlator
	referrals  *ReferralValidator
	store      Store
	cfg        Config
}

// NewSignupLimiter returns the Redis limiter when configured and a client is
// available, otherwise the in-process one.
func NewSignupLimiter(cfg Config, client redis.Scripter) RateLimiter {
	if cfg.LimiterStore == StoreRedis && client != nil {
		return NewRedisLimiter(client, signupLimiterPrefix, cfg.SignupMaxAttempts, cfg.SignupWindow)
	}
	if cfg.LimiterStore == StoreRedis {
		log.Warn("[Abuse] RATE_LIMIT_STORE=redis but no Redis client, falling back to memory")
	}
	return NewMemoryLimiter(cfg.SignupMaxAttempts, cfg.SignupWindow)
}

func NewGuard(store Store, signups RateLimiter, cfg Config) *Guard {
	return &Guard{
		signups:    signups,
		correlator: NewCorrelator(store, cfg),
		referrals:  NewReferralValidator(store),
		store:      store,
		cfg:        cfg,
	}
}

// CheckSignup applies the per-IP rate limit and scores the attempt. A
// *RateLimitError is the only rejection.
func (g *Guard) CheckSignup(ctx context.Context, a Attempt) (*SignupDecision, error) {
	key := "signup:" + strings.TrimSpace(a.IP)
	if strings.TrimSpace(a.IP) == "" {
		key = "signup:unknown"
	}

	limit, err := g.signups.Allow(ctx, key)
	if err != nil {
		// The counter store being down must not lock out every signup.
		log.Errorf("[Abuse] Rate limiter unavailable, allowing signup from %s: %v", a.IP, err)
		limit = Decision{Allowed: true}
	}
	if !limit.Allowed {
		metrics.RateLimitRejectionsTotal.WithLabelValues("signup").Inc()
		log.Infof("[Abuse] Signup rate limit hit for %s (%d/%d)", a.IP, limit.Count, limit.Limit)
		return nil, &RateLimitError{Key: key, RetryAfter: limit.RetryAfter}
	}

	signals, err := g.correlator.Observe(ctx, a)
	if err != nil {
		log.Warnf("[Abuse] Correlation failed for signup from %s: %v", a.IP, err)
		signals = nil
	}
	score := models.RiskScore(signals)
	return &SignupDecision{
		RiskScore: score,
		Review:    g.cfg.ReviewRiskScore > 0 && score >= g.cfg.ReviewRiskScore,
		Signals:   signals,
		Limit:     limit,
	}, nil
}

// RecordSignup stores the attempt's fingerprint and signals against the new
// account.
func (g *Guard) RecordSignup(ctx context.Context, userID uint, a Attempt, decision *SignupDecision) error {
	var signals []models.AbuseSignal
	if decision != nil {
		signals = decision.Signals
	}
	return g.correlator.Record(ctx, userID, models.FingerprintActionSignup, a, signals)
}

// CheckReferral rejects self-referrals with ErrReferralRejected and without
// writing anything. Other referrals are recorded and possibly flagged.
func (g *Guard) CheckReferral(ctx context.Context, check ReferralCheck) (*ReferralDecision, error) {
	decision, err := g.referrals.Validate(ctx, check)
	if errors.Is(err, ErrReferralRejected) {
		log.Infof("[Abuse] Rejected referral %d -> %d", check.ReferrerID, check.ReferredID)
		return nil, err
	}
	if err != nil {
		log.Warnf("[Abuse] Referral correlation failed for %d -> %d: %v", check.ReferrerID, check.ReferredID, err)
		decision = &ReferralDecision{}
	}

	if err := g.correlator.Record(ctx, check.ReferredID, models.FingerprintActionReferral, check.Attempt, decision.Signals); err != nil {
		log.Warnf("[Abuse] Failed to record referral observation for user %d: %v", check.ReferredID, err)
	}
	return decision, nil
}

// Signals lists stored signals for the admin surface.
func (g *Guard) Signals(ctx context.Context, filter SignalFilter) ([]models.AbuseSignal, int64, error) {
	return g.store.ListSignals(ctx, filter)
}

// CleanupLimiters reclaims expired in-memory windows.
func (g *Guard) CleanupLimiters() int {
	if m, ok := g.signups.(*MemoryLimiter); ok {
		return m.Cleanup()
	}
	return 0
}
