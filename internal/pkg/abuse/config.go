package abuse

import (
	"strings"
	"time"

	"github.com/ManuelReschke/CopyFox/internal/pkg/env"
)

const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
)

// Config tunes the abuse guard. Only the rate limit and the self-referral
// check reject; the thresholds below produce advisory signals.
type Config struct {
	SignupMaxAttempts int
	SignupWindow      time.Duration
	// LimiterStore selects the counter backend: "memory" or "redis".
	LimiterStore string

	FingerprintThreshold int
	IPVelocityThreshold  int
	IPVelocityWindow     time.Duration
	// ReviewRiskScore puts new accounts at or above this score into review.
	ReviewRiskScore   int
	DisposableDomains []string
}

func DefaultConfig() Config {
	return Config{
		SignupMaxAttempts:    3,
		SignupWindow:         time.Hour,
		LimiterStore:         StoreMemory,
		FingerprintThreshold: 2,
		IPVelocityThreshold:  5,
		IPVelocityWindow:     24 * time.Hour,
		ReviewRiskScore:      4,
	}
}

// ConfigFromEnv reads the guard configuration.
func ConfigFromEnv() Config {
	cfg := DefaultConfig()
	cfg.SignupMaxAttempts = env.GetEnvInt("SIGNUP_RATE_MAX", cfg.SignupMaxAttempts)
	cfg.SignupWindow = env.GetEnvDuration("SIGNUP_RATE_WINDOW", cfg.SignupWindow)
	cfg.FingerprintThreshold = env.GetEnvInt("FINGERPRINT_THRESHOLD", cfg.FingerprintThreshold)
	cfg.IPVelocityThreshold = env.GetEnvInt("IP_VELOCITY_THRESHOLD", cfg.IPVelocityThreshold)
	cfg.IPVelocityWindow = env.GetEnvDuration("IP_VELOCITY_WINDOW", cfg.IPVelocityWindow)
	cfg.ReviewRiskScore = env.GetEnvInt("ABUSE_REVIEW_RISK_SCORE", cfg.ReviewRiskScore)

	if strings.EqualFold(strings.TrimSpace(env.GetEnv("RATE_LIMIT_STORE", StoreMemory)), StoreRedis) {
		cfg.LimiterStore = StoreRedis
	}
	for _, d := range strings.Split(env.GetEnv("DISPOSABLE_EMAIL_DOMAINS", ""), ",") {
		if d = strings.ToLower(strings.TrimSpace(d)); d != "" {
			cfg.DisposableDomains = append(cfg.DisposableDomains, d)
		}
	}
	return cfg
}
