package billing

import (
	"strings"
	"time"

	"github.com/ManuelReschke/CopyFox/internal/pkg/env"
)

const (
	ModeInline = "inline"
	ModeAsync  = "async"
)

// Config holds webhook secrets and reconciliation tuning.
type Config struct {
	StripeWebhookSecret  string
	PatreonWebhookSecret string
	Mode                 string
	Retry                RetryPolicy
	// SweepMinAge keeps the sweeper away from events that are still being
	// handled by the request that recorded them.
	SweepMinAge    time.Duration
	SweepBatchSize int
}

// ConfigFromEnv reads the billing configuration.
func ConfigFromEnv() Config {
	retry := DefaultRetryPolicy()
	retry.MaxAttempts = env.GetEnvInt("RECONCILE_MAX_ATTEMPTS", retry.MaxAttempts)
	retry.InitialInterval = env.GetEnvDuration("RECONCILE_BACKOFF_INITIAL", retry.InitialInterval)
	retry.MaxInterval = env.GetEnvDuration("RECONCILE_BACKOFF_MAX", retry.MaxInterval)

	mode := strings.ToLower(strings.TrimSpace(env.GetEnv("RECONCILE_MODE", ModeAsync)))
	if mode != ModeInline {
		mode = ModeAsync
	}

	return Config{
		StripeWebhookSecret:  strings.TrimSpace(env.GetEnv("STRIPE_WEBHOOK_SECRET", "")),
		PatreonWebhookSecret: strings.TrimSpace(env.GetEnv("PATREON_WEBHOOK_SECRET", "")),
		Mode:                 mode,
		Retry:                retry,
		SweepMinAge:          env.GetEnvDuration("RECONCILE_SWEEP_MIN_AGE", time.Minute),
		SweepBatchSize:       env.GetEnvInt("RECONCILE_SWEEP_BATCH", 100),
	}
}
