package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WebhookRequestsTotal counts provider webhook requests by provider and HTTP status.
	WebhookRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "copyfox",
		Subsystem: "billing",
		Name:      "webhook_requests_total",
		Help:      "Total provider webhook requests by provider and HTTP status.",
	}, []string{"provider", "status"})

	// WebhookDuplicatesTotal counts redeliveries of already recorded events.
	WebhookDuplicatesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "copyfox",
		Subsystem: "billing",
		Name:      "webhook_duplicates_total",
		Help:      "Total webhook deliveries whose provider event id was already recorded.",
	}, []string{"provider"})

	// ReconcileOutcomesTotal counts processing attempts by normalized kind and outcome.
	ReconcileOutcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "copyfox",
		Subsystem: "billing",
		Name:      "reconcile_outcomes_total",
		Help:      "Reconciliation attempts by event kind and outcome.",
	}, []string{"kind", "outcome"})

	// ReconcileDuration tracks how long a single processing attempt takes.
	ReconcileDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "copyfox",
		Subsystem: "billing",
		Name:      "reconcile_duration_seconds",
		Help:      "Reconciliation attempt duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"provider"})

	// RoleChangesTotal counts role projection rewrites.
	RoleChangesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "copyfox",
		Subsystem: "entitlements",
		Name:      "role_changes_total",
		Help:      "Role projection changes by previous and current role.",
	}, []string{"previous", "current"})

	// RateLimitRejectionsTotal counts hard rejections by the abuse rate limiter.
	RateLimitRejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "copyfox",
		Subsystem: "abuse",
		Name:      "rate_limit_rejections_total",
		Help:      "Requests rejected by the abuse rate limiter by action.",
	}, []string{"action"})

	// AbuseSignalsTotal counts recorded advisory signals by type.
	AbuseSignalsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "copyfox",
		Subsystem: "abuse",
		Name:      "signals_total",
		Help:      "Abuse signals recorded by signal type.",
	}, []string{"type"})

	// ArchivedEventsTotal counts webhook payloads copied to the archive bucket.
	ArchivedEventsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "copyfox",
		Subsystem: "billing",
		Name:      "archived_events_total",
		Help:      "Webhook payloads written to the archive bucket.",
	})
)
