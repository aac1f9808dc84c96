package main

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/robfig/cron/v3"

	"github.com/ManuelReschke/CopyFox/internal/pkg/abuse"
	"github.com/ManuelReschke/CopyFox/internal/pkg/billing"
	"github.com/ManuelReschke/CopyFox/internal/pkg/entitlements"
	"github.com/ManuelReschke/CopyFox/internal/pkg/env"
	"github.com/ManuelReschke/CopyFox/internal/pkg/eventarchive"
	"github.com/ManuelReschke/CopyFox/internal/pkg/jobqueue"
)

type backgroundDeps struct {
	engine      *billing.Engine
	entitlement *entitlements.Service
	entCfg      entitlements.Config
	staticPlans map[string]entitlements.Role
	billingRepo billing.Repository
	guard       *abuse.Guard
	queue       *jobqueue.Queue
	archive     *eventarchive.Config
}

func registerBackgroundJobs(c *cron.Cron, deps backgroundDeps) {
	// Redispatch events whose retry is due or whose dispatch was lost.
	addJob(c, env.GetEnv("RECONCILE_SWEEP_SCHEDULE", "@every 1m"), "reconcile sweep", func(ctx context.Context) {
		n, err := deps.engine.DispatchDue(ctx)
		if err != nil {
			log.Errorf("[Reconcile] Sweep failed: %v", err)
			return
		}
		if n > 0 {
			log.Infof("[Reconcile] Sweep dispatched %d events", n)
		}
	})

	// Grace windows end without a provider event. Both windows start at or
	// before the head's last state change.
	lookback := env.GetEnvDuration("GRACE_SWEEP_LOOKBACK", 45*24*time.Hour)
	if g := deps.entCfg.PastDueGrace + deps.entCfg.CanceledGrace + 24*time.Hour; g > lookback {
		lookback = g
	}
	addJob(c, env.GetEnv("GRACE_SWEEP_SCHEDULE", "@hourly"), "grace sweep", func(ctx context.Context) {
		n, err := deps.engine.SweepGrace(ctx, lookback)
		if err != nil {
			log.Errorf("[Reconcile] Grace sweep failed: %v", err)
			return
		}
		log.Infof("[Reconcile] Grace sweep changed %d roles", n)
	})

	addJob(c, "@every 10m", "limiter cleanup", func(_ context.Context) {
		if n := deps.guard.CleanupLimiters(); n > 0 {
			log.Debugf("[Abuse] Dropped %d expired limiter entries", n)
		}
	})

	addJob(c, env.GetEnv("PLAN_RELOAD_SCHEDULE", "@every 5m"), "plan reload", func(ctx context.Context) {
		plans, err := billing.LoadPlanCatalog(ctx, deps.billingRepo, deps.staticPlans)
		if err != nil {
			log.Warnf("[Entitlements] Plan reload failed: %v", err)
			return
		}
		deps.entitlement.SetConfig(deps.entitlement.Config().WithPlans(plans))
	})

	if deps.archive != nil && deps.archive.Enabled {
		batch := deps.archive.BatchSize
		addJob(c, env.GetEnv("ARCHIVE_SCHEDULE", "@every 15m"), "event archive", func(_ context.Context) {
			if _, err := jobqueue.EnqueueArchive(deps.queue, batch); err != nil {
				log.Errorf("[Archive] Could not enqueue archive job: %v", err)
			}
		})
	}
}

func addJob(c *cron.Cron, schedule, name string, run func(ctx context.Context)) {
	_, err := c.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		run(ctx)
	})
	if err != nil {
		log.Fatalf("[Cron] Invalid schedule %q for %s: %v", schedule, name, err)
	}
}
