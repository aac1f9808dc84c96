package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	redisstorage "github.com/gofiber/storage/redis"
	"github.com/robfig/cron/v3"

	"github.com/ManuelReschke/CopyFox/app/controllers"
	"github.com/ManuelReschke/CopyFox/app/repository"
	"github.com/ManuelReschke/CopyFox/internal/pkg/abuse"
	"github.com/ManuelReschke/CopyFox/internal/pkg/accounts"
	"github.com/ManuelReschke/CopyFox/internal/pkg/billing"
	"github.com/ManuelReschke/CopyFox/internal/pkg/cache"
	"github.com/ManuelReschke/CopyFox/internal/pkg/database"
	"github.com/ManuelReschke/CopyFox/internal/pkg/entitlements"
	"github.com/ManuelReschke/CopyFox/internal/pkg/env"
	"github.com/ManuelReschke/CopyFox/internal/pkg/eventarchive"
	"github.com/ManuelReschke/CopyFox/internal/pkg/hcaptcha"
	"github.com/ManuelReschke/CopyFox/internal/pkg/jobqueue"
	"github.com/ManuelReschke/CopyFox/internal/pkg/mail"
	"github.com/ManuelReschke/CopyFox/internal/pkg/router"
)

// Application bundles the HTTP server with the background machinery that
// has to be stopped alongside it.
type Application struct {
	App       *fiber.App
	Scheduler *cron.Cron
	Jobs      *jobqueue.Manager
}

func main() {
	application := NewApplication()

	go func() {
		addr := fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000"))
		if err := application.App.Listen(addr); err != nil {
			log.Fatalf("[Server] Listen failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("[Server] Shutting down")
	application.Shutdown()
}

func NewApplication() *Application {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()

	repository.InitializeFactory(database.GetDB())
	repos := repository.GetGlobalRepositories()
	ctx := context.Background()

	// ENTITLEMENTS
	entCfg := entitlements.ConfigFromEnv()
	staticPlans := entCfg.Plans
	entSvc := entitlements.NewService(repos.User, repos.Billing, entCfg)
	if plans, err := billing.LoadPlanCatalog(ctx, repos.Billing, staticPlans); err != nil {
		log.Warnf("[Entitlements] Plan catalog not loaded, using static plans: %v", err)
	} else {
		entSvc.SetConfig(entCfg.WithPlans(plans))
	}

	// BILLING
	billingCfg := billing.ConfigFromEnv()
	engine := billing.NewEngine(repos.Billing, entSvc, billingCfg)
	if mail.IsConfigured() {
		engine.SetNotifier(billing.MultiNotifier{billing.LogNotifier{}, billing.NewMailNotifier(repos.User)})
	}

	jobs := jobqueue.GetManager()
	queue := jobs.GetQueue()
	if billingCfg.Mode == billing.ModeInline {
		engine.SetScheduler(billing.NewInlineScheduler(engine))
	} else {
		engine.SetScheduler(jobqueue.NewReconcileScheduler(queue))
	}
	jobqueue.RegisterReconcileHandler(queue, engine)

	// ABUSE + ACCOUNTS
	abuseCfg := abuse.ConfigFromEnv()
	guard := abuse.NewGuard(repos.Abuse, abuse.NewSignupLimiter(abuseCfg, cache.GetClient()), abuseCfg)
	accSvc := accounts.NewService(repos.User, repos.Referral, guard)
	if captcha := hcaptcha.NewClientFromEnv(); captcha != nil {
		accSvc.SetCaptcha(captcha)
	}

	// ARCHIVE
	archiveCfg, err := eventarchive.LoadConfig()
	if err != nil {
		log.Fatalf("[Archive] Invalid configuration: %v", err)
	}
	if archiveCfg.Enabled {
		client, err := eventarchive.NewS3Client(ctx, archiveCfg)
		if err != nil {
			log.Fatalf("[Archive] Could not create S3 client: %v", err)
		}
		jobqueue.RegisterArchiveHandler(queue, eventarchive.NewArchiver(repos.Billing, client, archiveCfg))
	}

	jobs.Start()

	// init fiber app
	app := fiber.New(fiber.Config{
		BodyLimit: 1 * 1024 * 1024,
	})

	// recovery and logging
	app.Use(recover.New(), logger.New())

	// SWAGGER / OPENAPI
	if specPath := env.GetEnv("OPENAPI_SPEC_PATH", "./docs/openapi.yml"); fileExists(specPath) {
		app.Use(swagger.New(swagger.Config{
			BasePath: "/docs/api/",
			FilePath: specPath,
			Path:     "v1",
		}))
	}

	// ROUTER
	router.InstallRouter(app, router.Deps{
		Billing: controllers.NewBillingController(engine.Store(), engine, billingCfg),
		Admin: controllers.NewAdminController(controllers.AdminDeps{
			Events:       engine.Store(),
			Engine:       engine,
			Ledger:       engine.Ledger(),
			Entitlements: entSvc,
			Users:        repos.User,
			Directory:    repos.User,
			Abuse:        guard,
		}),
		Queue:          controllers.NewAdminQueueController(repos.Queue),
		Accounts:       controllers.NewAccountController(accSvc, repos.Referral),
		Entitlements:   controllers.NewEntitlementController(entSvc),
		Resolver:       entSvc,
		APIKeys:        repos.User,
		AdminKey:       strings.TrimSpace(env.GetEnv("ADMIN_API_KEY", "")),
		LimiterStorage: apiLimiterStorage(),
		LimiterMax:     env.GetEnvInt("API_RATE_MAX", 120),
		LimiterWindow:  env.GetEnvDuration("API_RATE_WINDOW", time.Minute),
	})

	scheduler := cron.New()
	registerBackgroundJobs(scheduler, backgroundDeps{
		engine:      engine,
		entitlement: entSvc,
		entCfg:      entCfg,
		staticPlans: staticPlans,
		billingRepo: repos.Billing,
		guard:       guard,
		queue:       queue,
		archive:     archiveCfg,
	})
	scheduler.Start()

	return &Application{App: app, Scheduler: scheduler, Jobs: jobs}
}

// Shutdown stops the scheduler first so no new work is enqueued while the
// workers drain.
func (a *Application) Shutdown() {
	<-a.Scheduler.Stop().Done()
	a.Jobs.Stop()
	if err := a.App.ShutdownWithTimeout(10 * time.Second); err != nil {
		log.Warnf("[Server] Shutdown: %v", err)
	}
	if err := cache.Close(); err != nil {
		log.Warnf("[Cache] Close: %v", err)
	}
}

// apiLimiterStorage shares /api rate limit counters through Redis when
// API_LIMITER_STORE=redis. The storage driver panics when Redis is down, so
// it is only built on request.
func apiLimiterStorage() fiber.Storage {
	if !strings.EqualFold(env.GetEnv("API_LIMITER_STORE", "memory"), "redis") {
		return nil
	}
	opts := cache.GetClient().Options()
	host, port, err := net.SplitHostPort(opts.Addr)
	if err != nil {
		log.Warnf("[Router] Invalid cache address %q, limiter stays in memory: %v", opts.Addr, err)
		return nil
	}
	portNum, err := strconv.Atoi(port)
	if err != nil {
		portNum = 6379
	}
	return redisstorage.New(redisstorage.Config{
		Host:     host,
		Port:     portNum,
		Password: opts.Password,
		Database: opts.DB,
		Reset:    false,
	})
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
