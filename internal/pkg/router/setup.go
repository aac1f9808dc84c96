package router

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/CopyFox/app/controllers"
	"github.com/ManuelReschke/CopyFox/internal/pkg/entitlements"
	"github.com/ManuelReschke/CopyFox/internal/pkg/middleware"
)

// Router installs a group of routes on the app.
type Router interface {
	InstallRouter(app *fiber.App)
}

// Deps carries the controllers and auth collaborators the routes need.
type Deps struct {
	Billing      *controllers.BillingController
	Admin        *controllers.AdminController
	Queue        *controllers.AdminQueueController
	Accounts     *controllers.AccountController
	Entitlements *controllers.EntitlementController

	Resolver entitlements.Resolver
	APIKeys  middleware.APIKeyLookup
	AdminKey string

	// LimiterStorage backs the /api rate limiter. Nil keeps counters in memory.
	LimiterStorage fiber.Storage
	LimiterMax     int
	LimiterWindow  time.Duration
}

func InstallRouter(app *fiber.App, deps Deps) {
	// Webhooks and operator routes first, then the public API.
	setup(app, NewHttpRouter(deps), NewApiRouter(deps))
}

func setup(app *fiber.App, router ...Router) {
	for _, r := range router {
		r.InstallRouter(app)
	}
}
