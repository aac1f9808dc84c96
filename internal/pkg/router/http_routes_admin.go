package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/CopyFox/internal/pkg/middleware"
)

func (h HttpRouter) registerAdminRoutes(app *fiber.App) {
	adminGroup := app.Group("/admin", middleware.AdminKeyMiddleware(h.deps.AdminKey))

	// Webhook event triage
	adminGroup.Get("/events", h.deps.Admin.HandleListEvents)
	adminGroup.Get("/events/:id", h.deps.Admin.HandleGetEvent)
	adminGroup.Post("/events/:id/retry", h.deps.Admin.HandleRetryEvent)

	// Subscription ledger
	adminGroup.Get("/subscriptions/:userId/history", h.deps.Admin.HandleSubscriptionHistory)
	adminGroup.Post("/subscriptions/:id/override", h.deps.Admin.HandleOverrideSubscription)
	adminGroup.Post("/accounts/link", h.deps.Admin.HandleLinkAccount)

	// Users
	adminGroup.Get("/users", h.deps.Admin.HandleListUsers)
	adminGroup.Get("/stats/signups", h.deps.Admin.HandleSignupStats)
	adminGroup.Post("/users/:id/suspend", h.deps.Admin.HandleSuspendUser)
	adminGroup.Post("/users/:id/reinstate", h.deps.Admin.HandleReinstateUser)
	adminGroup.Post("/users/:id/resync", h.deps.Admin.HandleResyncUser)

	// Abuse signals + queue monitor
	adminGroup.Get("/abuse/signals", h.deps.Admin.HandleListAbuseSignals)
	adminGroup.Get("/queue", h.deps.Queue.HandleAdminQueues)
}
