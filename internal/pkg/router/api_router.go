package router

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/ManuelReschke/CopyFox/internal/pkg/entitlements"
	"github.com/ManuelReschke/CopyFox/internal/pkg/middleware"
)

type ApiRouter struct {
	deps Deps
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api", limiter.New(h.limiterConfig()))
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "Hello from api",
		})
	})

	v1 := api.Group("/v1")
	requireKey := middleware.APIKeyAuthMiddleware(h.deps.APIKeys)

	v1.Post("/signup", h.deps.Accounts.HandleSignup)
	v1.Post("/referrals", requireKey, h.deps.Accounts.HandleClaimReferral)
	v1.Get("/me/referrals", requireKey, h.deps.Accounts.HandleListOwnReferrals)
	v1.Get("/me/entitlement", requireKey, entitlements.RequireRole(h.deps.Resolver, entitlements.RoleFree), h.deps.Entitlements.HandleGetOwnEntitlement)
	v1.Get("/users/:id/entitlement", middleware.AdminKeyMiddleware(h.deps.AdminKey), h.deps.Entitlements.HandleGetUserEntitlement)
}

func (h ApiRouter) limiterConfig() limiter.Config {
	cfg := limiter.Config{
		Max:        h.deps.LimiterMax,
		Expiration: h.deps.LimiterWindow,
		Storage:    h.deps.LimiterStorage,
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": "rate_limited", "message": "Too many requests"})
		},
	}
	if cfg.Max <= 0 {
		cfg.Max = 120
	}
	if cfg.Expiration <= 0 {
		cfg.Expiration = time.Minute
	}
	return cfg
}

func NewApiRouter(deps Deps) *ApiRouter {
	return &ApiRouter{deps: deps}
}
