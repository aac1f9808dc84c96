package entitlements

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/CopyFox/internal/pkg/usercontext"
)

// LocalsKey holds the request-scoped Entitlement.
const LocalsKey = "entitlement"

// Resolver is the part of Service the middleware needs.
type Resolver interface {
	ResolveUser(ctx context.Context, userID uint) (Entitlement, error)
}

// RequireRole resolves the caller's entitlement once per request and rejects
// callers below min. Suspended users are always rejected.
func RequireRole(resolver Resolver, min Role) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := usercontext.GetUserID(c)
		if userID == 0 {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "authentication required"})
		}

		ent, err := resolver.ResolveUser(c.UserContext(), userID)
		if err != nil {
			if errors.Is(err, ErrUserNotFound) {
				return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "unknown user"})
			}
			log.Errorf("[Entitlements] Resolve failed for user %d: %v", userID, err)
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "entitlement_unavailable", "message": "could not resolve entitlement"})
		}
		c.Locals(LocalsKey, ent)

		if ent.Role == RoleSuspended {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "account_suspended", "message": "access to this account is suspended"})
		}
		if !ent.Role.AtLeast(min) {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error":         "upgrade_required",
				"message":       "this feature requires a higher plan",
				"required_role": min,
				"current_role":  ent.Role,
			})
		}
		return c.Next()
	}
}

// FromLocals returns the entitlement stored by RequireRole.
func FromLocals(c *fiber.Ctx) (Entitlement, bool) {
	ent, ok := c.Locals(LocalsKey).(Entitlement)
	return ent, ok
}
