package middleware

import (
	"crypto/subtle"
	"strings"

	"github.com/gofiber/fiber/v2"

	icuser "github.com/ManuelReschke/CopyFox/internal/pkg/usercontext"
)

// AdminKeyHeader carries the operator key on admin routes.
const AdminKeyHeader = "X-Admin-Key"

// AdminKeyMiddleware admits requests carrying the configured operator key.
// With no key configured the admin surface is closed.
func AdminKeyMiddleware(adminKey string) fiber.Handler {
	expected := []byte(strings.TrimSpace(adminKey))
	return func(c *fiber.Ctx) error {
		if len(expected) == 0 {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"error":   "admin_disabled",
				"message": "admin API key is not configured",
			})
		}
		given := []byte(strings.TrimSpace(c.Get(AdminKeyHeader)))
		if len(given) == 0 || subtle.ConstantTimeCompare(given, expected) != 1 {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error":   "unauthorized",
				"message": "invalid admin key",
			})
		}
		icuser.Set(c, icuser.UserContext{IsLoggedIn: true, IsAdmin: true})
		return c.Next()
	}
}
