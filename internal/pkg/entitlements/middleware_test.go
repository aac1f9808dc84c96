package entitlements

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/CopyFox/internal/pkg/usercontext"
)

type mapResolver map[uint]Entitlement

func (m mapResolver) ResolveUser(_ context.Context, userID uint) (Entitlement, error) {
	if userID == 13 {
		return Entitlement{}, errors.New("db down")
	}
	ent, ok := m[userID]
	if !ok {
		return Entitlement{}, ErrUserNotFound
	}
	return ent, nil
}

func TestRequireRole(t *testing.T) {
	resolver := mapResolver{
		1: {Role: RolePro, State: StateActive},
		2: {Role: RoleStarter, State: StateActive},
		3: {Role: RoleSuspended, State: StateSuspended},
	}

	newApp := func(userID uint) *fiber.App {
		app := fiber.New()
		app.Get("/pro", func(c *fiber.Ctx) error {
			if userID != 0 {
				usercontext.Set(c, usercontext.UserContext{UserID: userID, IsLoggedIn: true})
			}
			return c.Next()
		}, RequireRole(resolver, RolePro), func(c *fiber.Ctx) error {
			ent, ok := FromLocals(c)
			if !ok {
				return c.SendStatus(fiber.StatusInternalServerError)
			}
			return c.SendString(string(ent.Role))
		})
		return app
	}

	tests := []struct {
		name   string
		userID uint
		want   int
	}{
		{"anonymous", 0, fiber.StatusUnauthorized},
		{"unknown user", 42, fiber.StatusUnauthorized},
		{"resolver error fails closed", 13, fiber.StatusServiceUnavailable},
		{"suspended", 3, fiber.StatusForbidden},
		{"below minimum", 2, fiber.StatusForbidden},
		{"allowed", 1, fiber.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := newApp(tt.userID).Test(httptest.NewRequest(http.MethodGet, "/pro", nil))
			require.NoError(t, err)
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
}
