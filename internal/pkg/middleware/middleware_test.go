package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/CopyFox/app/models"
	"github.com/ManuelReschke/CopyFox/internal/pkg/usercontext"
)

type keyLookup struct {
	users map[string]*models.User
	err   error
}

func (k *keyLookup) GetByAPIKeyHash(_ context.Context, hash string) (*models.User, error) {
	if k.err != nil {
		return nil, k.err
	}
	return k.users[hash], nil
}

func whoAmI(c *fiber.Ctx) error {
	uc := usercontext.GetUserContext(c)
	return c.JSON(fiber.Map{"user_id": uc.UserID, "is_admin": uc.IsAdmin})
}

func TestAPIKeyAuthMiddleware(t *testing.T) {
	active := &models.User{ID: 7, Email: "a@example.com", Status: models.STATUS_ACTIVE}
	disabled := &models.User{ID: 8, Email: "b@example.com", Status: models.STATUS_DISABLED}
	lookup := &keyLookup{users: map[string]*models.User{
		models.HashAPIKey("cfx_active"):   active,
		models.HashAPIKey("cfx_disabled"): disabled,
	}}

	app := fiber.New()
	app.Get("/me", APIKeyAuthMiddleware(lookup), whoAmI)

	tests := []struct {
		name   string
		header string
		value  string
		want   int
	}{
		{"missing", "", "", fiber.StatusUnauthorized},
		{"unknown", "X-API-Key", "cfx_nope", fiber.StatusUnauthorized},
		{"header key", "X-API-Key", "cfx_active", fiber.StatusOK},
		{"bearer", "Authorization", "Bearer cfx_active", fiber.StatusOK},
		{"disabled user", "X-API-Key", "cfx_disabled", fiber.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
}

func TestAPIKeyAuthMiddleware_LookupError(t *testing.T) {
	app := fiber.New()
	app.Get("/me", APIKeyAuthMiddleware(&keyLookup{err: errors.New("db down")}), whoAmI)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("X-API-Key", "cfx_active")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)
}

func TestAdminKeyMiddleware(t *testing.T) {
	app := fiber.New()
	app.Get("/admin", AdminKeyMiddleware("s3cret"), func(c *fiber.Ctx) error {
		if !usercontext.IsAdmin(c) {
			return c.SendStatus(fiber.StatusTeapot)
		}
		return c.SendStatus(fiber.StatusOK)
	})

	for key, want := range map[string]int{
		"":        fiber.StatusUnauthorized,
		"wrong":   fiber.StatusUnauthorized,
		"s3cret":  fiber.StatusOK,
		" s3cret": fiber.StatusOK,
	} {
		req := httptest.NewRequest(http.MethodGet, "/admin", nil)
		if key != "" {
			req.Header.Set(AdminKeyHeader, key)
		}
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, want, resp.StatusCode, "key %q", key)
	}
}

func TestAdminKeyMiddleware_NotConfigured(t *testing.T) {
	app := fiber.New()
	app.Get("/admin", AdminKeyMiddleware(""), func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set(AdminKeyHeader, "anything")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)
}
