package controllers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/CopyFox/internal/pkg/entitlements"
)

// EntitlementController answers "what may this user do right now".
type EntitlementController struct {
	resolver entitlements.Resolver
}

// NewEntitlementController creates the entitlement controller
func NewEntitlementController(resolver entitlements.Resolver) *EntitlementController {
	return &EntitlementController{resolver: resolver}
}

// HandleGetUserEntitlement resolves any user's entitlement (operators).
func (ec *EntitlementController) HandleGetUserEntitlement(c *fiber.Ctx) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return errorResponse(c, fiber.StatusBadRequest, "invalid_id", err.Error())
	}
	ent, err := ec.resolver.ResolveUser(c.UserContext(), id)
	if err != nil {
		if errors.Is(err, entitlements.ErrUserNotFound) {
			return errorResponse(c, fiber.StatusNotFound, "not_found", "User not found")
		}
		log.Errorf("[Entitlements] Resolve for user %d failed: %v", id, err)
		return errorResponse(c, fiber.StatusServiceUnavailable, "entitlement_unavailable", "Could not resolve entitlement")
	}
	return c.JSON(fiber.Map{"user_id": id, "entitlement": ent})
}

// HandleGetOwnEntitlement returns the entitlement RequireRole resolved for
// the caller.
func (ec *EntitlementController) HandleGetOwnEntitlement(c *fiber.Ctx) error {
	ent, ok := entitlements.FromLocals(c)
	if !ok {
		return errorResponse(c, fiber.StatusInternalServerError, "internal_server_error", "Entitlement not resolved")
	}
	return c.JSON(fiber.Map{"entitlement": ent})
}
