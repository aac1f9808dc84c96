package controllers

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/ManuelReschke/CopyFox/app/models"
	"github.com/ManuelReschke/CopyFox/internal/pkg/abuse"
	"github.com/ManuelReschke/CopyFox/internal/pkg/billing"
	"github.com/ManuelReschke/CopyFox/internal/pkg/entitlements"
)

var validate = validator.New()

// AdminEventStore reads recorded webhook events.
type AdminEventStore interface {
	Get(ctx context.Context, id uint) (*models.BillingWebhookEvent, error)
	List(ctx context.Context, filter billing.EventFilter, maxAttempts int) ([]models.BillingWebhookEvent, int64, error)
}

// AdminEngine is the operator side of the reconciliation engine.
type AdminEngine interface {
	Retry(ctx context.Context, eventID uint) (*billing.ProcessResult, error)
	Override(ctx context.Context, subscriptionID uint, status, reason string) (*billing.ApplyResult, *entitlements.Change, error)
	LinkAccount(ctx context.Context, userID uint, provider, providerAccountID, email string) (*models.BillingAccount, error)
	Policy() billing.RetryPolicy
}

// LedgerReader exposes subscription heads and their history.
type LedgerReader interface {
	Current(ctx context.Context, userID uint) ([]models.BillingSubscription, error)
	History(ctx context.Context, userID uint) ([]models.BillingSubscriptionRevision, error)
}

// EntitlementSyncer recomputes a user's role projection.
type EntitlementSyncer interface {
	SyncUser(ctx context.Context, userID uint) (*entitlements.Change, error)
}

// AccessWriter toggles operator suspension.
type AccessWriter interface {
	SetAccessGranted(ctx context.Context, id uint, granted bool, reason string) error
}

// UserDirectory lists and searches accounts for operators.
type UserDirectory interface {
	List(ctx context.Context, offset, limit int) ([]models.User, error)
	Count(ctx context.Context) (int64, error)
	Search(ctx context.Context, query string) ([]models.User, error)
	GetDailySignups(ctx context.Context, startDate, endDate time.Time) ([]models.DailyStats, error)
}

// SignalLister lists advisory abuse signals.
type SignalLister interface {
	Signals(ctx context.Context, filter abuse.SignalFilter) ([]models.AbuseSignal, int64, error)
}

// AdminDeps bundles what the admin surface talks to.
type AdminDeps struct {
	Events       AdminEventStore
	Engine       AdminEngine
	Ledger       LedgerReader
	Entitlements EntitlementSyncer
	Users        AccessWriter
	Directory    UserDirectory
	Abuse        SignalLister
}

// AdminController serves operator triage: event listing and replay,
// subscription history and overrides, suspension and abuse signals.
type AdminController struct {
	AdminDeps
}

// NewAdminController creates the admin controller
func NewAdminController(deps AdminDeps) *AdminController {
	return &AdminController{AdminDeps: deps}
}

type eventView struct {
	models.BillingWebhookEvent
	Status string `json:"status"`
}

// eventStatus names where an event stands for operators.
func eventStatus(e *models.BillingWebhookEvent, maxAttempts int) string {
	switch {
	case e.Processed:
		return "processed"
	case e.IsFrozen(maxAttempts):
		return "failed"
	case e.FailureKind == models.WebhookFailureRetryable:
		return "retrying"
	default:
		return "pending"
	}
}

func (ac *AdminController) view(e *models.BillingWebhookEvent, withPayload bool) eventView {
	v := eventView{BillingWebhookEvent: *e, Status: eventStatus(e, ac.Engine.Policy().MaxAttempts)}
	if !withPayload {
		v.PayloadJSON = ""
	}
	return v
}

// HandleListEvents lists events with status, attempts and last error.
func (ac *AdminController) HandleListEvents(c *fiber.Ctx) error {
	filter := billing.EventFilter{
		Provider:  strings.ToLower(strings.TrimSpace(c.Query("provider"))),
		EventType: strings.TrimSpace(c.Query("type")),
		Status:    strings.ToLower(strings.TrimSpace(c.Query("status"))),
		Offset:    c.QueryInt("offset", 0),
		Limit:     c.QueryInt("limit", 50),
	}
	switch filter.Status {
	case "", "processed", "pending", "retrying", "failed":
	default:
		return errorResponse(c, fiber.StatusBadRequest, "invalid_status", "status must be processed, pending, retrying or failed")
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	events, total, err := ac.Events.List(c.UserContext(), filter, ac.Engine.Policy().MaxAttempts)
	if err != nil {
		log.Errorf("[Admin] List events failed: %v", err)
		return errorResponse(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to list events")
	}
	items := make([]eventView, 0, len(events))
	for i := range events {
		items = append(items, ac.view(&events[i], false))
	}
	return c.JSON(fiber.Map{"events": items, "total": total, "offset": filter.Offset})
}

// HandleGetEvent returns one event including its stored payload.
func (ac *AdminController) HandleGetEvent(c *fiber.Ctx) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return errorResponse(c, fiber.StatusBadRequest, "invalid_id", err.Error())
	}
	event, err := ac.Events.Get(c.UserContext(), id)
	if err != nil {
		if errors.Is(err, billing.ErrEventNotFound) {
			return errorResponse(c, fiber.StatusNotFound, "not_found", "Event not found")
		}
		log.Errorf("[Admin] Get event %d failed: %v", id, err)
		return errorResponse(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load event")
	}
	return c.JSON(ac.view(event, true))
}

// HandleRetryEvent replays a stored event through the engine, including
// events frozen after a fatal error or exhausted retries.
func (ac *AdminController) HandleRetryEvent(c *fiber.Ctx) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return errorResponse(c, fiber.StatusBadRequest, "invalid_id", err.Error())
	}
	result, err := ac.Engine.Retry(c.UserContext(), id)
	if err != nil {
		if errors.Is(err, billing.ErrEventNotFound) {
			return errorResponse(c, fiber.StatusNotFound, "not_found", "Event not found")
		}
		log.Errorf("[Admin] Retry of event %d failed: %v", id, err)
		return errorResponse(c, fiber.StatusInternalServerError, "internal_server_error", "Retry failed")
	}
	switch result.Outcome {
	case billing.OutcomeAlreadyProcessed:
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error":   "already_processed",
			"message": "Event was already processed",
			"result":  result,
		})
	case billing.OutcomeSuperseded:
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error":   "superseded",
			"message": "Event is being processed by another worker",
			"result":  result,
		})
	}
	log.Infof("[Admin] Event %d replayed: %s", id, result.Outcome)
	return c.JSON(fiber.Map{"result": result, "error": result.Error()})
}

// HandleSubscriptionHistory returns the user's ledger heads and revisions.
func (ac *AdminController) HandleSubscriptionHistory(c *fiber.Ctx) error {
	userID, err := parseIDParam(c, "userId")
	if err != nil {
		return errorResponse(c, fiber.StatusBadRequest, "invalid_id", err.Error())
	}
	ctx := c.UserContext()
	current, err := ac.Ledger.Current(ctx, userID)
	if err != nil {
		log.Errorf("[Admin] Load subscriptions of user %d failed: %v", userID, err)
		return errorResponse(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load subscriptions")
	}
	history, err := ac.Ledger.History(ctx, userID)
	if err != nil {
		log.Errorf("[Admin] Load history of user %d failed: %v", userID, err)
		return errorResponse(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load history")
	}
	return c.JSON(fiber.Map{"user_id": userID, "subscriptions": current, "revisions": history})
}

type overrideRequest struct {
	Status string `json:"status" validate:"required,oneof=trialing active past_due canceled unpaid"`
	Reason string `json:"reason" validate:"required,min=3,max=255"`
}

// HandleOverrideSubscription forces a subscription status and resyncs the owner.
func (ac *AdminController) HandleOverrideSubscription(c *fiber.Ctx) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return errorResponse(c, fiber.StatusBadRequest, "invalid_id", err.Error())
	}
	var req overrideRequest
	if err := c.BodyParser(&req); err != nil {
		return errorResponse(c, fiber.StatusBadRequest, "invalid_body", "Malformed request body")
	}
	req.Status = strings.ToLower(strings.TrimSpace(req.Status))
	req.Reason = strings.TrimSpace(req.Reason)
	if err := validate.Struct(req); err != nil {
		return errorResponse(c, fiber.StatusBadRequest, "validation_failed", err.Error())
	}

	applied, change, err := ac.Engine.Override(c.UserContext(), id, req.Status, req.Reason)
	if err != nil {
		switch {
		case errors.Is(err, billing.ErrSubscriptionNotFound):
			return errorResponse(c, fiber.StatusNotFound, "not_found", "Subscription not found")
		case billing.IsFatal(err):
			return errorResponse(c, fiber.StatusBadRequest, "invalid_override", err.Error())
		}
		if applied != nil {
			// The ledger changed; only the role sync failed and the grace sweep repeats it.
			log.Errorf("[Admin] Override of subscription %d applied but sync failed: %v", id, err)
			return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"subscription": applied.Subscription, "sync_error": err.Error()})
		}
		log.Errorf("[Admin] Override of subscription %d failed: %v", id, err)
		return errorResponse(c, fiber.StatusInternalServerError, "internal_server_error", "Override failed")
	}
	return c.JSON(fiber.Map{"subscription": applied.Subscription, "changed": applied.Changed, "role_change": change})
}

type accessRequest struct {
	Reason string `json:"reason" validate:"max=255"`
}

// HandleSuspendUser revokes access and resyncs the role to suspended.
func (ac *AdminController) HandleSuspendUser(c *fiber.Ctx) error {
	return ac.setAccess(c, false)
}

// HandleReinstateUser restores access and resyncs the role from the ledger.
func (ac *AdminController) HandleReinstateUser(c *fiber.Ctx) error {
	return ac.setAccess(c, true)
}

func (ac *AdminController) setAccess(c *fiber.Ctx, granted bool) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return errorResponse(c, fiber.StatusBadRequest, "invalid_id", err.Error())
	}
	var req accessRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return errorResponse(c, fiber.StatusBadRequest, "invalid_body", "Malformed request body")
		}
	}
	req.Reason = strings.TrimSpace(req.Reason)
	if err := validate.Struct(req); err != nil {
		return errorResponse(c, fiber.StatusBadRequest, "validation_failed", err.Error())
	}
	if !granted && req.Reason == "" {
		req.Reason = "suspended by operator"
	}

	if err := ac.Users.SetAccessGranted(c.UserContext(), id, granted, req.Reason); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return errorResponse(c, fiber.StatusNotFound, "not_found", "User not found")
		}
		log.Errorf("[Admin] Set access for user %d failed: %v", id, err)
		return errorResponse(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to update user")
	}
	log.Infof("[Admin] User %d access_granted=%t (%s)", id, granted, req.Reason)
	return ac.sync(c, id)
}

// HandleResyncUser recomputes the role projection from the ledger.
func (ac *AdminController) HandleResyncUser(c *fiber.Ctx) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return errorResponse(c, fiber.StatusBadRequest, "invalid_id", err.Error())
	}
	return ac.sync(c, id)
}

func (ac *AdminController) sync(c *fiber.Ctx, userID uint) error {
	change, err := ac.Entitlements.SyncUser(c.UserContext(), userID)
	if err != nil {
		if errors.Is(err, entitlements.ErrUserNotFound) {
			return errorResponse(c, fiber.StatusNotFound, "not_found", "User not found")
		}
		log.Errorf("[Admin] Sync of user %d failed: %v", userID, err)
		return errorResponse(c, fiber.StatusInternalServerError, "internal_server_error", "Entitlement sync failed")
	}
	return c.JSON(fiber.Map{"change": change, "changed": change.Changed()})
}

// HandleListAbuseSignals lists advisory signals for review.
func (ac *AdminController) HandleListAbuseSignals(c *fiber.Ctx) error {
	filter := abuse.SignalFilter{
		SignalType: strings.TrimSpace(c.Query("type")),
		IPAddress:  strings.TrimSpace(c.Query("ip")),
		Offset:     c.QueryInt("offset", 0),
		Limit:      c.QueryInt("limit", 50),
	}
	if raw := strings.TrimSpace(c.Query("user_id")); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return errorResponse(c, fiber.StatusBadRequest, "invalid_user_id", "user_id must be numeric")
		}
		filter.UserID = uint(id)
	}
	if raw := strings.TrimSpace(c.Query("since")); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return errorResponse(c, fiber.StatusBadRequest, "invalid_since", "since must be RFC3339")
		}
		filter.Since = since
	}

	signals, total, err := ac.Abuse.Signals(c.UserContext(), filter)
	if err != nil {
		log.Errorf("[Admin] List abuse signals failed: %v", err)
		return errorResponse(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to list signals")
	}
	return c.JSON(fiber.Map{"signals": signals, "total": total})
}

type linkAccountRequest struct {
	UserID            uint   `json:"user_id" validate:"required"`
	Provider          string `json:"provider" validate:"required,oneof=stripe patreon"`
	ProviderAccountID string `json:"provider_account_id" validate:"required,max=191"`
	Email             string `json:"email" validate:"omitempty,email,max=200"`
}

// HandleLinkAccount links a provider customer to a user so that events of
// that customer can be resolved.
func (ac *AdminController) HandleLinkAccount(c *fiber.Ctx) error {
	var req linkAccountRequest
	if err := c.BodyParser(&req); err != nil {
		return errorResponse(c, fiber.StatusBadRequest, "invalid_body", "Malformed request body")
	}
	req.Provider = strings.ToLower(strings.TrimSpace(req.Provider))
	req.ProviderAccountID = strings.TrimSpace(req.ProviderAccountID)
	req.Email = strings.TrimSpace(req.Email)
	if err := validate.Struct(req); err != nil {
		return errorResponse(c, fiber.StatusBadRequest, "validation_failed", err.Error())
	}

	account, err := ac.Engine.LinkAccount(c.UserContext(), req.UserID, req.Provider, req.ProviderAccountID, req.Email)
	if err != nil {
		log.Errorf("[Admin] Link %s account %s failed: %v", req.Provider, req.ProviderAccountID, err)
		return errorResponse(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to link account")
	}
	return c.Status(fiber.StatusCreated).JSON(account)
}

// HandleListUsers pages through accounts, or searches name and email when q is set.
func (ac *AdminController) HandleListUsers(c *fiber.Ctx) error {
	ctx := c.UserContext()
	if q := strings.TrimSpace(c.Query("q")); q != "" {
		users, err := ac.Directory.Search(ctx, q)
		if err != nil {
			log.Errorf("[Admin] User search failed: %v", err)
			return errorResponse(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to search users")
		}
		return c.JSON(fiber.Map{"users": users, "total": len(users)})
	}

	offset := c.QueryInt("offset", 0)
	limit := c.QueryInt("limit", 50)
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	users, err := ac.Directory.List(ctx, offset, limit)
	if err != nil {
		log.Errorf("[Admin] User list failed: %v", err)
		return errorResponse(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to list users")
	}
	total, err := ac.Directory.Count(ctx)
	if err != nil {
		log.Errorf("[Admin] User count failed: %v", err)
		return errorResponse(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to count users")
	}
	return c.JSON(fiber.Map{"users": users, "total": total, "offset": offset})
}

// HandleSignupStats returns daily signup counts for the last days (default 30).
func (ac *AdminController) HandleSignupStats(c *fiber.Ctx) error {
	days := c.QueryInt("days", 30)
	if days < 1 || days > 365 {
		return errorResponse(c, fiber.StatusBadRequest, "invalid_days", "days must be between 1 and 365")
	}
	end := time.Now().UTC()
	start := end.AddDate(0, 0, -days)
	stats, err := ac.Directory.GetDailySignups(c.UserContext(), start, end)
	if err != nil {
		log.Errorf("[Admin] Signup stats failed: %v", err)
		return errorResponse(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load signup stats")
	}
	return c.JSON(fiber.Map{"days": days, "signups": stats})
}
