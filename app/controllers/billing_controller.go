package controllers

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/CopyFox/app/models"
	"github.com/ManuelReschke/CopyFox/internal/pkg/billing"
	"github.com/ManuelReschke/CopyFox/internal/pkg/metrics"
)

const (
	webhookRecordTimeout   = 15 * time.Second
	webhookDispatchTimeout = 30 * time.Second
)

// EventRecorder durably stores verified webhooks.
type EventRecorder interface {
	Record(ctx context.Context, in billing.RecordInput) (*models.BillingWebhookEvent, bool, error)
}

// EventDispatcher hands a recorded event to reconciliation.
type EventDispatcher interface {
	Dispatch(ctx context.Context, eventID uint) error
}

// BillingController receives provider webhooks. The only synchronous work it
// must finish before answering is the durable record.
type BillingController struct {
	events        EventRecorder
	dispatcher    EventDispatcher
	stripeSecret  string
	patreonSecret string
}

// NewBillingController creates the webhook controller
func NewBillingController(events EventRecorder, dispatcher EventDispatcher, cfg billing.Config) *BillingController {
	return &BillingController{
		events:        events,
		dispatcher:    dispatcher,
		stripeSecret:  cfg.StripeWebhookSecret,
		patreonSecret: cfg.PatreonWebhookSecret,
	}
}

// HandleStripeWebhook verifies the Stripe-Signature header and records the event.
func (bc *BillingController) HandleStripeWebhook(c *fiber.Ctx) error {
	if bc.stripeSecret == "" {
		return bc.respond(c, models.BillingProviderStripe, fiber.StatusServiceUnavailable, fiber.Map{"error": "webhook_not_configured"})
	}
	rawBody := append([]byte(nil), c.Body()...)

	event, err := billing.VerifyStripeWebhook(rawBody, c.Get("Stripe-Signature"), bc.stripeSecret)
	if err != nil {
		log.Warnf("[Webhook] Rejected stripe delivery: %v", err)
		return bc.respond(c, models.BillingProviderStripe, fiber.StatusBadRequest, fiber.Map{"error": "invalid_signature"})
	}

	return bc.accept(c, billing.RecordInput{
		Provider:        models.BillingProviderStripe,
		ProviderEventID: event.ID,
		EventType:       string(event.Type),
		Payload:         rawBody,
		SignatureValid:  true,
		ReceivedAt:      time.Now(),
	})
}

// HandlePatreonWebhook verifies X-Patreon-Signature and records the event.
func (bc *BillingController) HandlePatreonWebhook(c *fiber.Ctx) error {
	if bc.patreonSecret == "" {
		return bc.respond(c, models.BillingProviderPatreon, fiber.StatusServiceUnavailable, fiber.Map{"error": "webhook_not_configured"})
	}
	rawBody := append([]byte(nil), c.Body()...)

	if !billing.VerifyPatreonWebhookSignature(rawBody, c.Get("X-Patreon-Signature"), bc.patreonSecret) {
		log.Warnf("[Webhook] Rejected patreon delivery: %v", billing.ErrInvalidSignature)
		return bc.respond(c, models.BillingProviderPatreon, fiber.StatusUnauthorized, fiber.Map{"error": "invalid_signature"})
	}
	eventType := strings.TrimSpace(c.Get("X-Patreon-Event"))
	if eventType == "" {
		return bc.respond(c, models.BillingProviderPatreon, fiber.StatusBadRequest, fiber.Map{"error": "missing_event_type"})
	}

	eventID := firstHeaderValue(c, "X-Patreon-Delivery", "X-Patreon-Event-ID", "X-Patreon-Webhook-ID")
	if eventID == "" {
		eventID = patreonEventID(eventType, rawBody)
	}

	return bc.accept(c, billing.RecordInput{
		Provider:        models.BillingProviderPatreon,
		ProviderEventID: eventID,
		EventType:       eventType,
		Payload:         rawBody,
		SignatureValid:  true,
		ReceivedAt:      time.Now(),
	})
}

// accept records the event and dispatches it when it is new. Reconciliation
// failures never reach the provider: the row exists and will be retried.
func (bc *BillingController) accept(c *fiber.Ctx, in billing.RecordInput) error {
	ctx, cancel := context.WithTimeout(context.Background(), webhookRecordTimeout)
	defer cancel()

	stored, isNew, err := bc.events.Record(ctx, in)
	if err != nil {
		log.Errorf("[Webhook] Failed to record %s event %s: %v", in.Provider, in.ProviderEventID, err)
		return bc.respond(c, in.Provider, fiber.StatusInternalServerError, fiber.Map{"error": "webhook_persist_failed"})
	}
	if !isNew {
		metrics.WebhookDuplicatesTotal.WithLabelValues(in.Provider).Inc()
		return bc.respond(c, in.Provider, fiber.StatusOK, fiber.Map{"ok": true, "duplicate": true, "event_id": stored.ID})
	}

	dctx, dcancel := context.WithTimeout(context.Background(), webhookDispatchTimeout)
	defer dcancel()
	if err := bc.dispatcher.Dispatch(dctx, stored.ID); err != nil {
		// The retry sweeper picks the event up from the database.
		log.Errorf("[Webhook] Failed to dispatch %s event %d: %v", in.Provider, stored.ID, err)
	}
	return bc.respond(c, in.Provider, fiber.StatusOK, fiber.Map{"ok": true, "event_id": stored.ID})
}

func (bc *BillingController) respond(c *fiber.Ctx, provider string, status int, body fiber.Map) error {
	metrics.WebhookRequestsTotal.WithLabelValues(provider, strconv.Itoa(status)).Inc()
	return c.Status(status).JSON(body)
}

// patreonEventID derives a stable id for deliveries without a delivery
// header. The event type is part of the id because Patreon sends the same
// member document for different triggers.
func patreonEventID(eventType string, payload []byte) string {
	sum := sha256.Sum256(payload)
	return eventType + "/" + hex.EncodeToString(sum[:16])
}

func firstHeaderValue(c *fiber.Ctx, keys ...string) string {
	for _, k := range keys {
		v := strings.TrimSpace(c.Get(k))
		if v != "" {
			return v
		}
	}
	return ""
}

// errorResponse writes the standard error body.
func errorResponse(c *fiber.Ctx, status int, code, message string) error {
	return c.Status(status).JSON(fiber.Map{"error": code, "message": message})
}

// parseIDParam reads a positive numeric route parameter.
func parseIDParam(c *fiber.Ctx, name string) (uint, error) {
	raw := strings.TrimSpace(c.Params(name))
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, errors.New("invalid " + name)
	}
	return uint(id), nil
}
