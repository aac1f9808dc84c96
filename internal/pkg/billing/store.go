package billing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/CopyFox/app/models"
)

const maxStoredErrorLength = 2000

// EventStore is the durable, deduplicating record of every verified webhook.
type EventStore struct {
	repo Repository
	now  func() time.Time
}

// NewEventStore creates an event store on top of the billing repository.
func NewEventStore(repo Repository) *EventStore {
	return &EventStore{repo: repo, now: time.Now}
}

// Record persists a webhook idempotently. The first delivery of a
// (provider, provider event id) pair returns isNew=true; every later delivery
// returns the stored row untouched.
func (s *EventStore) Record(ctx context.Context, in RecordInput) (*models.BillingWebhookEvent, bool, error) {
	provider := strings.ToLower(strings.TrimSpace(in.Provider))
	if provider == "" {
		return nil, false, errors.New("provider is required")
	}
	eventID := strings.TrimSpace(in.ProviderEventID)
	if eventID == "" {
		sum := sha256.Sum256(in.Payload)
		eventID = "hash:" + hex.EncodeToString(sum[:])
	}
	receivedAt := in.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = s.now()
	}

	event := &models.BillingWebhookEvent{
		Provider:        provider,
		ProviderEventID: eventID,
		EventType:       strings.TrimSpace(in.EventType),
		PayloadJSON:     string(in.Payload),
		SignatureValid:  in.SignatureValid,
		ReceivedAt:      receivedAt.UTC(),
	}
	created, stored, err := s.repo.CreateWebhookEventIfNotExists(ctx, event)
	if err != nil {
		return nil, false, err
	}
	if !created {
		log.Debugf("[Billing] Duplicate delivery %s/%s (event row %d)", provider, eventID, stored.ID)
	}
	return stored, created, nil
}

// Get loads one event by id.
func (s *EventStore) Get(ctx context.Context, id uint) (*models.BillingWebhookEvent, error) {
	return s.repo.GetWebhookEvent(ctx, id)
}

// List returns a page of events and the total count for the filter.
func (s *EventStore) List(ctx context.Context, filter EventFilter, maxAttempts int) ([]models.BillingWebhookEvent, int64, error) {
	return s.repo.ListWebhookEvents(ctx, filter, maxAttempts)
}

// ListDue returns unprocessed, non-frozen events whose next attempt is older
// than minAge. Events never attempted count as due once they are minAge old.
func (s *EventStore) ListDue(ctx context.Context, minAge time.Duration, maxAttempts, limit int) ([]models.BillingWebhookEvent, error) {
	cutoff := s.now().Add(-minAge)
	return s.repo.ListDueWebhookEvents(ctx, cutoff, cutoff, maxAttempts, limit)
}

// MarkProcessed flags the event processed and links it to what it touched.
func (s *EventStore) MarkProcessed(ctx context.Context, id uint, kind EventKind, userID, subscriptionID uint) error {
	update := ProcessedUpdate{
		Kind:        string(kind),
		ProcessedAt: s.now().UTC(),
	}
	if userID != 0 {
		update.UserID = &userID
	}
	if subscriptionID != 0 {
		update.SubscriptionID = &subscriptionID
	}
	return s.repo.MarkWebhookProcessed(ctx, id, update)
}

// MarkFailed records a failed attempt that started when the event had
// attempts failures. It returns ErrAttemptSuperseded when another worker
// recorded an outcome first. A nil nextAttemptAt freezes the event for
// automatic processing.
func (s *EventStore) MarkFailed(ctx context.Context, id uint, kind EventKind, cause error, attempts int, nextAttemptAt *time.Time) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	if len(msg) > maxStoredErrorLength {
		msg = msg[:maxStoredErrorLength]
	}
	return s.repo.MarkWebhookFailed(ctx, id, FailedUpdate{
		Attempts:      attempts,
		Kind:          string(kind),
		FailureKind:   Classify(cause),
		Error:         msg,
		NextAttemptAt: nextAttemptAt,
	})
}
