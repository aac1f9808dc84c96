package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/CopyFox/app/models"
)

const defaultVersionRetries = 5

const (
	ReasonCreated           = "created"
	ReasonApplied           = "applied"
	ReasonStale             = "stale"
	ReasonIllegalTransition = "illegal_transition"
)

// Transition is one requested change to a subscription's ledger head.
type Transition struct {
	UserID                 uint
	Provider               string
	ProviderSubscriptionID string
	ProviderCustomerID     string
	Kind                   EventKind
	EffectiveAt            time.Time
	// State is the full subscription carried by subscription.* events.
	State *SubscriptionState
	// PeriodEnd is the paid-through date carried by invoice events.
	PeriodEnd *time.Time
	// TargetStatus forces a status (admin overrides).
	TargetStatus   string
	Force          bool
	WebhookEventID *uint
	Source         string
	Reason         string
}

// ApplyResult describes the effect of Ledger.Apply.
type ApplyResult struct {
	Subscription   *models.BillingSubscription
	PreviousStatus string
	Created        bool
	Changed        bool
	Reason         string
}

// Ledger owns the subscription heads and their append-only revisions.
type Ledger struct {
	repo           Repository
	versionRetries int
}

// NewLedger creates a ledger on top of the billing repository.
func NewLedger(repo Repository) *Ledger {
	return &Ledger{repo: repo, versionRetries: defaultVersionRetries}
}

// Apply moves the head for t's subscription forward. Events whose effective
// time is not strictly newer than the head, and newer events that describe an
// illegal transition, are accepted without change.
func (l *Ledger) Apply(ctx context.Context, t Transition) (*ApplyResult, error) {
	if t.Source == "" {
		t.Source = models.RevisionSourceWebhook
	}
	t.EffectiveAt = t.EffectiveAt.UTC()

	for attempt := 0; attempt < l.versionRetries; attempt++ {
		head, err := l.repo.GetSubscription(ctx, t.Provider, t.ProviderSubscriptionID)
		if errors.Is(err, ErrSubscriptionNotFound) {
			if t.State == nil {
				return nil, Retryable(fmt.Errorf("%w: %s/%s", ErrSubscriptionNotFound, t.Provider, t.ProviderSubscriptionID))
			}
			sub := newHead(t)
			rev := sub.NewRevision("", t.Source, t.WebhookEventID)
			rev.Reason = t.Reason
			err := l.repo.CreateSubscription(ctx, sub, rev)
			if errors.Is(err, ErrDuplicateSubscription) {
				// Lost the insert race; re-read and apply against the winner.
				continue
			}
			if err != nil {
				return nil, Retryable(fmt.Errorf("create subscription head: %w", err))
			}
			return &ApplyResult{Subscription: sub, Created: true, Changed: true, Reason: ReasonCreated}, nil
		}
		if err != nil {
			return nil, Retryable(fmt.Errorf("load subscription head: %w", err))
		}

		if !t.EffectiveAt.After(head.StateChangedAt) {
			log.Debugf("[Ledger] Ignoring %s for %s/%s: effective %s is not newer than %s",
				t.Kind, t.Provider, t.ProviderSubscriptionID, t.EffectiveAt.Format(time.RFC3339), head.StateChangedAt.Format(time.RFC3339))
			return &ApplyResult{Subscription: head, PreviousStatus: head.Status, Reason: ReasonStale}, nil
		}

		next := nextHead(head, t)
		if !t.Force && !CanTransition(head.Status, next.Status) {
			if head.Status == next.Status {
				log.Debugf("[Ledger] Subscription %d already %s; ignoring %s", head.ID, head.Status, t.Kind)
				return &ApplyResult{Subscription: head, PreviousStatus: head.Status, Reason: ReasonIllegalTransition}, nil
			}
			log.Warnf("[Ledger] Illegal transition %s -> %s for %s/%s (%s); keeping current state",
				head.Status, next.Status, t.Provider, t.ProviderSubscriptionID, t.Kind)
			return &ApplyResult{Subscription: head, PreviousStatus: head.Status, Reason: ReasonIllegalTransition}, nil
		}

		expected := head.Version
		next.Version = expected + 1
		next.StateChangedAt = t.EffectiveAt
		rev := next.NewRevision(head.Status, t.Source, t.WebhookEventID)
		rev.Reason = t.Reason
		err = l.repo.UpdateSubscription(ctx, next, expected, rev)
		if errors.Is(err, ErrVersionConflict) {
			log.Debugf("[Ledger] Version conflict on subscription %d (v%d), retrying", head.ID, expected)
			continue
		}
		if err != nil {
			return nil, Retryable(fmt.Errorf("update subscription head: %w", err))
		}
		return &ApplyResult{Subscription: next, PreviousStatus: head.Status, Changed: true, Reason: ReasonApplied}, nil
	}
	return nil, Retryable(fmt.Errorf("%w after %d attempts", ErrVersionConflict, l.versionRetries))
}

// Current returns every subscription head owned by the user.
func (l *Ledger) Current(ctx context.Context, userID uint) ([]models.BillingSubscription, error) {
	return l.repo.ListSubscriptionsByUser(ctx, userID)
}

// History returns the user's revisions ordered by effective time.
func (l *Ledger) History(ctx context.Context, userID uint) ([]models.BillingSubscriptionRevision, error) {
	return l.repo.ListRevisionsByUser(ctx, userID)
}

// Override forces a status on a subscription head on behalf of an operator.
// It bypasses the transition table but still appends a revision.
func (l *Ledger) Override(ctx context.Context, subscriptionID uint, status, reason string, now time.Time) (*ApplyResult, error) {
	if !IsKnownStatus(status) {
		return nil, Fatal(fmt.Errorf("unknown subscription status %q", status))
	}
	head, err := l.repo.GetSubscriptionByID(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	effectiveAt := now.UTC()
	if !effectiveAt.After(head.StateChangedAt) {
		effectiveAt = head.StateChangedAt.Add(time.Second)
	}
	return l.Apply(ctx, Transition{
		UserID:                 head.UserID,
		Provider:               head.Provider,
		ProviderSubscriptionID: head.ProviderSubscriptionID,
		EffectiveAt:            effectiveAt,
		TargetStatus:           status,
		Force:                  true,
		Source:                 models.RevisionSourceAdmin,
		Reason:                 reason,
	})
}

func newHead(t Transition) *models.BillingSubscription {
	sub := &models.BillingSubscription{
		UserID:                 t.UserID,
		Provider:               t.Provider,
		ProviderSubscriptionID: t.ProviderSubscriptionID,
		ProviderCustomerID:     t.ProviderCustomerID,
		StateChangedAt:         t.EffectiveAt,
		Version:                1,
		BillingInterval:        models.BillingIntervalUnknown,
	}
	applyState(sub, t.State)
	sub.Status = targetStatus(sub.Status, t)
	trackPastDue(sub, "", t.EffectiveAt)
	if t.Kind == KindSubscriptionDeleted {
		markEnded(sub, t.EffectiveAt)
	}
	return sub
}

func nextHead(head *models.BillingSubscription, t Transition) *models.BillingSubscription {
	next := *head
	if t.ProviderCustomerID != "" {
		next.ProviderCustomerID = t.ProviderCustomerID
	}
	applyState(&next, t.State)
	next.Status = targetStatus(head.Status, t)
	trackPastDue(&next, head.Status, t.EffectiveAt)

	if t.PeriodEnd != nil && (next.CurrentPeriodEnd == nil || t.PeriodEnd.After(*next.CurrentPeriodEnd)) {
		pe := t.PeriodEnd.UTC()
		next.CurrentPeriodEnd = &pe
	}
	if t.Kind == KindSubscriptionDeleted || (t.Force && next.Status == models.BillingStatusCanceled) {
		markEnded(&next, t.EffectiveAt)
	}
	if t.Force && !IsTerminal(next.Status) {
		// Reinstated by an operator.
		next.CanceledAt = nil
		next.EndedAt = nil
	}
	return &next
}

func applyState(sub *models.BillingSubscription, state *SubscriptionState) {
	if state == nil {
		return
	}
	sub.Status = state.Status
	sub.PlanID = state.PlanID
	sub.PlanName = state.PlanName
	sub.Amount = state.Amount
	sub.Currency = state.Currency
	sub.BillingInterval = normalizeInterval(state.Interval)
	sub.CurrentPeriodStart = utcPtr(state.CurrentPeriodStart)
	sub.CurrentPeriodEnd = utcPtr(state.CurrentPeriodEnd)
	if state.CanceledAt != nil {
		sub.CanceledAt = utcPtr(state.CanceledAt)
	}
	if state.EndedAt != nil {
		sub.EndedAt = utcPtr(state.EndedAt)
	}
}

// targetStatus computes the status a transition asks for, given the head's
// current status.
func targetStatus(current string, t Transition) string {
	if t.TargetStatus != "" {
		return t.TargetStatus
	}
	switch t.Kind {
	case KindSubscriptionDeleted:
		return models.BillingStatusCanceled
	case KindSubscriptionCreated, KindSubscriptionUpdated:
		if t.State != nil {
			return t.State.Status
		}
	case KindInvoicePaid:
		if current == models.BillingStatusPastDue {
			return models.BillingStatusActive
		}
	case KindInvoicePaymentFailed:
		if current == models.BillingStatusActive || current == models.BillingStatusTrialing {
			return models.BillingStatusPastDue
		}
	}
	return current
}

// trackPastDue stamps the moment a subscription enters past_due and keeps it
// across further past_due updates.
func trackPastDue(sub *models.BillingSubscription, previous string, at time.Time) {
	switch {
	case sub.Status != models.BillingStatusPastDue:
		sub.PastDueSince = nil
	case previous != models.BillingStatusPastDue || sub.PastDueSince == nil:
		at = at.UTC()
		sub.PastDueSince = &at
	}
}

func markEnded(sub *models.BillingSubscription, at time.Time) {
	at = at.UTC()
	if sub.CanceledAt == nil {
		sub.CanceledAt = &at
	}
	if sub.EndedAt == nil {
		sub.EndedAt = &at
	}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
