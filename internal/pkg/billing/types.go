package billing

import (
	"time"
)

// EventKind is the provider-independent name of a billing event.
type EventKind string

const (
	KindSubscriptionCreated  EventKind = "subscription.created"
	KindSubscriptionUpdated  EventKind = "subscription.updated"
	KindSubscriptionDeleted  EventKind = "subscription.deleted"
	KindInvoicePaid          EventKind = "invoice.paid"
	KindInvoicePaymentFailed EventKind = "invoice.payment_failed"
	KindTrialWillEnd         EventKind = "subscription.trial_will_end"
	KindUnknown              EventKind = "unknown"
)

// CarriesSubscriptionState reports whether events of this kind include the
// full subscription object (and may therefore create a ledger head).
func (k EventKind) CarriesSubscriptionState() bool {
	switch k {
	case KindSubscriptionCreated, KindSubscriptionUpdated, KindSubscriptionDeleted:
		return true
	default:
		return false
	}
}

// RecordInput is what the HTTP layer hands to the event store after the
// signature has been verified.
type RecordInput struct {
	Provider        string
	ProviderEventID string
	EventType       string
	Payload         []byte
	SignatureValid  bool
	ReceivedAt      time.Time
}

// SubscriptionState is the provider subscription as carried by an event,
// with the status already mapped onto the internal state machine.
type SubscriptionState struct {
	Status             string `validate:"required,oneof=trialing active past_due canceled unpaid"`
	PlanID             string `validate:"required,max=191"`
	PlanName           string
	Amount             int64 `validate:"gte=0"`
	Currency           string
	Interval           string
	CurrentPeriodStart *time.Time
	CurrentPeriodEnd   *time.Time
	CanceledAt         *time.Time
	EndedAt            *time.Time
}

// NormalizedEvent is the parsed, provider-independent view of a webhook.
type NormalizedEvent struct {
	Provider               string    `validate:"required,oneof=stripe patreon"`
	Kind                   EventKind `validate:"required"`
	EffectiveAt            time.Time `validate:"required"`
	ProviderCustomerID     string    `validate:"max=191"`
	ProviderSubscriptionID string    `validate:"max=191"`
	// UserRef is the internal user id carried in provider metadata, if any.
	UserRef string
	Email   string

	Subscription *SubscriptionState
	// PeriodEnd is the paid-through date carried by invoice events.
	PeriodEnd *time.Time
}

// Outcome summarizes what Process did with an event.
type Outcome string

const (
	OutcomeApplied          Outcome = "applied"
	OutcomeAlreadyProcessed Outcome = "already_processed"
	OutcomeRetryScheduled   Outcome = "retry_scheduled"
	OutcomeExhausted        Outcome = "exhausted"
	OutcomeFatal            Outcome = "fatal"
	OutcomeSuperseded       Outcome = "superseded"
)

// HandleResult is returned by Engine.Handle on success.
type HandleResult struct {
	Kind           EventKind
	UserID         uint
	SubscriptionID uint
	Changed        bool
	Reason         string
}

// EventFilter narrows admin listings of webhook events.
type EventFilter struct {
	Provider  string
	EventType string
	// Status is one of "", "processed", "pending", "retrying", "failed".
	Status string
	Offset int
	Limit  int
}
