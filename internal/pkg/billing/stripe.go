package billing

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	stripelib "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/ManuelReschke/CopyFox/app/models"
)

// VerifyStripeWebhook checks the Stripe-Signature header and returns the
// decoded event envelope.
func VerifyStripeWebhook(payload []byte, signatureHeader, secret string) (*stripelib.Event, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("stripe webhook secret not configured")
	}
	if strings.TrimSpace(signatureHeader) == "" {
		return nil, fmt.Errorf("%w: missing Stripe-Signature header", ErrInvalidSignature)
	}
	event, err := webhook.ConstructEventWithOptions(payload, signatureHeader, secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return &event, nil
}

// stripeRef decodes a field that Stripe sends either as an id string or as
// an expanded object with an id.
type stripeRef string

func (r *stripeRef) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*r = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*r = stripeRef(s)
		return nil
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*r = stripeRef(obj.ID)
	return nil
}

// stripeSubscription is a minimal representation of a Stripe subscription.
type stripeSubscription struct {
	ID                 string            `json:"id"`
	Customer           stripeRef         `json:"customer"`
	Status             string            `json:"status"`
	Metadata           map[string]string `json:"metadata"`
	CurrentPeriodStart int64             `json:"current_period_start"`
	CurrentPeriodEnd   int64             `json:"current_period_end"`
	CanceledAt         int64             `json:"canceled_at"`
	EndedAt            int64             `json:"ended_at"`
	Items              struct {
		Data []struct {
			CurrentPeriodStart int64 `json:"current_period_start"`
			CurrentPeriodEnd   int64 `json:"current_period_end"`
			Price              struct {
				ID         string `json:"id"`
				Nickname   string `json:"nickname"`
				UnitAmount int64  `json:"unit_amount"`
				Currency   string `json:"currency"`
				Recurring  *struct {
					Interval string `json:"interval"`
				} `json:"recurring"`
			} `json:"price"`
			Quantity int64 `json:"quantity"`
		} `json:"data"`
	} `json:"items"`
}

// stripeInvoice is a minimal representation of a Stripe invoice.
type stripeInvoice struct {
	ID            string            `json:"id"`
	Customer      stripeRef         `json:"customer"`
	CustomerEmail string            `json:"customer_email"`
	Subscription  stripeRef         `json:"subscription"`
	PeriodEnd     int64             `json:"period_end"`
	Metadata      map[string]string `json:"metadata"`
	Parent        *struct {
		SubscriptionDetails *struct {
			Subscription stripeRef         `json:"subscription"`
			Metadata     map[string]string `json:"metadata"`
		} `json:"subscription_details"`
	} `json:"parent"`
	Lines struct {
		Data []struct {
			Period struct {
				Start int64 `json:"start"`
				End   int64 `json:"end"`
			} `json:"period"`
		} `json:"data"`
	} `json:"lines"`
}

// StripeParser normalizes Stripe subscription and invoice events.
type StripeParser struct{}

func (StripeParser) Provider() string {
	return models.BillingProviderStripe
}

func (p StripeParser) Parse(eventType string, payload []byte, receivedAt time.Time) (*NormalizedEvent, error) {
	var event stripelib.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("decode stripe event: %w", err)
	}
	typ := string(event.Type)
	if typ == "" {
		typ = eventType
	}

	out := &NormalizedEvent{
		Provider:    models.BillingProviderStripe,
		Kind:        stripeKind(typ),
		EffectiveAt: receivedAt.UTC(),
	}
	if event.Created > 0 {
		out.EffectiveAt = time.Unix(event.Created, 0).UTC()
	}
	if out.Kind == KindUnknown {
		return out, nil
	}
	if event.Data == nil || len(event.Data.Raw) == 0 {
		return nil, errors.New("stripe event has no data.object")
	}

	switch out.Kind {
	case KindInvoicePaid, KindInvoicePaymentFailed:
		var inv stripeInvoice
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			return nil, fmt.Errorf("decode invoice: %w", err)
		}
		inv.normalizeInto(out)
	default:
		var sub stripeSubscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return nil, fmt.Errorf("decode subscription: %w", err)
		}
		if err := sub.normalizeInto(out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func stripeKind(eventType string) EventKind {
	switch eventType {
	case "customer.subscription.created":
		return KindSubscriptionCreated
	case "customer.subscription.updated", "customer.subscription.paused", "customer.subscription.resumed":
		return KindSubscriptionUpdated
	case "customer.subscription.deleted":
		return KindSubscriptionDeleted
	case "customer.subscription.trial_will_end":
		return KindTrialWillEnd
	case "invoice.paid":
		return KindInvoicePaid
	case "invoice.payment_failed":
		return KindInvoicePaymentFailed
	default:
		return KindUnknown
	}
}

func (s *stripeSubscription) normalizeInto(out *NormalizedEvent) error {
	if strings.TrimSpace(s.ID) == "" {
		return errors.New("stripe subscription payload missing id")
	}
	status, err := MapStripeStatus(s.Status)
	if err != nil {
		return err
	}

	state := &SubscriptionState{
		Status:             status,
		CurrentPeriodStart: unixPtr(s.CurrentPeriodStart),
		CurrentPeriodEnd:   unixPtr(s.CurrentPeriodEnd),
		CanceledAt:         unixPtr(s.CanceledAt),
		EndedAt:            unixPtr(s.EndedAt),
	}
	if len(s.Items.Data) > 0 {
		item := s.Items.Data[0]
		state.PlanID = strings.TrimSpace(item.Price.ID)
		state.PlanName = item.Price.Nickname
		state.Amount = item.Price.UnitAmount
		if item.Quantity > 1 {
			state.Amount *= item.Quantity
		}
		state.Currency = strings.ToLower(item.Price.Currency)
		if item.Price.Recurring != nil {
			state.Interval = item.Price.Recurring.Interval
		}
		// Newer API versions moved the billing period onto the items.
		if state.CurrentPeriodStart == nil {
			state.CurrentPeriodStart = unixPtr(item.CurrentPeriodStart)
		}
		if state.CurrentPeriodEnd == nil {
			state.CurrentPeriodEnd = unixPtr(item.CurrentPeriodEnd)
		}
	}

	out.ProviderSubscriptionID = strings.TrimSpace(s.ID)
	out.ProviderCustomerID = strings.TrimSpace(string(s.Customer))
	out.UserRef = strings.TrimSpace(s.Metadata["user_id"])
	out.Subscription = state
	return nil
}

func (inv *stripeInvoice) normalizeInto(out *NormalizedEvent) {
	subID := string(inv.Subscription)
	userRef := inv.Metadata["user_id"]
	if inv.Parent != nil && inv.Parent.SubscriptionDetails != nil {
		if subID == "" {
			subID = string(inv.Parent.SubscriptionDetails.Subscription)
		}
		if userRef == "" {
			userRef = inv.Parent.SubscriptionDetails.Metadata["user_id"]
		}
	}

	periodEnd := inv.PeriodEnd
	for _, line := range inv.Lines.Data {
		if line.Period.End > periodEnd {
			periodEnd = line.Period.End
		}
	}

	out.ProviderSubscriptionID = strings.TrimSpace(subID)
	out.ProviderCustomerID = strings.TrimSpace(string(inv.Customer))
	out.UserRef = strings.TrimSpace(userRef)
	out.Email = strings.TrimSpace(inv.CustomerEmail)
	out.PeriodEnd = unixPtr(periodEnd)
}
