package billing

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/ManuelReschke/CopyFox/app/models"
)

func stripeSubscriptionEvent(id, typ string, created int64, status, price string, userRef string) []byte {
	metadata := "{}"
	if userRef != "" {
		metadata = fmt.Sprintf(`{"user_id":%q}`, userRef)
	}
	return []byte(fmt.Sprintf(`{
		"id": %q,
		"object": "event",
		"type": %q,
		"created": %d,
		"data": {
			"object": {
				"id": "sub_1",
				"object": "subscription",
				"customer": "cus_1",
				"status": %q,
				"metadata": %s,
				"items": {
					"data": [
						{
							"current_period_start": 1772366400,
							"current_period_end": 1775044800,
							"quantity": 1,
							"price": {
								"id": %q,
								"nickname": "Pro monthly",
								"unit_amount": 1900,
								"currency": "EUR",
								"recurring": { "interval": "month" }
							}
						}
					]
				}
			}
		}
	}`, id, typ, created, status, metadata, price))
}

func stripeInvoiceEvent(id, typ string, created int64, subscription string) []byte {
	return []byte(fmt.Sprintf(`{
		"id": %q,
		"object": "event",
		"type": %q,
		"created": %d,
		"data": {
			"object": {
				"id": "in_1",
				"object": "invoice",
				"customer": { "id": "cus_1", "object": "customer" },
				"customer_email": "buyer@example.com",
				"period_end": 1772366400,
				"parent": {
					"subscription_details": {
						"subscription": %q,
						"metadata": { "user_id": "7" }
					}
				},
				"lines": { "data": [ { "period": { "start": 1772366400, "end": 1775044800 } } ] }
			}
		}
	}`, id, typ, created, subscription))
}

func TestVerifyStripeWebhook(t *testing.T) {
	secret := "whsec_test"
	payload := stripeSubscriptionEvent("evt_1", "customer.subscription.updated", 1772366400, "active", "pro", "")

	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    secret,
		Timestamp: time.Now(),
	})
	event, err := VerifyStripeWebhook(payload, signed.Header, secret)
	require.NoError(t, err)
	assert.Equal(t, "evt_1", event.ID)
	assert.Equal(t, "customer.subscription.updated", string(event.Type))

	_, err = VerifyStripeWebhook(payload, signed.Header, "whsec_other")
	assert.ErrorIs(t, err, ErrInvalidSignature)

	_, err = VerifyStripeWebhook(append(payload, ' '), signed.Header, secret)
	assert.ErrorIs(t, err, ErrInvalidSignature)

	_, err = VerifyStripeWebhook(payload, "", secret)
	assert.ErrorIs(t, err, ErrInvalidSignature)

	_, err = VerifyStripeWebhook(payload, signed.Header, "")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidSignature)
}

func TestStripeParser_Subscription(t *testing.T) {
	payload := stripeSubscriptionEvent("evt_1", "customer.subscription.updated", 1772366400, "trialing", "price_pro", "42")
	ne, err := StripeParser{}.Parse("customer.subscription.updated", payload, time.Now())
	require.NoError(t, err)

	assert.Equal(t, models.BillingProviderStripe, ne.Provider)
	assert.Equal(t, KindSubscriptionUpdated, ne.Kind)
	assert.Equal(t, time.Unix(1772366400, 0).UTC(), ne.EffectiveAt)
	assert.Equal(t, "sub_1", ne.ProviderSubscriptionID)
	assert.Equal(t, "cus_1", ne.ProviderCustomerID)
	assert.Equal(t, "42", ne.UserRef)
	require.NotNil(t, ne.Subscription)
	assert.Equal(t, models.BillingStatusTrialing, ne.Subscription.Status)
	assert.Equal(t, "price_pro", ne.Subscription.PlanID)
	assert.Equal(t, "Pro monthly", ne.Subscription.PlanName)
	assert.Equal(t, int64(1900), ne.Subscription.Amount)
	assert.Equal(t, "eur", ne.Subscription.Currency)
	assert.Equal(t, "month", ne.Subscription.Interval)
	require.NotNil(t, ne.Subscription.CurrentPeriodEnd)
	assert.Equal(t, time.Unix(1775044800, 0).UTC(), *ne.Subscription.CurrentPeriodEnd)
}

func TestStripeParser_Invoice(t *testing.T) {
	payload := stripeInvoiceEvent("evt_2", "invoice.payment_failed", 1772370000, "sub_1")
	ne, err := StripeParser{}.Parse("invoice.payment_failed", payload, time.Now())
	require.NoError(t, err)

	assert.Equal(t, KindInvoicePaymentFailed, ne.Kind)
	assert.Equal(t, "sub_1", ne.ProviderSubscriptionID)
	assert.Equal(t, "cus_1", ne.ProviderCustomerID)
	assert.Equal(t, "7", ne.UserRef)
	assert.Equal(t, "buyer@example.com", ne.Email)
	assert.Nil(t, ne.Subscription)
	require.NotNil(t, ne.PeriodEnd)
	assert.Equal(t, time.Unix(1775044800, 0).UTC(), *ne.PeriodEnd)
}

func TestStripeParser_UnknownTypeAndBadStatus(t *testing.T) {
	ne, err := StripeParser{}.Parse("charge.refunded", []byte(`{"id":"evt_3","type":"charge.refunded","created":1772366400,"data":{"object":{}}}`), time.Now())
	require.NoError(t, err)
	assert.Equal(t, KindUnknown, ne.Kind)

	payload := stripeSubscriptionEvent("evt_4", "customer.subscription.updated", 1772366400, "frozen", "pro", "")
	_, err = StripeParser{}.Parse("customer.subscription.updated", payload, time.Now())
	assert.Error(t, err)

	_, err = StripeParser{}.Parse("customer.subscription.updated", []byte(`{not json`), time.Now())
	assert.Error(t, err)
}
