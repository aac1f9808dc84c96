package billing

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ManuelReschke/CopyFox/app/models"
)

type PatreonWebhookMemberEvent struct {
	MemberID      string
	PatreonUserID string
	PatronStatus  string
	IsFollower    bool
	Email         string
	AmountCents   int64
	LastChargeAt  *time.Time
	NextChargeAt  *time.Time
	TierIDs       []string
}

func ParsePatreonWebhookMemberEvent(payload []byte) (*PatreonWebhookMemberEvent, error) {
	type relData struct {
		ID   string `json:"id"`
		Type string `json:"type"`
	}
	type rawPayload struct {
		Data struct {
			ID         string `json:"id"`
			Type       string `json:"type"`
			Attributes struct {
				PatronStatus                 string `json:"patron_status"`
				IsFollower                   bool   `json:"is_follower"`
				Email                        string `json:"email"`
				CurrentlyEntitledAmountCents int64  `json:"currently_entitled_amount_cents"`
				LastChargeDate               string `json:"last_charge_date"`
				NextChargeDate               string `json:"next_charge_date"`
			} `json:"attributes"`
			Relationships struct {
				User struct {
					Data relData `json:"data"`
				} `json:"user"`
				CurrentlyEntitledTiers struct {
					Data []relData `json:"data"`
				} `json:"currently_entitled_tiers"`
			} `json:"relationships"`
		} `json:"data"`
		Included []struct {
			ID            string `json:"id"`
			Type          string `json:"type"`
			Relationships struct {
				CurrentlyEntitledTiers struct {
					Data []relData `json:"data"`
				} `json:"currently_entitled_tiers"`
			} `json:"relationships"`
		} `json:"included"`
	}

	var raw rawPayload
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, err
	}

	if raw.Data.Type != "" && raw.Data.Type != "member" {
		return nil, fmt.Errorf("unsupported patreon webhook data type: %s", raw.Data.Type)
	}

	attrs := raw.Data.Attributes
	out := &PatreonWebhookMemberEvent{
		MemberID:      strings.TrimSpace(raw.Data.ID),
		PatreonUserID: strings.TrimSpace(raw.Data.Relationships.User.Data.ID),
		PatronStatus:  strings.TrimSpace(attrs.PatronStatus),
		IsFollower:    attrs.IsFollower,
		Email:         strings.TrimSpace(attrs.Email),
		AmountCents:   attrs.CurrentlyEntitledAmountCents,
		LastChargeAt:  parsePatreonTime(attrs.LastChargeDate),
		NextChargeAt:  parsePatreonTime(attrs.NextChargeDate),
	}
	for _, td := range raw.Data.Relationships.CurrentlyEntitledTiers.Data {
		if tid := strings.TrimSpace(td.ID); tid != "" {
			out.TierIDs = append(out.TierIDs, tid)
		}
	}

	// Fallback: some payload variants expose tiers only via included.member.
	if len(out.TierIDs) == 0 && out.MemberID != "" {
		for _, inc := range raw.Included {
			if inc.Type != "member" || strings.TrimSpace(inc.ID) != out.MemberID {
				continue
			}
			for _, td := range inc.Relationships.CurrentlyEntitledTiers.Data {
				if tid := strings.TrimSpace(td.ID); tid != "" {
					out.TierIDs = append(out.TierIDs, tid)
				}
			}
			break
		}
	}

	if out.MemberID == "" {
		return nil, errors.New("patreon webhook payload missing member id")
	}
	if out.PatreonUserID == "" {
		return nil, errors.New("patreon webhook payload missing user id")
	}
	return out, nil
}

func parsePatreonTime(raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}

// PatreonParser normalizes members:* webhooks. Patreon payloads carry no
// event timestamp, so the receipt time is the effective time.
type PatreonParser struct{}

func (PatreonParser) Provider() string {
	return models.BillingProviderPatreon
}

// Parse uses receivedAt as the effective time. A Patreon delivery that
// arrives late is therefore applied as the newest state; stale-event
// protection for this provider only follows receipt order.
func (p PatreonParser) Parse(eventType string, payload []byte, receivedAt time.Time) (*NormalizedEvent, error) {
	out := &NormalizedEvent{
		Provider:    models.BillingProviderPatreon,
		Kind:        patreonKind(eventType),
		EffectiveAt: receivedAt.UTC(),
	}
	if out.Kind == KindUnknown {
		return out, nil
	}

	member, err := ParsePatreonWebhookMemberEvent(payload)
	if err != nil {
		return nil, err
	}
	status, err := PatreonMembershipToBillingStatus(member.PatronStatus, member.IsFollower)
	if err != nil {
		return nil, err
	}

	planID := "patreon_free"
	if len(member.TierIDs) > 0 {
		planID = member.TierIDs[0]
	}
	out.ProviderSubscriptionID = member.MemberID
	out.ProviderCustomerID = member.PatreonUserID
	out.Email = member.Email
	out.Subscription = &SubscriptionState{
		Status:             status,
		PlanID:             planID,
		Amount:             member.AmountCents,
		Currency:           "usd",
		Interval:           models.BillingIntervalMonth,
		CurrentPeriodStart: member.LastChargeAt,
		CurrentPeriodEnd:   member.NextChargeAt,
	}
	return out, nil
}

func patreonKind(eventType string) EventKind {
	switch strings.TrimSpace(eventType) {
	case "members:create", "members:pledge:create":
		return KindSubscriptionCreated
	case "members:update", "members:pledge:update":
		return KindSubscriptionUpdated
	case "members:delete", "members:pledge:delete":
		return KindSubscriptionDeleted
	default:
		return KindUnknown
	}
}
