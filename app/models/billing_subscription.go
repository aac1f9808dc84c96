package models

import "time"

const (
	BillingIntervalMonth   = "month"
	BillingIntervalYear    = "year"
	BillingIntervalUnknown = "unknown"
)

const (
	BillingStatusTrialing = "trialing"
	BillingStatusActive   = "active"
	BillingStatusPastDue  = "past_due"
	BillingStatusCanceled = "canceled"
	BillingStatusUnpaid   = "unpaid"
)

const (
	RevisionSourceWebhook = "webhook"
	RevisionSourceAdmin   = "admin"
)

// BillingSubscription is the ledger head: the current state of one provider
// subscription. Every update goes through an optimistic version check.
type BillingSubscription struct {
	ID                     uint       `gorm:"primaryKey" json:"id"`
	UserID                 uint       `gorm:"not null;index" json:"user_id"`
	Provider               string     `gorm:"type:varchar(20);not null;index:idx_billing_subscriptions_provider_status,priority:1;index:ux_billing_subscriptions_provider_subid,unique,priority:1" json:"provider"`
	ProviderSubscriptionID string     `gorm:"type:varchar(191);not null;index:ux_billing_subscriptions_provider_subid,unique,priority:2" json:"provider_subscription_id"`
	ProviderCustomerID     string     `gorm:"type:varchar(191);not null;default:'';index" json:"provider_customer_id"`
	Status                 string     `gorm:"type:varchar(32);not null;default:'active';index:idx_billing_subscriptions_provider_status,priority:2" json:"status"`
	PlanID                 string     `gorm:"type:varchar(191);not null;index" json:"plan_id"`
	PlanName               string     `gorm:"type:varchar(191);default:''" json:"plan_name"`
	Amount                 int64      `gorm:"not null;default:0" json:"amount"`
	Currency               string     `gorm:"type:varchar(8);default:''" json:"currency"`
	BillingInterval        string     `gorm:"type:varchar(16);not null;default:'unknown'" json:"billing_interval"`
	CurrentPeriodStart     *time.Time `gorm:"type:timestamp;default:null" json:"current_period_start,omitempty"`
	CurrentPeriodEnd       *time.Time `gorm:"type:timestamp;default:null" json:"current_period_end,omitempty"`
	CanceledAt             *time.Time `gorm:"type:timestamp;default:null" json:"canceled_at,omitempty"`
	EndedAt                *time.Time `gorm:"type:timestamp;default:null" json:"ended_at,omitempty"`
	PastDueSince           *time.Time `gorm:"type:timestamp;default:null" json:"past_due_since,omitempty"`
	StateChangedAt         time.Time  `gorm:"type:timestamp;not null" json:"state_changed_at"`
	Version                int        `gorm:"not null;default:1" json:"version"`
	CreatedAt              time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt              time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// BillingSubscriptionRevision is an append-only snapshot of the ledger head
// after each applied transition.
type BillingSubscriptionRevision struct {
	ID               uint       `gorm:"primaryKey" json:"id"`
	SubscriptionID   uint       `gorm:"not null;index:idx_billing_subscription_revisions_sub,priority:1" json:"subscription_id"`
	UserID           uint       `gorm:"not null;index" json:"user_id"`
	Version          int        `gorm:"not null;index:idx_billing_subscription_revisions_sub,priority:2" json:"version"`
	Status           string     `gorm:"type:varchar(32);not null" json:"status"`
	PreviousStatus   string     `gorm:"type:varchar(32);default:''" json:"previous_status"`
	PlanID           string     `gorm:"type:varchar(191);not null" json:"plan_id"`
	CurrentPeriodEnd *time.Time `gorm:"type:timestamp;default:null" json:"current_period_end,omitempty"`
	CanceledAt       *time.Time `gorm:"type:timestamp;default:null" json:"canceled_at,omitempty"`
	EndedAt          *time.Time `gorm:"type:timestamp;default:null" json:"ended_at,omitempty"`
	EffectiveAt      time.Time  `gorm:"type:timestamp;not null;index" json:"effective_at"`
	WebhookEventID   *uint      `gorm:"index" json:"webhook_event_id,omitempty"`
	Source           string     `gorm:"type:varchar(16);not null;default:'webhook'" json:"source"`
	Reason           string     `gorm:"type:varchar(255);default:''" json:"reason,omitempty"`
	CreatedAt        time.Time  `gorm:"autoCreateTime" json:"created_at"`
}

// NewRevision snapshots the head as a revision row.
func (s *BillingSubscription) NewRevision(previousStatus, source string, webhookEventID *uint) *BillingSubscriptionRevision {
	return &BillingSubscriptionRevision{
		SubscriptionID:   s.ID,
		UserID:           s.UserID,
		Version:          s.Version,
		Status:           s.Status,
		PreviousStatus:   previousStatus,
		PlanID:           s.PlanID,
		CurrentPeriodEnd: s.CurrentPeriodEnd,
		CanceledAt:       s.CanceledAt,
		EndedAt:          s.EndedAt,
		EffectiveAt:      s.StateChangedAt,
		WebhookEventID:   webhookEventID,
		Source:           source,
	}
}
