package models

import "time"

const (
	WebhookFailureRetryable = "retryable"
	WebhookFailureFatal     = "fatal"
)

// BillingWebhookEvent stores provider webhook payloads with deduplication
// metadata for idempotent processing. Rows are never deleted.
type BillingWebhookEvent struct {
	ID                  uint       `gorm:"primaryKey" json:"id"`
	Provider            string     `gorm:"type:varchar(20);not null;index:ux_billing_webhook_events_provider_event,unique,priority:1;index" json:"provider"`
	ProviderEventID     string     `gorm:"type:varchar(191);not null;default:'';index:ux_billing_webhook_events_provider_event,unique,priority:2" json:"provider_event_id"`
	EventType           string     `gorm:"type:varchar(100);not null;index" json:"event_type"`
	Kind                string     `gorm:"type:varchar(64);not null;default:''" json:"kind"`
	PayloadJSON         string     `gorm:"type:longtext;not null" json:"payload_json"`
	SignatureValid      bool       `gorm:"default:false;index" json:"signature_valid"`
	Processed           bool       `gorm:"not null;default:false;index:idx_billing_webhook_events_due,priority:1" json:"processed"`
	ProcessingAttempts  int        `gorm:"not null;default:0" json:"processing_attempts"`
	LastProcessingError string     `gorm:"type:text" json:"last_processing_error"`
	FailureKind         string     `gorm:"type:varchar(16);not null;default:'';index:idx_billing_webhook_events_due,priority:2" json:"failure_kind"`
	NextAttemptAt       *time.Time `gorm:"type:timestamp;default:null;index:idx_billing_webhook_events_due,priority:3" json:"next_attempt_at,omitempty"`
	UserID              *uint      `gorm:"index" json:"user_id,omitempty"`
	SubscriptionID      *uint      `gorm:"index" json:"subscription_id,omitempty"`
	ReceivedAt          time.Time  `gorm:"type:timestamp;not null;index" json:"received_at"`
	ProcessedAt         *time.Time `gorm:"type:timestamp;default:null" json:"processed_at,omitempty"`
	ArchivedAt          *time.Time `gorm:"type:timestamp;default:null;index" json:"archived_at,omitempty"`
	CreatedAt           time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt           time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsFrozen reports whether automatic processing has stopped for the event.
func (e *BillingWebhookEvent) IsFrozen(maxAttempts int) bool {
	if e.Processed {
		return false
	}
	if e.FailureKind == WebhookFailureFatal {
		return true
	}
	return maxAttempts > 0 && e.ProcessingAttempts >= maxAttempts
}
