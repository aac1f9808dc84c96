package models

import "time"

const (
	AbuseSignalDuplicateFingerprint = "duplicate-fingerprint"
	AbuseSignalDisposableEmail      = "disposable-email"
	AbuseSignalIPVelocity           = "ip-velocity"
	AbuseSignalSelfReferral         = "self-referral"
)

const (
	AbuseSeverityLow    = 1
	AbuseSeverityMedium = 2
	AbuseSeverityHigh   = 3
)

// AbuseSignal is an advisory fraud indicator. Signals feed a risk score and
// never block on their own.
type AbuseSignal struct {
	ID                uint      `gorm:"primaryKey" json:"id"`
	UserID            *uint     `gorm:"index" json:"user_id,omitempty"`
	IPAddress         string    `gorm:"type:varchar(45);default:'';index" json:"ip_address"`
	DeviceFingerprint string    `gorm:"type:varchar(128);default:'';index" json:"device_fingerprint"`
	Email             string    `gorm:"type:varchar(200);default:''" json:"email"`
	SignalType        string    `gorm:"type:varchar(32);not null;index" json:"signal_type"`
	Severity          int       `gorm:"not null;default:1" json:"severity"`
	Detail            string    `gorm:"type:varchar(255);default:''" json:"detail"`
	CreatedAt         time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

// RiskScore sums the severity of the given signals.
func RiskScore(signals []AbuseSignal) int {
	score := 0
	for _, s := range signals {
		score += s.Severity
	}
	return score
}
