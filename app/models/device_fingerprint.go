package models

import "time"

const (
	FingerprintActionSignup   = "signup"
	FingerprintActionReferral = "referral"
)

// DeviceFingerprint logs which client fingerprint and IP were seen for a
// user-facing action.
type DeviceFingerprint struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	UserID      *uint     `gorm:"index" json:"user_id,omitempty"`
	Fingerprint string    `gorm:"type:varchar(128);not null;default:'';index" json:"fingerprint"`
	UserAgent   string    `gorm:"type:varchar(512);default:''" json:"user_agent"`
	IPAddress   string    `gorm:"type:varchar(45);default:'';index:idx_device_fingerprints_ip_created,priority:1" json:"ip_address"`
	Action      string    `gorm:"type:varchar(16);not null;default:'signup'" json:"action"`
	CreatedAt   time.Time `gorm:"autoCreateTime;index:idx_device_fingerprints_ip_created,priority:2" json:"created_at"`
}
