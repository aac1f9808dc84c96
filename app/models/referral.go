package models

import "time"

const (
	ReferralStatusAccepted = "accepted"
	ReferralStatusFlagged  = "flagged"
)

// Referral records that ReferredID signed up through ReferrerID's code.
// Flagged referrals are kept for review and excluded from rewards.
type Referral struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	ReferrerID uint      `gorm:"not null;index" json:"referrer_id"`
	ReferredID uint      `gorm:"not null;uniqueIndex" json:"referred_id"`
	Status     string    `gorm:"type:varchar(16);not null;default:'accepted';index" json:"status"`
	RiskScore  int       `gorm:"not null;default:0" json:"risk_score"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// IsRewardable reports whether the referral may earn the referrer a reward.
func (r *Referral) IsRewardable() bool {
	return r.Status == ReferralStatusAccepted
}
