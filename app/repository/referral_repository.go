package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/ManuelReschke/CopyFox/app/models"
)

type referralRepository struct {
	db *gorm.DB
}

// NewReferralRepository creates a new referral repository instance
func NewReferralRepository(db *gorm.DB) ReferralRepository {
	return &referralRepository{db: db}
}

// Create fails with gorm.ErrDuplicatedKey when the referred user already has
// a referral.
func (r *referralRepository) Create(ctx context.Context, referral *models.Referral) error {
	return r.db.WithContext(ctx).Create(referral).Error
}

func (r *referralRepository) GetByReferredID(ctx context.Context, referredID uint) (*models.Referral, error) {
	var referral models.Referral
	err := r.db.WithContext(ctx).Where("referred_id = ?", referredID).First(&referral).Error
	return found(&referral, err)
}

func (r *referralRepository) ListByReferrer(ctx context.Context, referrerID uint) ([]models.Referral, error) {
	var referrals []models.Referral
	err := r.db.WithContext(ctx).Where("referrer_id = ?", referrerID).Order("created_at DESC").Find(&referrals).Error
	return referrals, err
}

// CountRewardable counts the referrer's accepted referrals.
func (r *referralRepository) CountRewardable(ctx context.Context, referrerID uint) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Referral{}).
		Where("referrer_id = ? AND status = ?", referrerID, models.ReferralStatusAccepted).
		Count(&count).Error
	return count, err
}
