package abuse

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/ManuelReschke/CopyFox/app/models"
)

// SignalFilter narrows admin listings of abuse signals.
type SignalFilter struct {
	SignalType string
	UserID     uint
	IPAddress  string
	Since      time.Time
	Offset     int
	Limit      int
}

// Store persists fingerprint observations and abuse signals.
type Store interface {
	RecordFingerprint(ctx context.Context, fp *models.DeviceFingerprint) error
	CountAccountsByFingerprint(ctx context.Context, fingerprint string) (int64, error)
	CountSignupsByIPSince(ctx context.Context, ip string, since time.Time) (int64, error)
	ListFingerprintsByUser(ctx context.Context, userID uint) ([]models.DeviceFingerprint, error)
	CreateSignals(ctx context.Context, signals []models.AbuseSignal) error
	ListSignals(ctx context.Context, filter SignalFilter) ([]models.AbuseSignal, int64, error)
}

type gormStore struct {
	db *gorm.DB
}

// NewRepository creates a Store backed by GORM.
func NewRepository(db *gorm.DB) Store {
	return &gormStore{db: db}
}

func (s *gormStore) RecordFingerprint(ctx context.Context, fp *models.DeviceFingerprint) error {
	return s.db.WithContext(ctx).Create(fp).Error
}

func (s *gormStore) CountAccountsByFingerprint(ctx context.Context, fingerprint string) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.DeviceFingerprint{}).
		Where("fingerprint = ? AND user_id IS NOT NULL", fingerprint).
		Distinct("user_id").
		Count(&count).Error
	return count, err
}

func (s *gormStore) CountSignupsByIPSince(ctx context.Context, ip string, since time.Time) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.DeviceFingerprint{}).
		Where("ip_address = ? AND action = ? AND created_at >= ?", ip, models.FingerprintActionSignup, since).
		Count(&count).Error
	return count, err
}

func (s *gormStore) ListFingerprintsByUser(ctx context.Context, userID uint) ([]models.DeviceFingerprint, error) {
	var fps []models.DeviceFingerprint
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(100).
		Find(&fps).Error
	return fps, err
}

func (s *gormStore) CreateSignals(ctx context.Context, signals []models.AbuseSignal) error {
	if len(signals) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Create(&signals).Error
}

func (s *gormStore) ListSignals(ctx context.Context, filter SignalFilter) ([]models.AbuseSignal, int64, error) {
	q := s.db.WithContext(ctx).Model(&models.AbuseSignal{})
	if filter.SignalType != "" {
		q = q.Where("signal_type = ?", filter.SignalType)
	}
	if filter.UserID != 0 {
		q = q.Where("user_id = ?", filter.UserID)
	}
	if filter.IPAddress != "" {
		q = q.Where("ip_address = ?", filter.IPAddress)
	}
	if !filter.Since.IsZero() {
		q = q.Where("created_at >= ?", filter.Since)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var signals []models.AbuseSignal
	err := q.Order("created_at DESC").Order("id DESC").Offset(filter.Offset).Limit(limit).Find(&signals).Error
	return signals, total, err
}
