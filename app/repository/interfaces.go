package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/ManuelReschke/CopyFox/app/models"
	"github.com/ManuelReschke/CopyFox/internal/pkg/abuse"
	"github.com/ManuelReschke/CopyFox/internal/pkg/billing"
)

// UserRepository defines the interface for user-related database operations.
// Lookups return nil without an error when nothing matches.
type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id uint) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	GetByReferralCode(ctx context.Context, code string) (*models.User, error)
	GetByAPIKeyHash(ctx context.Context, hash string) (*models.User, error)
	UpdateRole(ctx context.Context, id uint, role string) error
	SetAccessGranted(ctx context.Context, id uint, granted bool, reason string) error
	SetReferredBy(ctx context.Context, id, referrerID uint) error
	List(ctx context.Context, offset, limit int) ([]models.User, error)
	Count(ctx context.Context) (int64, error)
	Search(ctx context.Context, query string) ([]models.User, error)
	GetDailySignups(ctx context.Context, startDate, endDate time.Time) ([]models.DailyStats, error)
}

// ReferralRepository defines the interface for referral records
type ReferralRepository interface {
	Create(ctx context.Context, referral *models.Referral) error
	GetByReferredID(ctx context.Context, referredID uint) (*models.Referral, error)
	ListByReferrer(ctx context.Context, referrerID uint) ([]models.Referral, error)
	CountRewardable(ctx context.Context, referrerID uint) (int64, error)
}

// QueueRepository defines the interface for job queue inspection
type QueueRepository interface {
	FindKeysByPatterns(ctx context.Context, patterns []string) ([]string, error)
	GetTTL(ctx context.Context, key string) (time.Duration, error)
	GetListLength(ctx context.Context, key string) (int64, error)
	GetSortedSetLength(ctx context.Context, key string) (int64, error)
}

// Repositories struct holds all repository instances
type Repositories struct {
	User     UserRepository
	Referral ReferralRepository
	Billing  billing.Repository
	Abuse    abuse.Store
	Queue    QueueRepository
}

// NewRepositories creates a new instance of all repositories
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		User:     NewUserRepository(db),
		Referral: NewReferralRepository(db),
		Billing:  billing.NewRepository(db),
		Abuse:    abuse.NewRepository(db),
		Queue:    NewQueueRepository(),
	}
}
