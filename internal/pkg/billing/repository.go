package billing

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ManuelReschke/CopyFox/app/models"
)

// Repository provides DB operations used by the event store, the ledger and
// the reconciliation engine.
type Repository interface {
	FindActivePlanMapping(ctx context.Context, provider, providerPlanRef string) (*models.BillingPlanMapping, error)
	ListActivePlanMappings(ctx context.Context) ([]models.BillingPlanMapping, error)
	UpsertBillingAccount(ctx context.Context, account *models.BillingAccount) error
	GetBillingAccountByProviderAccountID(ctx context.Context, provider, providerAccountID string) (*models.BillingAccount, error)

	CreateWebhookEventIfNotExists(ctx context.Context, event *models.BillingWebhookEvent) (bool, *models.BillingWebhookEvent, error)
	GetWebhookEvent(ctx context.Context, id uint) (*models.BillingWebhookEvent, error)
	MarkWebhookProcessed(ctx context.Context, id uint, update ProcessedUpdate) error
	MarkWebhookFailed(ctx context.Context, id uint, update FailedUpdate) error
	ListWebhookEvents(ctx context.Context, filter EventFilter, maxAttempts int) ([]models.BillingWebhookEvent, int64, error)
	ListDueWebhookEvents(ctx context.Context, now, receivedBefore time.Time, maxAttempts, limit int) ([]models.BillingWebhookEvent, error)
	ListUnarchivedWebhookEvents(ctx context.Context, limit int) ([]models.BillingWebhookEvent, error)
	MarkWebhookArchived(ctx context.Context, id uint, at time.Time) error

	GetSubscription(ctx context.Context, provider, providerSubscriptionID string) (*models.BillingSubscription, error)
	GetSubscriptionByID(ctx context.Context, id uint) (*models.BillingSubscription, error)
	CreateSubscription(ctx context.Context, sub *models.BillingSubscription, rev *models.BillingSubscriptionRevision) error
	UpdateSubscription(ctx context.Context, sub *models.BillingSubscription, expectedVersion int, rev *models.BillingSubscriptionRevision) error
	ListSubscriptionsByUser(ctx context.Context, userID uint) ([]models.BillingSubscription, error)
	ListRevisionsByUser(ctx context.Context, userID uint) ([]models.BillingSubscriptionRevision, error)
	ListUserIDsByStatus(ctx context.Context, statuses []string, changedSince time.Time) ([]uint, error)
}

// ProcessedUpdate carries the fields written when an event is processed.
type ProcessedUpdate struct {
	Kind           string
	UserID         *uint
	SubscriptionID *uint
	ProcessedAt    time.Time
}

// FailedUpdate carries the fields written when a processing attempt fails.
type FailedUpdate struct {
	// Attempts is the processing_attempts value the attempt started from.
	Attempts      int
	Kind          string
	FailureKind   string
	Error         string
	NextAttemptAt *time.Time
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a billing repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) FindActivePlanMapping(ctx context.Context, provider, providerPlanRef string) (*models.BillingPlanMapping, error) {
	var m models.BillingPlanMapping
	err := r.db.WithContext(ctx).
		Where("provider = ? AND provider_plan_ref = ? AND is_active = ?", provider, providerPlanRef, true).
		First(&m).Error
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *gormRepository) ListActivePlanMappings(ctx context.Context) ([]models.BillingPlanMapping, error) {
	var mappings []models.BillingPlanMapping
	err := r.db.WithContext(ctx).Where("is_active = ?", true).Order("id ASC").Find(&mappings).Error
	return mappings, err
}

func (r *gormRepository) UpsertBillingAccount(ctx context.Context, account *models.BillingAccount) error {
	db := r.db.WithContext(ctx)
	if err := db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "provider_account_id"},
		},
		DoUpdates: clause.AssignmentColumns([]string{
			"user_id",
			"email",
			"updated_at",
		}),
	}).Create(account).Error; err != nil {
		return err
	}

	return db.Where("provider = ? AND provider_account_id = ?", account.Provider, account.ProviderAccountID).
		First(account).Error
}

func (r *gormRepository) GetBillingAccountByProviderAccountID(ctx context.Context, provider, providerAccountID string) (*models.BillingAccount, error) {
	var account models.BillingAccount
	err := r.db.WithContext(ctx).Where("provider = ? AND provider_account_id = ?", provider, providerAccountID).First(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	return &account, nil
}

func (r *gormRepository) CreateWebhookEventIfNotExists(ctx context.Context, event *models.BillingWebhookEvent) (bool, *models.BillingWebhookEvent, error) {
	db := r.db.WithContext(ctx)
	tx := db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "provider_event_id"},
		},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.BillingWebhookEvent
	if err := db.Where("provider = ? AND provider_event_id = ?", event.Provider, event.ProviderEventID).
		First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (r *gormRepository) GetWebhookEvent(ctx context.Context, id uint) (*models.BillingWebhookEvent, error) {
	var event models.BillingWebhookEvent
	err := r.db.WithContext(ctx).First(&event, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrEventNotFound
	}
	if err != nil {
		return nil, err
	}
	return &event, nil
}

func (r *gormRepository) MarkWebhookProcessed(ctx context.Context, id uint, update ProcessedUpdate) error {
	updates := map[string]interface{}{
		"processed":             true,
		"processed_at":          update.ProcessedAt,
		"processing_attempts":   gorm.Expr("processing_attempts + 1"),
		"last_processing_error": "",
		"failure_kind":          "",
		"next_attempt_at":       nil,
		"kind":                  update.Kind,
	}
	if update.UserID != nil {
		updates["user_id"] = *update.UserID
	}
	if update.SubscriptionID != nil {
		updates["subscription_id"] = *update.SubscriptionID
	}
	res := r.db.WithContext(ctx).Model(&models.BillingWebhookEvent{}).
		Where("id = ? AND processed = ? AND processing_attempts = ?", id, false, update.Attempts).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrAttemptSuperseded
	}
	return nil
}

func (r *gormRepository) MarkWebhookFailed(ctx context.Context, id uint, update FailedUpdate) error {
	updates := map[string]interface{}{
		"processing_attempts":   gorm.Expr("processing_attempts + 1"),
		"last_processing_error": update.Error,
		"failure_kind":          update.FailureKind,
		"next_attempt_at":       update.NextAttemptAt,
	}
	if update.Kind != "" {
		updates["kind"] = update.Kind
	}
	return r.db.WithContext(ctx).Model(&models.BillingWebhookEvent{}).
		Where("id = ? AND processed = ?", id, false).
		Updates(updates).Error
}

func (r *gormRepository) ListWebhookEvents(ctx context.Context, filter EventFilter, maxAttempts int) ([]models.BillingWebhookEvent, int64, error) {
	q := r.db.WithContext(ctx).Model(&models.BillingWebhookEvent{})
	if filter.Provider != "" {
		q = q.Where("provider = ?", filter.Provider)
	}
	if filter.EventType != "" {
		q = q.Where("event_type = ?", filter.EventType)
	}
	switch filter.Status {
	case "processed":
		q = q.Where("processed = ?", true)
	case "pending":
		q = q.Where("processed = ? AND failure_kind = ?", false, "")
	case "retrying":
		q = q.Where("processed = ? AND failure_kind = ? AND processing_attempts < ?", false, models.WebhookFailureRetryable, maxAttempts)
	case "failed":
		q = q.Where("processed = ? AND (failure_kind = ? OR processing_attempts >= ?)", false, models.WebhookFailureFatal, maxAttempts)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var events []models.BillingWebhookEvent
	err := q.Order("received_at DESC").Order("id DESC").Offset(filter.Offset).Limit(limit).Find(&events).Error
	return events, total, err
}

func (r *gormRepository) ListDueWebhookEvents(ctx context.Context, now, receivedBefore time.Time, maxAttempts, limit int) ([]models.BillingWebhookEvent, error) {
	var events []models.BillingWebhookEvent
	err := r.db.WithContext(ctx).
		Where("processed = ? AND failure_kind IN ?", false, []string{"", models.WebhookFailureRetryable}).
		Where("processing_attempts < ?", maxAttempts).
		Where("((next_attempt_at IS NULL AND received_at <= ?) OR next_attempt_at <= ?)", receivedBefore, now).
		Order("received_at ASC").
		Limit(limit).
		Find(&events).Error
	return events, err
}

func (r *gormRepository) ListUnarchivedWebhookEvents(ctx context.Context, limit int) ([]models.BillingWebhookEvent, error) {
	var events []models.BillingWebhookEvent
	err := r.db.WithContext(ctx).
		Where("archived_at IS NULL").
		Order("id ASC").
		Limit(limit).
		Find(&events).Error
	return events, err
}

func (r *gormRepository) MarkWebhookArchived(ctx context.Context, id uint, at time.Time) error {
	return r.db.WithContext(ctx).Model(&models.BillingWebhookEvent{}).
		Where("id = ?", id).
		Update("archived_at", at).Error
}

func (r *gormRepository) GetSubscription(ctx context.Context, provider, providerSubscriptionID string) (*models.BillingSubscription, error) {
	var sub models.BillingSubscription
	err := r.db.WithContext(ctx).
		Where("provider = ? AND provider_subscription_id = ?", provider, providerSubscriptionID).
		First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *gormRepository) GetSubscriptionByID(ctx context.Context, id uint) (*models.BillingSubscription, error) {
	var sub models.BillingSubscription
	err := r.db.WithContext(ctx).First(&sub, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *gormRepository) CreateSubscription(ctx context.Context, sub *models.BillingSubscription, rev *models.BillingSubscriptionRevision) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(sub).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrDuplicateSubscription
			}
			return err
		}
		rev.SubscriptionID = sub.ID
		return tx.Create(rev).Error
	})
}

func (r *gormRepository) UpdateSubscription(ctx context.Context, sub *models.BillingSubscription, expectedVersion int, rev *models.BillingSubscriptionRevision) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.BillingSubscription{}).
			Where("id = ? AND version = ?", sub.ID, expectedVersion).
			Updates(map[string]interface{}{
				"user_id":              sub.UserID,
				"provider_customer_id": sub.ProviderCustomerID,
				"status":               sub.Status,
				"plan_id":              sub.PlanID,
				"plan_name":            sub.PlanName,
				"amount":               sub.Amount,
				"currency":             sub.Currency,
				"billing_interval":     sub.BillingInterval,
				"current_period_start": sub.CurrentPeriodStart,
				"current_period_end":   sub.CurrentPeriodEnd,
				"canceled_at":          sub.CanceledAt,
				"ended_at":             sub.EndedAt,
				"past_due_since":       sub.PastDueSince,
				"state_changed_at":     sub.StateChangedAt,
				"version":              sub.Version,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrVersionConflict
		}
		rev.SubscriptionID = sub.ID
		return tx.Create(rev).Error
	})
}

func (r *gormRepository) ListSubscriptionsByUser(ctx context.Context, userID uint) ([]models.BillingSubscription, error) {
	var subs []models.BillingSubscription
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("id ASC").Find(&subs).Error
	return subs, err
}

func (r *gormRepository) ListRevisionsByUser(ctx context.Context, userID uint) ([]models.BillingSubscriptionRevision, error) {
	var revs []models.BillingSubscriptionRevision
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("effective_at ASC").Order("id ASC").
		Find(&revs).Error
	return revs, err
}

func (r *gormRepository) ListUserIDsByStatus(ctx context.Context, statuses []string, changedSince time.Time) ([]uint, error) {
	var ids []uint
	err := r.db.WithContext(ctx).Model(&models.BillingSubscription{}).
		Where("status IN ? AND state_changed_at >= ?", statuses, changedSince).
		Distinct().
		Pluck("user_id", &ids).Error
	return ids, err
}
