package billing

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ManuelReschke/CopyFox/app/models"
)

// memRepository is an in-memory Repository with the same uniqueness and
// version semantics as the GORM implementation.
type memRepository struct {
	mu        sync.Mutex
	nextID    uint
	events    []*models.BillingWebhookEvent
	subs      []*models.BillingSubscription
	revisions []*models.BillingSubscriptionRevision
	accounts  []*models.BillingAccount
	mappings  []models.BillingPlanMapping

	// failUpdates makes the next n UpdateSubscription calls return err.
	failUpdates   int
	failUpdateErr error
}

func newMemRepository() *memRepository {
	return &memRepository{}
}

func (r *memRepository) id() uint {
	r.nextID++
	return r.nextID
}

func (r *memRepository) FindActivePlanMapping(_ context.Context, provider, ref string) (*models.BillingPlanMapping, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.mappings {
		if m.IsActive && m.Provider == provider && m.ProviderPlanRef == ref {
			cp := m
			return &cp, nil
		}
	}
	return nil, ErrAccountNotFound
}

func (r *memRepository) ListActivePlanMappings(_ context.Context) ([]models.BillingPlanMapping, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.BillingPlanMapping
	for _, m := range r.mappings {
		if m.IsActive {
			out = append(out, m)
		}
	}
	return out, nil
}

func (r *memRepository) UpsertBillingAccount(_ context.Context, account *models.BillingAccount) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.accounts {
		if a.Provider == account.Provider && a.ProviderAccountID == account.ProviderAccountID {
			a.UserID = account.UserID
			a.Email = account.Email
			*account = *a
			return nil
		}
	}
	account.ID = r.id()
	cp := *account
	r.accounts = append(r.accounts, &cp)
	return nil
}

func (r *memRepository) GetBillingAccountByProviderAccountID(_ context.Context, provider, providerAccountID string) (*models.BillingAccount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.accounts {
		if a.Provider == provider && a.ProviderAccountID == providerAccountID {
			cp := *a
			return &cp, nil
		}
	}
	return nil, ErrAccountNotFound
}

func (r *memRepository) CreateWebhookEventIfNotExists(_ context.Context, event *models.BillingWebhookEvent) (bool, *models.BillingWebhookEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e.Provider == event.Provider && e.ProviderEventID == event.ProviderEventID {
			cp := *e
			return false, &cp, nil
		}
	}
	event.ID = r.id()
	cp := *event
	r.events = append(r.events, &cp)
	stored := cp
	return true, &stored, nil
}

func (r *memRepository) event(id uint) *models.BillingWebhookEvent {
	for _, e := range r.events {
		if e.ID == id {
			return e
		}
	}
	return nil
}

func (r *memRepository) GetWebhookEvent(_ context.Context, id uint) (*models.BillingWebhookEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.event(id)
	if e == nil {
		return nil, ErrEventNotFound
	}
	cp := *e
	return &cp, nil
}

func (r *memRepository) MarkWebhookProcessed(_ context.Context, id uint, update ProcessedUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.event(id)
	if e == nil || e.Processed {
		return nil
	}
	e.Processed = true
	at := update.ProcessedAt
	e.ProcessedAt = &at
	e.ProcessingAttempts++
	e.LastProcessingError = ""
	e.FailureKind = ""
	e.NextAttemptAt = nil
	e.Kind = update.Kind
	if update.UserID != nil {
		e.UserID = update.UserID
	}
	if update.SubscriptionID != nil {
		e.SubscriptionID = update.SubscriptionID
	}
	return nil
}

func (r *memRepository) MarkWebhookFailed(_ context.Context, id uint, update FailedUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.event(id)
	if e == nil || e.Processed || e.ProcessingAttempts != update.Attempts {
		return ErrAttemptSuperseded
	}
	e.ProcessingAttempts++
	e.LastProcessingError = update.Error
	e.FailureKind = update.FailureKind
	e.NextAttemptAt = update.NextAttemptAt
	if update.Kind != "" {
		e.Kind = update.Kind
	}
	return nil
}

func (r *memRepository) ListWebhookEvents(_ context.Context, filter EventFilter, maxAttempts int) ([]models.BillingWebhookEvent, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.BillingWebhookEvent
	for _, e := range r.events {
		if filter.Provider != "" && e.Provider != filter.Provider {
			continue
		}
		if filter.EventType != "" && e.EventType != filter.EventType {
			continue
		}
		switch filter.Status {
		case "processed":
			if !e.Processed {
				continue
			}
		case "pending":
			if e.Processed || e.FailureKind != "" {
				continue
			}
		case "retrying":
			if e.Processed || e.FailureKind != models.WebhookFailureRetryable || e.ProcessingAttempts >= maxAttempts {
				continue
			}
		case "failed":
			if e.Processed || !(e.FailureKind == models.WebhookFailureFatal || e.ProcessingAttempts >= maxAttempts) {
				continue
			}
		}
		out = append(out, *e)
	}
	return out, int64(len(out)), nil
}

func (r *memRepository) ListDueWebhookEvents(_ context.Context, now, receivedBefore time.Time, maxAttempts, limit int) ([]models.BillingWebhookEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.BillingWebhookEvent
	for _, e := range r.events {
		if e.Processed || e.FailureKind == models.WebhookFailureFatal || e.ProcessingAttempts >= maxAttempts {
			continue
		}
		due := (e.NextAttemptAt == nil && !e.ReceivedAt.After(receivedBefore)) ||
			(e.NextAttemptAt != nil && !e.NextAttemptAt.After(now))
		if !due {
			continue
		}
		out = append(out, *e)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *memRepository) ListUnarchivedWebhookEvents(_ context.Context, limit int) ([]models.BillingWebhookEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.BillingWebhookEvent
	for _, e := range r.events {
		if e.ArchivedAt == nil {
			out = append(out, *e)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *memRepository) MarkWebhookArchived(_ context.Context, id uint, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e := r.event(id); e != nil {
		e.ArchivedAt = &at
	}
	return nil
}

func (r *memRepository) GetSubscription(_ context.Context, provider, providerSubscriptionID string) (*models.BillingSubscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.subs {
		if s.Provider == provider && s.ProviderSubscriptionID == providerSubscriptionID {
			cp := *s
			return &cp, nil
		}
	}
	return nil, ErrSubscriptionNotFound
}

func (r *memRepository) GetSubscriptionByID(_ context.Context, id uint) (*models.BillingSubscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.subs {
		if s.ID == id {
			cp := *s
			return &cp, nil
		}
	}
	return nil, ErrSubscriptionNotFound
}

func (r *memRepository) CreateSubscription(_ context.Context, sub *models.BillingSubscription, rev *models.BillingSubscriptionRevision) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.subs {
		if s.Provider == sub.Provider && s.ProviderSubscriptionID == sub.ProviderSubscriptionID {
			return ErrDuplicateSubscription
		}
	}
	sub.ID = r.id()
	cp := *sub
	r.subs = append(r.subs, &cp)
	rev.ID = r.id()
	rev.SubscriptionID = sub.ID
	revCopy := *rev
	r.revisions = append(r.revisions, &revCopy)
	return nil
}

func (r *memRepository) UpdateSubscription(_ context.Context, sub *models.BillingSubscription, expectedVersion int, rev *models.BillingSubscriptionRevision) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failUpdates > 0 {
		r.failUpdates--
		return r.failUpdateErr
	}
	for i, s := range r.subs {
		if s.ID != sub.ID {
			continue
		}
		if s.Version != expectedVersion {
			return ErrVersionConflict
		}
		cp := *sub
		r.subs[i] = &cp
		rev.ID = r.id()
		rev.SubscriptionID = sub.ID
		revCopy := *rev
		r.revisions = append(r.revisions, &revCopy)
		return nil
	}
	return ErrVersionConflict
}

func (r *memRepository) ListSubscriptionsByUser(_ context.Context, userID uint) ([]models.BillingSubscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.BillingSubscription
	for _, s := range r.subs {
		if s.UserID == userID {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (r *memRepository) ListRevisionsByUser(_ context.Context, userID uint) ([]models.BillingSubscriptionRevision, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.BillingSubscriptionRevision
	for _, rev := range r.revisions {
		if rev.UserID == userID {
			out = append(out, *rev)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].EffectiveAt.Before(out[j].EffectiveAt) })
	return out, nil
}

func (r *memRepository) ListUserIDsByStatus(_ context.Context, statuses []string, changedSince time.Time) ([]uint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := map[uint]bool{}
	var out []uint
	for _, s := range r.subs {
		for _, status := range statuses {
			if s.Status == status && !s.StateChangedAt.Before(changedSince) && !seen[s.UserID] {
				seen[s.UserID] = true
				out = append(out, s.UserID)
			}
		}
	}
	return out, nil
}

func (r *memRepository) revisionCount(subID uint) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, rev := range r.revisions {
		if rev.SubscriptionID == subID {
			n++
		}
	}
	return n
}
