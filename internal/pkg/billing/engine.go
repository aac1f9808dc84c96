package billing

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/CopyFox/app/models"
	"github.com/ManuelReschke/CopyFox/internal/pkg/entitlements"
	"github.com/ManuelReschke/CopyFox/internal/pkg/metrics"
)

// RoleSyncer recomputes a user's role projection from the ledger.
type RoleSyncer interface {
	SyncUser(ctx context.Context, userID uint) (*entitlements.Change, error)
}

// ProcessResult reports one processing attempt of a stored event.
type ProcessResult struct {
	EventID       uint          `json:"event_id"`
	Outcome       Outcome       `json:"outcome"`
	Attempts      int           `json:"attempts"`
	Result        *HandleResult `json:"result,omitempty"`
	Err           error         `json:"-"`
	NextAttemptAt *time.Time    `json:"next_attempt_at,omitempty"`
}

// Error returns the attempt's failure message, if any.
func (r *ProcessResult) Error() string {
	if r == nil || r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

// Engine turns stored webhook events into ledger transitions and role
// projections. Processing the same event any number of times converges on
// the same state.
type Engine struct {
	store     *EventStore
	ledger    *Ledger
	repo      Repository
	parsers   map[string]Parser
	syncer    RoleSyncer
	notifier  Notifier
	scheduler Scheduler
	validate  *validator.Validate
	now       func() time.Time

	policy         RetryPolicy
	mode           string
	sweepMinAge    time.Duration
	sweepBatchSize int
}

// NewEngine wires the event store and ledger over repo. Stripe and Patreon
// parsers are registered by default.
func NewEngine(repo Repository, syncer RoleSyncer, cfg Config) *Engine {
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = DefaultRetryPolicy()
	}
	if cfg.SweepBatchSize <= 0 {
		cfg.SweepBatchSize = 100
	}
	e := &Engine{
		store:          NewEventStore(repo),
		ledger:         NewLedger(repo),
		repo:           repo,
		parsers:        map[string]Parser{},
		syncer:         syncer,
		notifier:       LogNotifier{},
		validate:       validator.New(),
		now:            time.Now,
		policy:         cfg.Retry,
		mode:           cfg.Mode,
		sweepMinAge:    cfg.SweepMinAge,
		sweepBatchSize: cfg.SweepBatchSize,
	}
	e.RegisterParser(StripeParser{})
	e.RegisterParser(PatreonParser{})
	return e
}

// RegisterParser adds or replaces the parser for p.Provider().
func (e *Engine) RegisterParser(p Parser) {
	e.parsers[p.Provider()] = p
}

// SetScheduler sets where retries and async dispatches go.
func (e *Engine) SetScheduler(s Scheduler) {
	e.scheduler = s
}

// SetNotifier replaces the post-commit notifier.
func (e *Engine) SetNotifier(n Notifier) {
	e.notifier = n
}

// SetClock overrides the time source (tests).
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
	e.store.now = now
}

func (e *Engine) Store() *EventStore {
	return e.store
}

func (e *Engine) Ledger() *Ledger {
	return e.ledger
}

func (e *Engine) Policy() RetryPolicy {
	return e.policy
}

// Dispatch hands a freshly recorded event to processing: synchronously in
// inline mode, otherwise through the scheduler.
func (e *Engine) Dispatch(ctx context.Context, eventID uint) error {
	if e.mode == ModeInline || e.scheduler == nil {
		result, err := e.Process(ctx, eventID)
		if err != nil {
			return err
		}
		if result.Err != nil {
			log.Warnf("[Reconcile] Event %d: %s (%v)", eventID, result.Outcome, result.Err)
		}
		return nil
	}
	return e.scheduler.Schedule(ctx, eventID, 0)
}

// DispatchDue re-dispatches unprocessed events whose retry is due, and
// events that were recorded but never processed. It returns how many events
// were dispatched.
func (e *Engine) DispatchDue(ctx context.Context) (int, error) {
	events, err := e.store.ListDue(ctx, e.sweepMinAge, e.policy.MaxAttempts, e.sweepBatchSize)
	if err != nil {
		return 0, err
	}
	dispatched := 0
	for _, event := range events {
		var err error
		if e.scheduler != nil {
			err = e.scheduler.Schedule(ctx, event.ID, 0)
		} else {
			_, err = e.Process(ctx, event.ID)
		}
		if err != nil {
			log.Errorf("[Reconcile] Failed to dispatch due event %d: %v", event.ID, err)
			continue
		}
		dispatched++
	}
	if dispatched > 0 {
		log.Infof("[Reconcile] Re-dispatched %d due events", dispatched)
	}
	return dispatched, nil
}

// Process runs one automatic attempt for the event. Frozen events are
// skipped. The returned error is reserved for infrastructure failures while
// loading or updating the event row itself; reconciliation failures are
// reported in ProcessResult.
func (e *Engine) Process(ctx context.Context, eventID uint) (*ProcessResult, error) {
	return e.process(ctx, eventID, false)
}

// Retry replays a stored event on operator request. Unlike Process it also
// runs events that are frozen after a fatal error or exhausted retries.
func (e *Engine) Retry(ctx context.Context, eventID uint) (*ProcessResult, error) {
	return e.process(ctx, eventID, true)
}

func (e *Engine) process(ctx context.Context, eventID uint, manual bool) (*ProcessResult, error) {
	event, err := e.store.Get(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if event.Processed {
		log.Debugf("[Reconcile] Event %d already processed", event.ID)
		return &ProcessResult{EventID: event.ID, Outcome: OutcomeAlreadyProcessed, Attempts: event.ProcessingAttempts}, nil
	}
	if !manual && event.IsFrozen(e.policy.MaxAttempts) {
		log.Debugf("[Reconcile] Event %d is frozen (%s, %d attempts)", event.ID, event.FailureKind, event.ProcessingAttempts)
		outcome := OutcomeExhausted
		if event.FailureKind == models.WebhookFailureFatal {
			outcome = OutcomeFatal
		}
		return &ProcessResult{EventID: event.ID, Outcome: outcome, Attempts: event.ProcessingAttempts}, nil
	}

	started := time.Now()
	result, err := e.Handle(ctx, event)
	var change *entitlements.Change
	if err == nil && result.UserID != 0 && e.syncer != nil {
		change, err = e.syncer.SyncUser(ctx, result.UserID)
		if errors.Is(err, entitlements.ErrUserNotFound) {
			err = Fatal(err)
		} else {
			err = Retryable(err)
		}
	}
	metrics.ReconcileDuration.WithLabelValues(event.Provider).Observe(time.Since(started).Seconds())

	kind := KindUnknown
	if result != nil {
		kind = result.Kind
	}
	out := &ProcessResult{EventID: event.ID, Attempts: event.ProcessingAttempts + 1, Result: result, Err: err}

	if err == nil {
		if err := e.store.MarkProcessed(ctx, event.ID, kind, result.UserID, result.SubscriptionID); err != nil {
			return nil, fmt.Errorf("mark event %d processed: %w", event.ID, err)
		}
		out.Outcome = OutcomeApplied
		metrics.ReconcileOutcomesTotal.WithLabelValues(string(kind), string(out.Outcome)).Inc()
		log.Infof("[Reconcile] Event %d (%s %s) processed: %s", event.ID, event.Provider, kind, result.Reason)
		e.notify(ctx, event, result, change)
		return out, nil
	}

	var next *time.Time
	switch {
	case IsFatal(err):
		out.Outcome = OutcomeFatal
		log.Errorf("[Reconcile] Event %d (%s %s) failed permanently: %v", event.ID, event.Provider, event.EventType, err)
	case e.policy.Exhausted(out.Attempts):
		out.Outcome = OutcomeExhausted
		log.Errorf("[Reconcile] Event %d (%s %s) gave up after %d attempts: %v", event.ID, event.Provider, event.EventType, out.Attempts, err)
	default:
		out.Outcome = OutcomeRetryScheduled
		at := e.now().Add(e.policy.Delay(out.Attempts)).UTC()
		next = &at
		out.NextAttemptAt = next
		log.Warnf("[Reconcile] Event %d (%s %s) attempt %d failed, retrying at %s: %v",
			event.ID, event.Provider, event.EventType, out.Attempts, at.Format(time.RFC3339), err)
	}

	if err := e.store.MarkFailed(ctx, event.ID, kind, out.Err, event.ProcessingAttempts, next); err != nil {
		if errors.Is(err, ErrAttemptSuperseded) {
			// A concurrent attempt on the same event already counted.
			log.Debugf("[Reconcile] Event %d attempt %d superseded: %v", event.ID, out.Attempts, out.Err)
			out.Outcome = OutcomeSuperseded
			out.NextAttemptAt = nil
			metrics.ReconcileOutcomesTotal.WithLabelValues(string(kind), string(out.Outcome)).Inc()
			return out, nil
		}
		return nil, fmt.Errorf("mark event %d failed: %w", event.ID, err)
	}
	metrics.ReconcileOutcomesTotal.WithLabelValues(string(kind), string(out.Outcome)).Inc()
	if next != nil && e.scheduler != nil {
		if err := e.scheduler.Schedule(ctx, event.ID, next.Sub(e.now())); err != nil {
			// The sweeper still finds the event through NextAttemptAt.
			log.Errorf("[Reconcile] Failed to schedule retry for event %d: %v", event.ID, err)
		}
	}
	return out, nil
}

// Handle applies one stored event to the ledger. It returns nil, a
// *RetryableError or a *FatalError. The result is non-nil whenever the
// payload could be parsed.
func (e *Engine) Handle(ctx context.Context, event *models.BillingWebhookEvent) (*HandleResult, error) {
	parser, ok := e.parsers[event.Provider]
	if !ok {
		return nil, Fatal(fmt.Errorf("%w: %q", ErrUnknownProvider, event.Provider))
	}
	ne, err := parser.Parse(event.EventType, []byte(event.PayloadJSON), event.ReceivedAt)
	if err != nil {
		return nil, Fatal(fmt.Errorf("parse %s %s: %w", event.Provider, event.EventType, err))
	}
	result := &HandleResult{Kind: ne.Kind}
	if err := e.validate.Struct(ne); err != nil {
		return result, Fatal(fmt.Errorf("invalid %s event: %w", ne.Kind, err))
	}

	if ne.Kind == KindUnknown {
		log.Debugf("[Reconcile] Ignoring unsupported %s event type %q", event.Provider, event.EventType)
		result.Reason = "unsupported_type"
		return result, nil
	}
	if ne.Kind.CarriesSubscriptionState() && (ne.ProviderSubscriptionID == "" || ne.Subscription == nil) {
		return result, Fatal(fmt.Errorf("%s event without subscription", ne.Kind))
	}
	if ne.ProviderSubscriptionID == "" {
		// One-off invoices do not touch the subscription ledger.
		result.Reason = "no_subscription"
		return result, nil
	}

	userID, err := e.resolveUser(ctx, ne)
	if err != nil {
		return result, err
	}
	result.UserID = userID

	if ne.Kind == KindTrialWillEnd {
		head, err := e.repo.GetSubscription(ctx, ne.Provider, ne.ProviderSubscriptionID)
		if err == nil {
			result.SubscriptionID = head.ID
		}
		result.Reason = "notification_only"
		return result, nil
	}

	eventID := event.ID
	applied, err := e.ledger.Apply(ctx, Transition{
		UserID:                 userID,
		Provider:               ne.Provider,
		ProviderSubscriptionID: ne.ProviderSubscriptionID,
		ProviderCustomerID:     ne.ProviderCustomerID,
		Kind:                   ne.Kind,
		EffectiveAt:            ne.EffectiveAt,
		State:                  ne.Subscription,
		PeriodEnd:              ne.PeriodEnd,
		WebhookEventID:         &eventID,
		Source:                 models.RevisionSourceWebhook,
		Reason:                 event.EventType,
	})
	if err != nil {
		return result, err
	}
	result.SubscriptionID = applied.Subscription.ID
	result.Changed = applied.Changed
	result.Reason = applied.Reason
	if applied.Subscription.UserID != 0 {
		result.UserID = applied.Subscription.UserID
	}
	return result, nil
}

// resolveUser maps the provider customer to an internal user: the linked
// billing account first, then a user id carried in provider metadata (which
// links the account), then the owner of an existing ledger head.
func (e *Engine) resolveUser(ctx context.Context, ne *NormalizedEvent) (uint, error) {
	if ne.ProviderCustomerID != "" {
		account, err := e.repo.GetBillingAccountByProviderAccountID(ctx, ne.Provider, ne.ProviderCustomerID)
		if err == nil {
			return account.UserID, nil
		}
		if !errors.Is(err, ErrAccountNotFound) {
			return 0, Retryable(fmt.Errorf("load billing account: %w", err))
		}
	}

	if ref := strings.TrimSpace(ne.UserRef); ref != "" {
		id, err := strconv.ParseUint(ref, 10, 64)
		if err != nil || id == 0 {
			return 0, Fatal(fmt.Errorf("%w: invalid user reference %q", ErrUnresolvableCustomer, ref))
		}
		userID := uint(id)
		if ne.ProviderCustomerID != "" {
			if _, err := e.LinkAccount(ctx, userID, ne.Provider, ne.ProviderCustomerID, ne.Email); err != nil {
				return 0, Retryable(err)
			}
		}
		return userID, nil
	}

	head, err := e.repo.GetSubscription(ctx, ne.Provider, ne.ProviderSubscriptionID)
	if err == nil && head.UserID != 0 {
		return head.UserID, nil
	}
	if err != nil && !errors.Is(err, ErrSubscriptionNotFound) {
		return 0, Retryable(fmt.Errorf("load subscription head: %w", err))
	}
	if !ne.Kind.CarriesSubscriptionState() {
		// Invoices can arrive before the subscription that owns them.
		return 0, Retryable(fmt.Errorf("%w: %s/%s", ErrSubscriptionNotFound, ne.Provider, ne.ProviderSubscriptionID))
	}
	return 0, Fatal(fmt.Errorf("%w: %s customer %q", ErrUnresolvableCustomer, ne.Provider, ne.ProviderCustomerID))
}

// LinkAccount creates or moves the provider customer link for a user.
func (e *Engine) LinkAccount(ctx context.Context, userID uint, provider, providerAccountID, email string) (*models.BillingAccount, error) {
	p := strings.ToLower(strings.TrimSpace(provider))
	paID := strings.TrimSpace(providerAccountID)
	if userID == 0 || p == "" || paID == "" {
		return nil, errors.New("user_id, provider and provider_account_id are required")
	}
	if _, ok := e.parsers[p]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, p)
	}
	account := &models.BillingAccount{
		UserID:            userID,
		Provider:          p,
		ProviderAccountID: paID,
		Email:             strings.TrimSpace(email),
	}
	if err := e.repo.UpsertBillingAccount(ctx, account); err != nil {
		return nil, fmt.Errorf("link %s customer %s to user %d: %w", p, paID, userID, err)
	}
	return account, nil
}

// Override forces a subscription status on behalf of an operator and
// resyncs the owner's role.
func (e *Engine) Override(ctx context.Context, subscriptionID uint, status, reason string) (*ApplyResult, *entitlements.Change, error) {
	applied, err := e.ledger.Override(ctx, subscriptionID, status, reason, e.now())
	if err != nil {
		return nil, nil, err
	}
	if e.syncer == nil || applied.Subscription.UserID == 0 {
		return applied, nil, nil
	}
	change, err := e.syncer.SyncUser(ctx, applied.Subscription.UserID)
	if err != nil {
		return applied, nil, err
	}
	log.Infof("[Reconcile] Subscription %d overridden to %s: %s", subscriptionID, status, reason)
	if e.notifier != nil && change.Changed() {
		n := Notification{
			UserID:         change.UserID,
			Kind:           KindSubscriptionUpdated,
			Provider:       applied.Subscription.Provider,
			SubscriptionID: applied.Subscription.ID,
			PreviousRole:   change.Previous,
			CurrentRole:    change.Current,
		}
		if err := e.notifier.Notify(ctx, n); err != nil {
			log.Warnf("[Notify] Override notification for user %d failed: %v", change.UserID, err)
		}
	}
	return applied, change, nil
}

func (e *Engine) notify(ctx context.Context, event *models.BillingWebhookEvent, result *HandleResult, change *entitlements.Change) {
	if e.notifier == nil || result == nil || result.UserID == 0 {
		return
	}
	n := Notification{
		UserID:         result.UserID,
		Kind:           result.Kind,
		Provider:       event.Provider,
		EventID:        event.ID,
		SubscriptionID: result.SubscriptionID,
	}
	if change != nil {
		n.PreviousRole = change.Previous
		n.CurrentRole = change.Current
	}
	if err := e.notifier.Notify(ctx, n); err != nil {
		log.Warnf("[Notify] Notification for event %d failed: %v", event.ID, err)
	}
}

// SweepGrace resyncs users whose subscriptions sit in a time-dependent
// state. Grace windows lapse without any provider event, so the stored
// role projection would otherwise keep paid access until the next
// delivery. Only subscriptions whose state changed within lookback are
// considered.
func (e *Engine) SweepGrace(ctx context.Context, lookback time.Duration) (int, error) {
	if e.syncer == nil {
		return 0, nil
	}
	since := e.now().Add(-lookback)
	userIDs, err := e.repo.ListUserIDsByStatus(ctx, []string{
		models.BillingStatusTrialing,
		models.BillingStatusPastDue,
		models.BillingStatusCanceled,
		models.BillingStatusUnpaid,
	}, since)
	if err != nil {
		return 0, fmt.Errorf("list users in grace: %w", err)
	}

	changed := 0
	for _, userID := range userIDs {
		if err := ctx.Err(); err != nil {
			return changed, err
		}
		change, err := e.syncer.SyncUser(ctx, userID)
		if err != nil {
			log.Warnf("[Reconcile] Grace sweep could not sync user %d: %v", userID, err)
			continue
		}
		if change.Changed() {
			changed++
			log.Infof("[Reconcile] Grace sweep moved user %d from %s to %s", userID, change.Previous, change.Current)
		}
	}
	return changed, nil
}
