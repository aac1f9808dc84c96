package entitlements

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/CopyFox/app/models"
	"github.com/ManuelReschke/CopyFox/internal/pkg/metrics"
)

var ErrUserNotFound = errors.New("user not found")

// UserStore is the slice of the user repository the service needs.
type UserStore interface {
	GetByID(ctx context.Context, id uint) (*models.User, error)
	UpdateRole(ctx context.Context, id uint, role string) error
}

// SubscriptionReader lists a user's ledger heads.
type SubscriptionReader interface {
	ListSubscriptionsByUser(ctx context.Context, userID uint) ([]models.BillingSubscription, error)
}

// Change reports the role projection before and after a sync.
type Change struct {
	UserID      uint        `json:"user_id"`
	Previous    Role        `json:"previous_role"`
	Current     Role        `json:"current_role"`
	Entitlement Entitlement `json:"entitlement"`
}

// Changed reports whether the stored role was rewritten.
func (c *Change) Changed() bool {
	return c != nil && c.Previous != c.Current
}

// Service resolves entitlements from the ledger and keeps the User.Role
// projection in sync. It is the only writer of User.Role.
type Service struct {
	users UserStore
	subs  SubscriptionReader
	now   func() time.Time

	mu  sync.RWMutex
	cfg Config
}

// NewService creates an entitlement service.
func NewService(users UserStore, subs SubscriptionReader, cfg Config) *Service {
	return &Service{users: users, subs: subs, cfg: cfg, now: time.Now}
}

// SetConfig swaps the plan catalog and grace windows.
func (s *Service) SetConfig(cfg Config) {
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
}

// Config returns the active configuration.
func (s *Service) Config() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// SetClock overrides the time source (tests).
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// ResolveUser computes the user's entitlement from the ledger, never from
// the stored role. A drifted projection is corrected on the way.
func (s *Service) ResolveUser(ctx context.Context, userID uint) (Entitlement, error) {
	change, err := s.SyncUser(ctx, userID)
	if err != nil {
		return Entitlement{}, err
	}
	return change.Entitlement, nil
}

// SyncUser resolves the user and writes User.Role when it differs from the
// resolved role.
func (s *Service) SyncUser(ctx context.Context, userID uint) (*Change, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, fmt.Errorf("%w: %d", ErrUserNotFound, userID)
	}

	heads, err := s.subs.ListSubscriptionsByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions for user %d: %w", userID, err)
	}
	snapshots := make([]*Snapshot, 0, len(heads))
	for i := range heads {
		snapshots = append(snapshots, SnapshotFromModel(&heads[i]))
	}

	ent := ResolveAll(snapshots, user.AccessGranted, s.Config(), s.now())
	previous, _ := ParseRole(user.Role)
	if user.Role == "" {
		previous = RoleFree
	}
	change := &Change{UserID: userID, Previous: previous, Current: ent.Role, Entitlement: ent}

	if user.Role != string(ent.Role) {
		if err := s.users.UpdateRole(ctx, userID, string(ent.Role)); err != nil {
			return nil, fmt.Errorf("update role projection for user %d: %w", userID, err)
		}
		metrics.RoleChangesTotal.WithLabelValues(string(previous), string(ent.Role)).Inc()
		log.Infof("[Entitlements] User %d role %s -> %s (%s)", userID, user.Role, ent.Role, ent.State)
	}
	return change, nil
}
