package entitlements

import (
	"time"

	"github.com/ManuelReschke/CopyFox/app/models"
)

type State string

const (
	StateFree      State = "free"
	StateActive    State = "active"
	StateTrialing  State = "trialing"
	StateGrace     State = "grace"
	StateExpired   State = "expired"
	StateSuspended State = "suspended"
)

// Snapshot is the subscription state the resolver needs.
type Snapshot struct {
	Status           string
	PlanID           string
	CurrentPeriodEnd *time.Time
	CanceledAt       *time.Time
	EndedAt          *time.Time
	PastDueSince     *time.Time
	StateChangedAt   time.Time
}

// SnapshotFromModel copies the resolver inputs out of a ledger head.
func SnapshotFromModel(sub *models.BillingSubscription) *Snapshot {
	if sub == nil {
		return nil
	}
	return &Snapshot{
		Status:           sub.Status,
		PlanID:           sub.PlanID,
		CurrentPeriodEnd: sub.CurrentPeriodEnd,
		CanceledAt:       sub.CanceledAt,
		EndedAt:          sub.EndedAt,
		PastDueSince:     sub.PastDueSince,
		StateChangedAt:   sub.StateChangedAt,
	}
}

// Entitlement is the resolved access level of a user at one instant.
type Entitlement struct {
	Role        Role       `json:"role"`
	Limits      Limits     `json:"limits"`
	State       State      `json:"state"`
	PlanID      string     `json:"plan_id,omitempty"`
	GraceEndsAt *time.Time `json:"grace_ends_at,omitempty"`
}

func free(state State) Entitlement {
	return Entitlement{Role: RoleFree, Limits: LimitsFor(RoleFree), State: state}
}

// Resolve maps a subscription snapshot to an entitlement. It is pure: the
// same inputs always produce the same output.
func Resolve(sub *Snapshot, accessGranted bool, cfg Config, now time.Time) Entitlement {
	if !accessGranted {
		return Entitlement{Role: RoleSuspended, Limits: LimitsFor(RoleSuspended), State: StateSuspended}
	}
	if sub == nil {
		return free(StateFree)
	}

	role, ok := cfg.RoleForPlan(sub.PlanID)
	if !ok {
		// Unknown plans never grant paid access.
		return free(StateFree)
	}
	paid := Entitlement{Role: role, Limits: LimitsFor(role), PlanID: sub.PlanID}

	switch sub.Status {
	case models.BillingStatusActive:
		paid.State = StateActive
		return paid
	case models.BillingStatusTrialing:
		paid.State = StateTrialing
		return paid
	case models.BillingStatusPastDue:
		// The grace window runs from the failed payment, not from the end of
		// the period the provider has already advanced into.
		anchor := sub.StateChangedAt
		if sub.PastDueSince != nil {
			anchor = *sub.PastDueSince
		}
		ends := anchor.Add(cfg.PastDueGrace)
		if now.Before(ends) {
			paid.State = StateGrace
			paid.GraceEndsAt = &ends
			return paid
		}
		out := free(StateExpired)
		out.PlanID = sub.PlanID
		return out
	case models.BillingStatusCanceled, models.BillingStatusUnpaid:
		anchor := sub.StateChangedAt
		switch {
		case sub.EndedAt != nil:
			anchor = *sub.EndedAt
		case sub.CanceledAt != nil:
			anchor = *sub.CanceledAt
		}
		ends := anchor.Add(cfg.CanceledGrace)
		if cfg.CanceledGrace > 0 && now.Before(ends) {
			paid.State = StateGrace
			paid.GraceEndsAt = &ends
			return paid
		}
		out := free(StateExpired)
		out.PlanID = sub.PlanID
		return out
	default:
		return free(StateFree)
	}
}

// ResolveAll resolves every subscription of a user and keeps the highest
// ranked result. Suspension overrides everything.
func ResolveAll(subs []*Snapshot, accessGranted bool, cfg Config, now time.Time) Entitlement {
	if !accessGranted {
		return Resolve(nil, false, cfg, now)
	}
	best := Resolve(nil, true, cfg, now)
	for _, sub := range subs {
		e := Resolve(sub, true, cfg, now)
		switch {
		case e.Role.Rank() > best.Role.Rank():
			best = e
		case e.Role == best.Role && best.State == StateFree && e.State == StateExpired:
			// Report that a subscription lapsed rather than plain free.
			best = e
		}
	}
	return best
}
