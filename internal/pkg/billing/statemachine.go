package billing

import (
	"fmt"
	"strings"

	"github.com/ManuelReschke/CopyFox/app/models"
)

var allowedTransitions = map[string]map[string]bool{
	models.BillingStatusTrialing: {
		models.BillingStatusActive:   true,
		models.BillingStatusPastDue:  true,
		models.BillingStatusUnpaid:   true,
		models.BillingStatusCanceled: true,
	},
	models.BillingStatusActive: {
		models.BillingStatusPastDue:  true,
		models.BillingStatusUnpaid:   true,
		models.BillingStatusCanceled: true,
	},
	models.BillingStatusPastDue: {
		models.BillingStatusActive:   true,
		models.BillingStatusUnpaid:   true,
		models.BillingStatusCanceled: true,
	},
}

// IsKnownStatus reports whether status is one of the ledger states.
func IsKnownStatus(status string) bool {
	switch status {
	case models.BillingStatusTrialing, models.BillingStatusActive, models.BillingStatusPastDue,
		models.BillingStatusCanceled, models.BillingStatusUnpaid:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether status has no way back to a paying state.
func IsTerminal(status string) bool {
	return status == models.BillingStatusCanceled || status == models.BillingStatusUnpaid
}

// CanTransition reports whether the ledger may move from one status to
// another. Self-transitions of non-terminal states are allowed so plan and
// period changes can be recorded. An unpaid subscription can still be
// canceled; canceled is final.
func CanTransition(from, to string) bool {
	if !IsKnownStatus(from) || !IsKnownStatus(to) {
		return false
	}
	if from == models.BillingStatusUnpaid && to == models.BillingStatusCanceled {
		return true
	}
	if IsTerminal(from) {
		return false
	}
	if from == to {
		return true
	}
	if to == models.BillingStatusCanceled {
		return true
	}
	return allowedTransitions[from][to]
}

// MapStripeStatus maps a Stripe subscription status onto the ledger states.
func MapStripeStatus(status string) (string, error) {
	switch s := strings.ToLower(strings.TrimSpace(status)); s {
	case models.BillingStatusTrialing, models.BillingStatusActive, models.BillingStatusPastDue,
		models.BillingStatusCanceled, models.BillingStatusUnpaid:
		return s, nil
	case "incomplete", "paused":
		return models.BillingStatusPastDue, nil
	case "incomplete_expired":
		return models.BillingStatusCanceled, nil
	default:
		return "", fmt.Errorf("unknown stripe subscription status %q", status)
	}
}

// PatreonMembershipToBillingStatus maps a Patreon patron_status onto the
// ledger states.
func PatreonMembershipToBillingStatus(patronStatus string, isFollower bool) (string, error) {
	switch strings.ToLower(strings.TrimSpace(patronStatus)) {
	case "active_patron", "active_member", "free_member":
		return models.BillingStatusActive, nil
	case "declined_patron":
		return models.BillingStatusPastDue, nil
	case "former_patron":
		return models.BillingStatusCanceled, nil
	case "":
		if isFollower {
			// Followers never paid; treat them as ended memberships.
			return models.BillingStatusCanceled, nil
		}
		return models.BillingStatusActive, nil
	default:
		return "", fmt.Errorf("unknown patreon patron_status %q", patronStatus)
	}
}
