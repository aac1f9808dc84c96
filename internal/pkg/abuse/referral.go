package abuse

import (
	"context"
	"fmt"

	"github.com/ManuelReschke/CopyFox/app/models"
)

// ReferralCheck describes a referred user claiming a referrer's code.
type ReferralCheck struct {
	ReferrerID uint
	ReferredID uint
	Attempt    Attempt
}

// ReferralDecision is the advisory result of a referral that was not
// rejected outright.
type ReferralDecision struct {
	Flagged   bool                 `json:"flagged"`
	RiskScore int                  `json:"risk_score"`
	Signals   []models.AbuseSignal `json:"-"`
}

// ReferralValidator rejects self-referrals and flags referrals whose two
// sides were seen on the same device or network.
type ReferralValidator struct {
	store Store
}

func NewReferralValidator(store Store) *ReferralValidator {
	return &ReferralValidator{store: store}
}

// Validate returns ErrReferralRejected for self-referrals before reading or
// writing anything.
func (v *ReferralValidator) Validate(ctx context.Context, check ReferralCheck) (*ReferralDecision, error) {
	if check.ReferrerID == 0 || check.ReferredID == 0 || check.ReferrerID == check.ReferredID {
		return nil, ErrReferralRejected
	}
	a := check.Attempt.normalized()

	referrer, err := v.store.ListFingerprintsByUser(ctx, check.ReferrerID)
	if err != nil {
		return nil, fmt.Errorf("list referrer fingerprints: %w", err)
	}
	referred, err := v.store.ListFingerprintsByUser(ctx, check.ReferredID)
	if err != nil {
		return nil, fmt.Errorf("list referred fingerprints: %w", err)
	}

	fps := map[string]bool{}
	ips := map[string]bool{}
	if a.Fingerprint != "" {
		fps[a.Fingerprint] = true
	}
	if a.IP != "" {
		ips[a.IP] = true
	}
	for _, fp := range referred {
		if fp.Fingerprint != "" {
			fps[fp.Fingerprint] = true
		}
		if fp.IPAddress != "" {
			ips[fp.IPAddress] = true
		}
	}

	sharedFingerprint, sharedIP := false, false
	for _, fp := range referrer {
		if fp.Fingerprint != "" && fps[fp.Fingerprint] {
			sharedFingerprint = true
		}
		if fp.IPAddress != "" && ips[fp.IPAddress] {
			sharedIP = true
		}
	}

	decision := &ReferralDecision{}
	switch {
	case sharedFingerprint:
		decision.Signals = append(decision.Signals, newSignal(a, models.AbuseSignalSelfReferral, models.AbuseSeverityHigh,
			fmt.Sprintf("referrer %d and referred user share a device fingerprint", check.ReferrerID)))
	case sharedIP:
		decision.Signals = append(decision.Signals, newSignal(a, models.AbuseSignalSelfReferral, models.AbuseSeverityMedium,
			fmt.Sprintf("referrer %d and referred user share an ip address", check.ReferrerID)))
	}
	decision.Flagged = len(decision.Signals) > 0
	decision.RiskScore = models.RiskScore(decision.Signals)
	return decision, nil
}
